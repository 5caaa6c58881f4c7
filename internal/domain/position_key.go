package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PositionKey identifies a position by account, market, collateral token and
// direction.
type PositionKey struct {
	Account         common.Address
	Market          common.Address
	CollateralToken common.Address
	IsLong          bool
}

var positionKeyArgs abi.Arguments

func init() {
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(fmt.Sprintf("domain: abi address type: %v", err))
	}
	boolTy, err := abi.NewType("bool", "", nil)
	if err != nil {
		panic(fmt.Sprintf("domain: abi bool type: %v", err))
	}
	positionKeyArgs = abi.Arguments{
		{Type: addressTy},
		{Type: addressTy},
		{Type: addressTy},
		{Type: boolTy},
	}
}

// Hash returns keccak256(abi.encode(account, market, collateralToken, isLong))
// as a 0x-prefixed hex string, the same key the ledger stores positions under.
func (k PositionKey) Hash() string {
	packed, err := positionKeyArgs.Pack(k.Account, k.Market, k.CollateralToken, k.IsLong)
	if err != nil {
		// Static types with typed Go values cannot fail to pack.
		panic(fmt.Sprintf("domain: pack position key: %v", err))
	}
	return crypto.Keccak256Hash(packed).Hex()
}

// String renders the unhashed identity, useful in logs.
func (k PositionKey) String() string {
	side := "short"
	if k.IsLong {
		side = "long"
	}
	return fmt.Sprintf("%s:%s:%s:%s", k.Account.Hex(), k.Market.Hex(), k.CollateralToken.Hex(), side)
}

// ParseAddress validates and converts a hex string into an address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
