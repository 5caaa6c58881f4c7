package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

// usdDecimals is the scale of USD values and factors inside the engine.
const usdDecimals = 30

// parseScaled converts a decimal string such as "1.5" into an integer with
// usdDecimals implied decimals. Digits beyond that scale are truncated.
func parseScaled(field, s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid decimal %q: %w", field, s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%s: must not be negative, got %s", field, s)
	}
	return d.Shift(usdDecimals).Truncate(0).BigInt(), nil
}

// ProtocolConstants converts the protocol section into engine units.
func (c *Config) ProtocolConstants() (domain.ProtocolConstants, error) {
	minCollateral, err := parseScaled("min_collateral_usd", c.Protocol.MinCollateralUsd)
	if err != nil {
		return domain.ProtocolConstants{}, err
	}
	minSize, err := parseScaled("min_position_size_usd", c.Protocol.MinPositionSizeUsd)
	if err != nil {
		return domain.ProtocolConstants{}, err
	}
	return domain.ProtocolConstants{
		MinCollateralUsd:    minCollateral,
		MinPositionSizeUsd:  minSize,
		MaxAutoCancelOrders: c.Protocol.MaxAutoCancelOrders,
	}, nil
}

// UIFeeFactor returns the configured interface fee as a 30-decimal factor.
func (c *Config) UIFeeFactor() (*big.Int, error) {
	f, err := parseScaled("ui_fee_factor", c.Engine.UIFeeFactor)
	if err != nil {
		return nil, err
	}
	if f.Cmp(new(big.Int).Exp(big.NewInt(10), big.NewInt(usdDecimals), nil)) > 0 {
		return nil, fmt.Errorf("ui_fee_factor: must not exceed 1, got %s", c.Engine.UIFeeFactor)
	}
	return f, nil
}

// TrackedAccounts returns the tracked accounts as addresses. Entries that are
// not valid addresses are skipped; Validate reports them.
func (c *Config) TrackedAccounts() []common.Address {
	out := make([]common.Address, 0, len(c.Account.Tracked))
	for _, a := range c.Account.Tracked {
		if common.IsHexAddress(a) {
			out = append(out, common.HexToAddress(a))
		}
	}
	return out
}
