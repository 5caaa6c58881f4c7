package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a confirmed on-chain position, or a synthetic one materialized
// from a pending increase before the ledger confirms it. Amounts are scaled
// integers: USD values carry 30 decimals, token amounts the token's decimals.
type Position struct {
	Key                    string
	Account                common.Address
	MarketAddress          common.Address
	CollateralTokenAddress common.Address
	IsLong                 bool

	SizeInUsd        *big.Int
	SizeInTokens     *big.Int
	CollateralAmount *big.Int

	PendingBorrowingFeesUsd   *big.Int
	FundingFeeAmount          *big.Int
	ClaimableLongTokenAmount  *big.Int
	ClaimableShortTokenAmount *big.Int

	// IncreasedAtTime and DecreasedAtTime are opaque, totally ordered markers.
	IncreasedAtTime uint64
	DecreasedAtTime uint64

	PendingUpdate *PendingUpdate
	IsOpening     bool
}

// PositionKey returns the identity tuple of the position.
func (p Position) PositionKey() PositionKey {
	return PositionKey{
		Account:         p.Account,
		Market:          p.MarketAddress,
		CollateralToken: p.CollateralTokenAddress,
		IsLong:          p.IsLong,
	}
}

// Clone returns a deep copy so callers can derive a new value without
// touching the original.
func (p Position) Clone() Position {
	out := p
	out.SizeInUsd = cloneInt(p.SizeInUsd)
	out.SizeInTokens = cloneInt(p.SizeInTokens)
	out.CollateralAmount = cloneInt(p.CollateralAmount)
	out.PendingBorrowingFeesUsd = cloneInt(p.PendingBorrowingFeesUsd)
	out.FundingFeeAmount = cloneInt(p.FundingFeeAmount)
	out.ClaimableLongTokenAmount = cloneInt(p.ClaimableLongTokenAmount)
	out.ClaimableShortTokenAmount = cloneInt(p.ClaimableShortTokenAmount)
	if p.PendingUpdate != nil {
		pu := p.PendingUpdate.Clone()
		out.PendingUpdate = &pu
	}
	return out
}

// PendingUpdate is a short-lived hint registered right after a mutation is
// submitted and before the ledger confirms it. The deltas are optional.
type PendingUpdate struct {
	PositionKey           string
	IsIncrease            bool
	SizeDeltaUsd          *big.Int
	SizeDeltaInTokens     *big.Int
	CollateralDeltaAmount *big.Int
	UpdatedAtBlock        uint64
	UpdatedAt             time.Time
}

// Clone returns a deep copy of the update.
func (u PendingUpdate) Clone() PendingUpdate {
	out := u
	out.SizeDeltaUsd = cloneInt(u.SizeDeltaUsd)
	out.SizeDeltaInTokens = cloneInt(u.SizeDeltaInTokens)
	out.CollateralDeltaAmount = cloneInt(u.CollateralDeltaAmount)
	return out
}

// PositionEventKind distinguishes increase and decrease ledger events.
type PositionEventKind string

const (
	PositionEventIncrease PositionEventKind = "increase"
	PositionEventDecrease PositionEventKind = "decrease"
)

// PositionEvent is an immutable ledger event carrying the authoritative
// post-mutation size and collateral of a position.
type PositionEvent struct {
	Kind             PositionEventKind
	PositionKey      string
	Account          common.Address
	SizeInUsd        *big.Int
	SizeInTokens     *big.Int
	CollateralAmount *big.Int
	IncreasedAtTime  uint64
	DecreasedAtTime  uint64
}

// Marker returns the ordering token relevant to the event's kind.
func (e PositionEvent) Marker() uint64 {
	if e.Kind == PositionEventIncrease {
		return e.IncreasedAtTime
	}
	return e.DecreasedAtTime
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
