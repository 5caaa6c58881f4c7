package domain

import "math/big"

// PositionInfo is the fully derived view of a position. It is rebuilt from
// scratch on every recompute and never patched, so a changed pointer means
// changed content.
//
// Nil pointer figures are undefined: the value cannot currently be
// displayed, which is different from zero.
type PositionInfo struct {
	Position

	MarketInfo      MarketInfo
	IndexToken      TokenData
	CollateralToken TokenData
	PnlToken        TokenData

	MarkPrice  *big.Int
	EntryPrice *big.Int // nil when sizeInTokens is zero

	PendingFundingFeesUsd          *big.Int
	PendingClaimableFundingFeesUsd *big.Int
	TotalPendingFeesUsd            *big.Int
	ClosingPriceImpactDeltaUsd     *big.Int
	ClosingFeeUsd                  *big.Int
	UIFeeUsd                       *big.Int

	CollateralUsd             *big.Int
	RemainingCollateralUsd    *big.Int
	RemainingCollateralAmount *big.Int

	Pnl                    *big.Int
	PnlPercentage          *big.Int
	PnlAfterFees           *big.Int
	PnlAfterFeesPercentage *big.Int
	NetValue               *big.Int

	Leverage           *big.Int // basis points; nil when insolvent
	LeverageWithPnl    *big.Int
	LeverageWithoutPnl *big.Int
	HasLowCollateral   bool

	LiquidationPrice *big.Int // nil when there is no finite positive price

	// EstimatedLiquidationTimeHours is nil while opening, when no fee
	// accrues, or without a minimum collateral constant.
	EstimatedLiquidationTimeHours *big.Int
}
