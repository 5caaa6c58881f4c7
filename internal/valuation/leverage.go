package valuation

import (
	"math/big"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/fixed"
)

// defaultMaxLeverage (100x in basis points) applies to markets without a
// configured min collateral factor.
var defaultMaxLeverage = big.NewInt(100 * 10_000)

// Leverage returns sizeInUsd over remaining collateral, in basis points.
// pnl may be nil to compute leverage without P&L. The result is nil when the
// remaining collateral is not positive.
func Leverage(sizeInUsd, collateralUsd, pnl, pendingBorrowingFeesUsd, pendingFundingFeesUsd *big.Int) *big.Int {
	pendingFeesUsd := PendingFeesUsd(pendingFundingFeesUsd, pendingBorrowingFeesUsd)

	remaining := fixed.Add(collateralUsd, pnl)
	remaining.Sub(remaining, pendingFeesUsd)
	if remaining.Sign() <= 0 {
		return nil
	}
	return fixed.MulDiv(sizeInUsd, fixed.BasisPointsDivisor, remaining)
}

// MaxAllowedLeverage is the leverage, in basis points, at which a position
// of the market sits exactly at its min collateral factor.
func MaxAllowedLeverage(market domain.MarketInfo) *big.Int {
	factor := market.MinCollateralFactor
	if factor == nil || factor.Sign() <= 0 {
		return fixed.Copy(defaultMaxLeverage)
	}
	return fixed.MulDiv(fixed.Precision, fixed.BasisPointsDivisor, factor)
}

// MinCollateralFactorForPosition returns the min collateral factor that
// applies to the position after its side's open interest grows by
// openInterestDelta.
func MinCollateralFactorForPosition(info domain.PositionInfo, openInterestDelta *big.Int) *big.Int {
	market := info.MarketInfo

	interest := market.ShortInterestUsd
	multiplier := market.MinCollateralFactorForOpenInterestShort
	if info.IsLong {
		interest = market.LongInterestUsd
		multiplier = market.MinCollateralFactorForOpenInterestLong
	}

	nextInterest := fixed.Add(interest, openInterestDelta)
	forOpenInterest := fixed.MulDiv(nextInterest, fixed.OrZero(multiplier), fixed.Precision)
	return fixed.Max(market.MinCollateralFactor, forOpenInterest)
}
