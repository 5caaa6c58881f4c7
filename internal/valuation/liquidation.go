package valuation

import (
	"math/big"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/fixed"
)

// LiquidationParams describes the position whose liquidation price is
// wanted. Nil amounts count as zero.
type LiquidationParams struct {
	Market          domain.MarketInfo
	CollateralToken domain.TokenData
	IsLong          bool

	SizeInUsd        *big.Int
	SizeInTokens     *big.Int
	CollateralUsd    *big.Int
	CollateralAmount *big.Int

	PendingFundingFeesUsd   *big.Int
	PendingBorrowingFeesUsd *big.Int
	MinCollateralUsd        *big.Int
	Referral                *domain.UserReferralInfo

	// UseMaxPriceImpact assumes the worst impact allowed for liquidations
	// instead of evaluating the market's impact curve.
	UseMaxPriceImpact bool
}

// LiquidationCollateralUsd is the collateral a position must keep to avoid
// liquidation: its min collateral factor share of size, floored at the
// protocol's minimum.
func LiquidationCollateralUsd(market domain.MarketInfo, sizeInUsd, minCollateralUsd *big.Int) *big.Int {
	byFactor := fixed.ApplyFactor(sizeInUsd, fixed.OrZero(market.MinCollateralFactor))
	return fixed.Max(byFactor, minCollateralUsd)
}

// LiquidationPriceImpactUsd returns the price impact assumed when the whole
// position is closed by a liquidation. It is never positive and never worse
// than the market's max negative impact for liquidations.
func LiquidationPriceImpactUsd(market domain.MarketInfo, sizeInUsd *big.Int, isLong, useMax bool) *big.Int {
	maxNegative := fixed.Neg(fixed.ApplyFactor(sizeInUsd, fixed.OrZero(market.MaxPositionImpactFactorForLiquidations)))
	if useMax {
		return maxNegative
	}

	impact := PriceImpactForPosition(market, fixed.Neg(sizeInUsd), isLong, true)
	if impact.Cmp(maxNegative) < 0 {
		impact = maxNegative
	}
	if impact.Sign() > 0 {
		impact = fixed.Zero()
	}
	return impact
}

// LiquidationPrice returns the index price at which the position would be
// liquidated, or nil when there is no finite positive such price.
//
// When the collateral is the index token itself the collateral value moves
// with the price, so both sizes enter the denominator. Otherwise the
// collateral is treated as fixed in USD.
func LiquidationPrice(p LiquidationParams) *big.Int {
	if !fixed.IsPositive(p.SizeInUsd) || !fixed.IsPositive(p.SizeInTokens) {
		return nil
	}

	market := p.Market
	indexUnit := fixed.ExpandDecimals(1, market.IndexToken.Decimals)

	closingFeeUsd := PositionFee(market, p.SizeInUsd, false, p.Referral, nil).PositionFeeUsd
	totalPendingFeesUsd := PendingFeesUsd(p.PendingFundingFeesUsd, p.PendingBorrowingFeesUsd)
	totalFeesUsd := fixed.Add(totalPendingFeesUsd, closingFeeUsd)

	impact := LiquidationPriceImpactUsd(market, p.SizeInUsd, p.IsLong, p.UseMaxPriceImpact)
	liquidationCollateralUsd := LiquidationCollateralUsd(market, p.SizeInUsd, p.MinCollateralUsd)

	var price *big.Int
	if IsEquivalentTokens(p.CollateralToken, market.IndexToken) {
		var numerator, denominator *big.Int
		if p.IsLong {
			denominator = fixed.Add(p.SizeInTokens, p.CollateralAmount)
			numerator = fixed.Add(p.SizeInUsd, liquidationCollateralUsd)
			numerator.Sub(numerator, impact)
			numerator.Add(numerator, totalFeesUsd)
		} else {
			denominator = fixed.Sub(p.SizeInTokens, p.CollateralAmount)
			numerator = fixed.Sub(p.SizeInUsd, liquidationCollateralUsd)
			numerator.Add(numerator, impact)
			numerator.Sub(numerator, totalFeesUsd)
		}
		if denominator.Sign() == 0 {
			return nil
		}
		price = fixed.Quo(numerator, denominator)
	} else {
		remainingCollateralUsd := fixed.Add(p.CollateralUsd, impact)
		remainingCollateralUsd.Sub(remainingCollateralUsd, totalPendingFeesUsd)
		remainingCollateralUsd.Sub(remainingCollateralUsd, closingFeeUsd)

		numerator := fixed.Sub(liquidationCollateralUsd, remainingCollateralUsd)
		if p.IsLong {
			numerator.Add(numerator, p.SizeInUsd)
			price = fixed.Quo(numerator, p.SizeInTokens)
		} else {
			numerator.Sub(numerator, p.SizeInUsd)
			price = fixed.Quo(numerator, fixed.Neg(p.SizeInTokens))
		}
	}

	price.Mul(price, indexUnit)
	if price.Sign() <= 0 {
		return nil
	}
	return price
}

// EstimatedLiquidationTimeHours projects how many whole hours of fee accrual
// it takes for the position's net value to fall to its liquidation
// threshold. It is nil for opening positions, when no fee accrues, and when
// the minimum collateral constant is unknown.
func EstimatedLiquidationTimeHours(info domain.PositionInfo, minCollateralUsd *big.Int) *big.Int {
	if info.IsOpening || minCollateralUsd == nil {
		return nil
	}

	market := info.MarketInfo
	liquidationCollateralUsd := LiquidationCollateralUsd(market, info.SizeInUsd, minCollateralUsd)
	borrowPerHour := BorrowingFeeRateUsd(market, info.IsLong, info.SizeInUsd)
	fundingPerHour := FundingFeeRateUsd(market, info.IsLong, info.SizeInUsd)
	impact := LiquidationPriceImpactUsd(market, info.SizeInUsd, info.IsLong, false)

	totalPerHour := fixed.Abs(borrowPerHour)
	if fundingPerHour.Sign() < 0 {
		totalPerHour.Add(totalPerHour, fixed.Abs(fundingPerHour))
	}
	if totalPerHour.Sign() == 0 {
		return nil
	}

	headroom := fixed.Add(info.NetValue, impact)
	headroom.Sub(headroom, liquidationCollateralUsd)
	return headroom.Quo(headroom, totalPerHour)
}
