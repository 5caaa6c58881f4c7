package valuation

import (
	"math/big"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/fixed"
)

var secondsPerHour = big.NewInt(3600)

// PositionFees is the fee charged on a change in position size.
type PositionFees struct {
	PositionFeeUsd *big.Int // after referral discount
	DiscountUsd    *big.Int
	UIFeeUsd       *big.Int
}

// PositionFee computes the position fee for sizeDeltaUsd. The fee factor
// depends on whether the change also has a positive price impact. A referral
// discount is taken out of the rebate share of the fee.
func PositionFee(market domain.MarketInfo, sizeDeltaUsd *big.Int, forPositiveImpact bool, referral *domain.UserReferralInfo, uiFeeFactor *big.Int) PositionFees {
	factor := market.PositionFeeFactorForNegativeImpact
	if forPositiveImpact {
		factor = market.PositionFeeFactorForPositiveImpact
	}

	fee := fixed.ApplyFactor(sizeDeltaUsd, fixed.OrZero(factor))
	uiFee := fixed.ApplyFactor(sizeDeltaUsd, fixed.OrZero(uiFeeFactor))
	discount := fixed.Zero()

	if referral != nil {
		rebate := fixed.ApplyFactor(fee, fixed.OrZero(referral.TotalRebateFactor))
		discount = fixed.ApplyFactor(rebate, fixed.OrZero(referral.DiscountFactor))
	}

	return PositionFees{
		PositionFeeUsd: fee.Sub(fee, discount),
		DiscountUsd:    discount,
		UIFeeUsd:       uiFee,
	}
}

// PendingFeesUsd is the total fee accrued since the last ledger mutation.
func PendingFeesUsd(pendingFundingFeesUsd, pendingBorrowingFeesUsd *big.Int) *big.Int {
	return fixed.Add(pendingFundingFeesUsd, pendingBorrowingFeesUsd)
}

// BorrowingFeeRateUsd returns the borrowing fee a position of sizeInUsd pays
// per hour, as a positive USD value.
func BorrowingFeeRateUsd(market domain.MarketInfo, isLong bool, sizeInUsd *big.Int) *big.Int {
	factorPerSecond := market.BorrowingFactorPerSecondForShorts
	if isLong {
		factorPerSecond = market.BorrowingFactorPerSecondForLongs
	}
	perHour := new(big.Int).Mul(fixed.OrZero(factorPerSecond), secondsPerHour)
	return fixed.ApplyFactor(sizeInUsd, perHour)
}

// FundingFactorPerHour returns the hourly funding factor for one side. The
// paying side gets a negative factor; the receiving side is credited the
// paying side's funding spread over its own, smaller or larger, interest.
func FundingFactorPerHour(market domain.MarketInfo, isLong bool) *big.Int {
	longOI := fixed.OrZero(market.LongInterestUsd)
	shortOI := fixed.OrZero(market.ShortInterestUsd)

	largerOI := longOI
	if shortOI.Cmp(longOI) > 0 {
		largerOI = shortOI
	}

	paying := fixed.Zero()
	if largerOI.Sign() != 0 {
		paying = fixed.Copy(fixed.OrZero(market.FundingFactorPerSecond))
	}

	receiving := fixed.Zero()
	if market.LongsPayShorts {
		if shortOI.Sign() != 0 {
			receiving = fixed.MulDiv(paying, longOI, shortOI)
		}
	} else if longOI.Sign() != 0 {
		receiving = fixed.MulDiv(paying, shortOI, longOI)
	}

	isPaying := isLong == market.LongsPayShorts
	if isPaying {
		return new(big.Int).Mul(fixed.Neg(paying), secondsPerHour)
	}
	return receiving.Mul(receiving, secondsPerHour)
}

// FundingFeeRateUsd returns the hourly funding for a position of sizeInUsd.
// Negative means the position pays.
func FundingFeeRateUsd(market domain.MarketInfo, isLong bool, sizeInUsd *big.Int) *big.Int {
	return fixed.ApplyFactor(sizeInUsd, FundingFactorPerHour(market, isLong))
}
