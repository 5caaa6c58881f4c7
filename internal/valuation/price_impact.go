package valuation

import (
	"math/big"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/fixed"
)

type openInterest struct {
	long  *big.Int
	short *big.Int
}

func (oi openInterest) next(sizeDeltaUsd *big.Int, isLong bool) openInterest {
	if isLong {
		return openInterest{long: fixed.Add(oi.long, sizeDeltaUsd), short: fixed.Copy(oi.short)}
	}
	return openInterest{long: fixed.Copy(oi.long), short: fixed.Add(oi.short, sizeDeltaUsd)}
}

// PriceImpactForPosition returns the USD price impact of changing open
// interest on one side by sizeDeltaUsd (negative to reduce). A positive
// result is a gain for the trader.
//
// When the market tracks virtual inventory, a negative impact is also
// evaluated against that inventory and the worse of the two is returned.
// With fallbackToZero an update that would drive interest negative yields
// zero impact instead of being evaluated.
func PriceImpactForPosition(market domain.MarketInfo, sizeDeltaUsd *big.Int, isLong bool, fallbackToZero bool) *big.Int {
	current := openInterest{
		long:  fixed.OrZero(market.LongInterestUsd),
		short: fixed.OrZero(market.ShortInterestUsd),
	}

	impact := priceImpactUsd(current, current.next(sizeDeltaUsd, isLong), market, fallbackToZero)
	if impact.Sign() > 0 {
		return impact
	}

	inventory := market.VirtualInventoryForPositions
	if inventory == nil || inventory.Sign() == 0 {
		return impact
	}

	virtual := openInterest{long: fixed.Zero(), short: fixed.Zero()}
	if inventory.Sign() > 0 {
		virtual.short = fixed.Copy(inventory)
	} else {
		virtual.long = fixed.Neg(inventory)
	}
	if fixed.OrZero(sizeDeltaUsd).Sign() < 0 {
		offset := fixed.Abs(sizeDeltaUsd)
		virtual.long.Add(virtual.long, offset)
		virtual.short.Add(virtual.short, offset)
	}

	virtualImpact := priceImpactUsd(virtual, virtual.next(sizeDeltaUsd, isLong), market, fallbackToZero)
	return fixed.Min(impact, virtualImpact)
}

func priceImpactUsd(current, next openInterest, market domain.MarketInfo, fallbackToZero bool) *big.Int {
	if next.long.Sign() < 0 || next.short.Sign() < 0 {
		if fallbackToZero {
			return fixed.Zero()
		}
		next = openInterest{long: fixed.Max(next.long, nil), short: fixed.Max(next.short, nil)}
	}

	currentDiff := fixed.Abs(fixed.Sub(current.long, current.short))
	nextDiff := fixed.Abs(fixed.Sub(next.long, next.short))

	sameSide := (current.long.Cmp(current.short) < 0) == (next.long.Cmp(next.short) < 0)
	exponent := fixed.OrZero(market.PositionImpactExponentFactor)
	positive := fixed.OrZero(market.PositionImpactFactorPositive)
	negative := fixed.OrZero(market.PositionImpactFactorNegative)

	if sameSide {
		improving := nextDiff.Cmp(currentDiff) < 0
		factor := negative
		if improving {
			factor = positive
		}
		delta := fixed.Abs(fixed.Sub(applyImpactFactor(currentDiff, factor, exponent), applyImpactFactor(nextDiff, factor, exponent)))
		if improving {
			return delta
		}
		return delta.Neg(delta)
	}

	positiveImpact := applyImpactFactor(currentDiff, positive, exponent)
	negativeImpact := applyImpactFactor(nextDiff, negative, exponent)
	delta := fixed.Abs(fixed.Sub(positiveImpact, negativeImpact))
	if positiveImpact.Cmp(negativeImpact) > 0 {
		return delta
	}
	return delta.Neg(delta)
}

func applyImpactFactor(diffUsd, factor, exponent *big.Int) *big.Int {
	return fixed.ApplyFactor(fixed.Pow(diffUsd, exponent), factor)
}
