// Package valuation computes derived position figures (P&L, fees, leverage,
// liquidation price) from a position and its market. Every function is pure
// and works on scaled integers from package fixed; results that have no
// meaningful value are returned as nil, never as zero.
package valuation

import (
	"math/big"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/fixed"
)

// PositionValueUsd values sizeInTokens of the market's index token at
// markPrice.
func PositionValueUsd(indexToken domain.TokenData, sizeInTokens, markPrice *big.Int) *big.Int {
	return fixed.ConvertToUsd(fixed.OrZero(sizeInTokens), indexToken.Decimals, fixed.OrZero(markPrice))
}

// PoolUsdWithoutPnl values one side of the pool at the backing token's min
// price.
func PoolUsdWithoutPnl(market domain.MarketInfo, isLong bool) *big.Int {
	if isLong {
		return fixed.ConvertToUsd(fixed.OrZero(market.LongPoolAmount), market.LongToken.Decimals, fixed.OrZero(market.LongToken.Prices.MinPrice))
	}
	return fixed.ConvertToUsd(fixed.OrZero(market.ShortPoolAmount), market.ShortToken.Decimals, fixed.OrZero(market.ShortToken.Prices.MinPrice))
}

// CappedPoolPnl limits a positive pool P&L to poolUsd * maxPnlFactor.
// Negative pool P&L passes through.
func CappedPoolPnl(market domain.MarketInfo, poolUsd, poolPnl *big.Int, isLong bool) *big.Int {
	if fixed.OrZero(poolPnl).Sign() < 0 {
		return fixed.Copy(poolPnl)
	}
	factor := market.MaxPnlFactorForTradersShort
	if isLong {
		factor = market.MaxPnlFactorForTradersLong
	}
	maxPnl := fixed.ApplyFactor(poolUsd, fixed.OrZero(factor))
	return fixed.Min(poolPnl, maxPnl)
}

// PositionPnlUsd returns the unrealized P&L of a position at markPrice.
//
// Losses are returned as is. Gains are scaled by cappedPoolPnl/poolPnl, both
// first truncated to 18 decimals; the two-step truncation matches the
// protocol's own accounting. The cap is skipped when either scaled operand is
// not positive.
func PositionPnlUsd(market domain.MarketInfo, sizeInUsd, sizeInTokens, markPrice *big.Int, isLong bool) *big.Int {
	positionValueUsd := PositionValueUsd(market.IndexToken, sizeInTokens, markPrice)

	var totalPnl *big.Int
	if isLong {
		totalPnl = fixed.Sub(positionValueUsd, sizeInUsd)
	} else {
		totalPnl = fixed.Sub(sizeInUsd, positionValueUsd)
	}

	if totalPnl.Sign() <= 0 {
		return totalPnl
	}

	poolPnl := market.PnlShortMax
	if isLong {
		poolPnl = market.PnlLongMax
	}
	poolPnl = fixed.OrZero(poolPnl)
	poolUsd := PoolUsdWithoutPnl(market, isLong)
	cappedPnl := CappedPoolPnl(market, poolUsd, poolPnl, isLong)

	if cappedPnl.Cmp(poolPnl) == 0 || cappedPnl.Sign() <= 0 || poolPnl.Sign() <= 0 {
		return totalPnl
	}

	numerator := fixed.Quo(cappedPnl, fixed.WeiPrecision)
	denominator := fixed.Quo(poolPnl, fixed.WeiPrecision)
	if denominator.Sign() <= 0 {
		return totalPnl
	}
	return fixed.MulDiv(totalPnl, numerator, denominator)
}

// PositionNetValue is the collateral the position would return if closed
// now: collateral - pending fees - closing fee - ui fee + pnl.
func PositionNetValue(collateralUsd, pnl, pendingBorrowingFeesUsd, pendingFundingFeesUsd, closingFeeUsd, uiFeeUsd *big.Int) *big.Int {
	pendingFeesUsd := PendingFeesUsd(pendingFundingFeesUsd, pendingBorrowingFeesUsd)
	net := fixed.Sub(collateralUsd, pendingFeesUsd)
	net.Sub(net, fixed.OrZero(closingFeeUsd))
	net.Sub(net, fixed.OrZero(uiFeeUsd))
	return net.Add(net, fixed.OrZero(pnl))
}
