// Package aggregate joins reconciled positions with market, token, referral
// and protocol data and derives the full PositionInfo record for each one.
package aggregate

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/fixed"
	"github.com/alanyoungcy/perprisk/internal/valuation"
)

// DropReason says why a position was left out of a pass.
type DropReason string

const (
	DropMarketMissing     DropReason = "market_missing"
	DropTokensMissing     DropReason = "tokens_missing"
	DropCollateralMissing DropReason = "collateral_missing"
)

// Input is everything one aggregation pass reads.
type Input struct {
	Positions map[string]domain.Position
	Markets   map[common.Address]domain.MarketInfo
	Tokens    map[common.Address]domain.TokenData
	Constants *domain.ProtocolConstants
	Referral  *domain.UserReferralInfo // nil without a referral code

	UIFeeFactor *big.Int
}

// Result is the derived position set. IsLoading is set, and Positions left
// empty, while markets, tokens or constants are not available yet.
type Result struct {
	Positions map[string]domain.PositionInfo
	IsLoading bool
	Dropped   map[string]DropReason
}

// BuildPositionsInfo derives a fresh PositionInfo for every position whose
// market and token prices are known. Nothing in in is modified.
func BuildPositionsInfo(in Input) Result {
	if len(in.Markets) == 0 || len(in.Tokens) == 0 || in.Constants == nil {
		return Result{
			Positions: map[string]domain.PositionInfo{},
			IsLoading: true,
		}
	}

	out := Result{
		Positions: make(map[string]domain.PositionInfo, len(in.Positions)),
		Dropped:   make(map[string]DropReason),
	}
	for key, p := range in.Positions {
		info, reason, ok := buildOne(p, in)
		if !ok {
			out.Dropped[key] = reason
			continue
		}
		out.Positions[key] = info
	}
	return out
}

func buildOne(p domain.Position, in Input) (domain.PositionInfo, DropReason, bool) {
	raw, ok := in.Markets[p.MarketAddress]
	if !ok {
		return domain.PositionInfo{}, DropMarketMissing, false
	}
	market, ok := raw.WithTokens(in.Tokens)
	if !ok {
		return domain.PositionInfo{}, DropTokensMissing, false
	}
	collateralToken, ok := in.Tokens[p.CollateralTokenAddress]
	if !ok || !collateralToken.Prices.Loaded() {
		return domain.PositionInfo{}, DropCollateralMissing, false
	}

	p = p.Clone()
	indexToken := market.IndexToken
	pnlToken := market.ShortToken
	if p.IsLong {
		pnlToken = market.LongToken
	}
	collateralMinPrice := collateralToken.Prices.MinPrice

	markPrice := valuation.MarkPrice(indexToken.Prices, p.IsLong)
	entryPrice := valuation.EntryPrice(p.SizeInUsd, p.SizeInTokens, indexToken)

	pendingFundingFeesUsd := fixed.ConvertToUsd(fixed.OrZero(p.FundingFeeAmount), collateralToken.Decimals, collateralMinPrice)
	claimableUsd := fixed.Add(
		fixed.ConvertToUsd(fixed.OrZero(p.ClaimableLongTokenAmount), market.LongToken.Decimals, market.LongToken.Prices.MinPrice),
		fixed.ConvertToUsd(fixed.OrZero(p.ClaimableShortTokenAmount), market.ShortToken.Decimals, market.ShortToken.Prices.MinPrice),
	)
	totalPendingFeesUsd := valuation.PendingFeesUsd(pendingFundingFeesUsd, p.PendingBorrowingFeesUsd)

	closingImpact := valuation.PriceImpactForPosition(market, fixed.Neg(p.SizeInUsd), p.IsLong, true)
	closingFees := valuation.PositionFee(market, p.SizeInUsd, closingImpact.Sign() > 0, in.Referral, in.UIFeeFactor)

	collateralUsd := fixed.ConvertToUsd(fixed.OrZero(p.CollateralAmount), collateralToken.Decimals, collateralMinPrice)
	remainingCollateralUsd := fixed.Sub(collateralUsd, totalPendingFeesUsd)
	remainingCollateralAmount := fixed.ConvertToTokenAmount(remainingCollateralUsd, collateralToken.Decimals, collateralMinPrice)

	pnl := valuation.PositionPnlUsd(market, p.SizeInUsd, p.SizeInTokens, markPrice, p.IsLong)
	pnlPercentage := fixed.BasisPoints(pnl, collateralUsd)

	netValue := valuation.PositionNetValue(collateralUsd, pnl, p.PendingBorrowingFeesUsd, pendingFundingFeesUsd, closingFees.PositionFeeUsd, closingFees.UIFeeUsd)

	pnlAfterFees := fixed.Sub(pnl, totalPendingFeesUsd)
	pnlAfterFees.Sub(pnlAfterFees, closingFees.PositionFeeUsd)
	pnlAfterFees.Sub(pnlAfterFees, closingFees.UIFeeUsd)
	pnlAfterFeesPercentage := fixed.BasisPoints(pnlAfterFees, fixed.Add(collateralUsd, closingFees.PositionFeeUsd))

	leverage := valuation.Leverage(p.SizeInUsd, collateralUsd, nil, p.PendingBorrowingFeesUsd, pendingFundingFeesUsd)
	leverageWithPnl := valuation.Leverage(p.SizeInUsd, collateralUsd, pnl, p.PendingBorrowingFeesUsd, pendingFundingFeesUsd)
	hasLowCollateral := leverage != nil && leverage.Cmp(valuation.MaxAllowedLeverage(market)) > 0

	liquidationPrice := valuation.LiquidationPrice(valuation.LiquidationParams{
		Market:                  market,
		CollateralToken:         collateralToken,
		IsLong:                  p.IsLong,
		SizeInUsd:               p.SizeInUsd,
		SizeInTokens:            p.SizeInTokens,
		CollateralUsd:           collateralUsd,
		CollateralAmount:        p.CollateralAmount,
		PendingFundingFeesUsd:   pendingFundingFeesUsd,
		PendingBorrowingFeesUsd: p.PendingBorrowingFeesUsd,
		MinCollateralUsd:        in.Constants.MinCollateralUsd,
		Referral:                in.Referral,
	})

	info := domain.PositionInfo{
		Position:        p,
		MarketInfo:      market,
		IndexToken:      indexToken,
		CollateralToken: collateralToken,
		PnlToken:        pnlToken,

		MarkPrice:  markPrice,
		EntryPrice: entryPrice,

		PendingFundingFeesUsd:          pendingFundingFeesUsd,
		PendingClaimableFundingFeesUsd: claimableUsd,
		TotalPendingFeesUsd:            totalPendingFeesUsd,
		ClosingPriceImpactDeltaUsd:     closingImpact,
		ClosingFeeUsd:                  closingFees.PositionFeeUsd,
		UIFeeUsd:                       closingFees.UIFeeUsd,

		CollateralUsd:             collateralUsd,
		RemainingCollateralUsd:    remainingCollateralUsd,
		RemainingCollateralAmount: remainingCollateralAmount,

		Pnl:                    pnl,
		PnlPercentage:          pnlPercentage,
		PnlAfterFees:           pnlAfterFees,
		PnlAfterFeesPercentage: pnlAfterFeesPercentage,
		NetValue:               netValue,

		Leverage:           leverage,
		LeverageWithPnl:    leverageWithPnl,
		LeverageWithoutPnl: fixed.Copy(leverage),
		HasLowCollateral:   hasLowCollateral,

		LiquidationPrice: liquidationPrice,
	}
	info.EstimatedLiquidationTimeHours = valuation.EstimatedLiquidationTimeHours(info, in.Constants.MinCollateralUsd)
	return info, "", true
}
