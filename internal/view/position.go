// Package view renders derived positions for JSON consumers. Scaled integers
// become exact decimal strings; undefined figures become null.
package view

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

const (
	usdDecimals = 30
	bpsDecimals = 4 // 10000 bps = 1x
	pctDecimals = 2 // 100 bps = 1%
)

// Position is the JSON shape of a domain.PositionInfo.
type Position struct {
	Key             string `json:"key"`
	Account         string `json:"account"`
	Market          string `json:"market"`
	MarketName      string `json:"marketName"`
	CollateralToken string `json:"collateralToken"`
	IndexToken      string `json:"indexToken"`
	IsLong          bool   `json:"isLong"`
	IsOpening       bool   `json:"isOpening"`
	HasPendingHint  bool   `json:"hasPendingUpdate"`

	SizeInUsd        *string `json:"sizeInUsd"`
	SizeInTokens     *string `json:"sizeInTokens"`
	CollateralAmount *string `json:"collateralAmount"`
	CollateralUsd    *string `json:"collateralUsd"`

	MarkPrice        *string `json:"markPrice"`
	EntryPrice       *string `json:"entryPrice"`
	LiquidationPrice *string `json:"liquidationPrice"`

	PendingFundingFeesUsd          *string `json:"pendingFundingFeesUsd"`
	PendingClaimableFundingFeesUsd *string `json:"pendingClaimableFundingFeesUsd"`
	PendingBorrowingFeesUsd        *string `json:"pendingBorrowingFeesUsd"`
	TotalPendingFeesUsd            *string `json:"totalPendingFeesUsd"`
	ClosingFeeUsd                  *string `json:"closingFeeUsd"`
	ClosingPriceImpactDeltaUsd     *string `json:"closingPriceImpactDeltaUsd"`
	UIFeeUsd                       *string `json:"uiFeeUsd"`

	RemainingCollateralUsd    *string `json:"remainingCollateralUsd"`
	RemainingCollateralAmount *string `json:"remainingCollateralAmount"`

	Pnl                    *string `json:"pnl"`
	PnlPercentage          *string `json:"pnlPercentage"`
	PnlAfterFees           *string `json:"pnlAfterFees"`
	PnlAfterFeesPercentage *string `json:"pnlAfterFeesPercentage"`
	NetValue               *string `json:"netValue"`

	Leverage           *string `json:"leverage"`
	LeverageWithPnl    *string `json:"leverageWithPnl"`
	LeverageWithoutPnl *string `json:"leverageWithoutPnl"`
	HasLowCollateral   bool    `json:"hasLowCollateral"`

	EstimatedLiquidationTimeHours *string `json:"estimatedLiquidationTimeHours"`
}

// Positions is the response for one account.
type Positions struct {
	Account   string     `json:"account"`
	IsLoading bool       `json:"isLoading"`
	Positions []Position `json:"positions"`
}

// scaled renders v with exp implied decimals; nil stays nil.
func scaled(v *big.Int, exp int) *string {
	if v == nil {
		return nil
	}
	s := decimal.NewFromBigInt(v, int32(-exp)).String()
	return &s
}

func usd(v *big.Int) *string { return scaled(v, usdDecimals) }

// FromInfo converts one derived position.
func FromInfo(info domain.PositionInfo) Position {
	collDecimals := info.CollateralToken.Decimals
	return Position{
		Key:             info.Key,
		Account:         info.Account.Hex(),
		Market:          info.MarketAddress.Hex(),
		MarketName:      info.MarketInfo.Name,
		CollateralToken: info.CollateralToken.Symbol,
		IndexToken:      info.IndexToken.Symbol,
		IsLong:          info.IsLong,
		IsOpening:       info.IsOpening,
		HasPendingHint:  info.PendingUpdate != nil,

		SizeInUsd:        usd(info.SizeInUsd),
		SizeInTokens:     scaled(info.SizeInTokens, info.IndexToken.Decimals),
		CollateralAmount: scaled(info.CollateralAmount, collDecimals),
		CollateralUsd:    usd(info.CollateralUsd),

		MarkPrice:        usd(info.MarkPrice),
		EntryPrice:       usd(info.EntryPrice),
		LiquidationPrice: usd(info.LiquidationPrice),

		PendingFundingFeesUsd:          usd(info.PendingFundingFeesUsd),
		PendingClaimableFundingFeesUsd: usd(info.PendingClaimableFundingFeesUsd),
		PendingBorrowingFeesUsd:        usd(info.PendingBorrowingFeesUsd),
		TotalPendingFeesUsd:            usd(info.TotalPendingFeesUsd),
		ClosingFeeUsd:                  usd(info.ClosingFeeUsd),
		ClosingPriceImpactDeltaUsd:     usd(info.ClosingPriceImpactDeltaUsd),
		UIFeeUsd:                       usd(info.UIFeeUsd),

		RemainingCollateralUsd:    usd(info.RemainingCollateralUsd),
		RemainingCollateralAmount: scaled(info.RemainingCollateralAmount, collDecimals),

		Pnl:                    usd(info.Pnl),
		PnlPercentage:          scaled(info.PnlPercentage, pctDecimals),
		PnlAfterFees:           usd(info.PnlAfterFees),
		PnlAfterFeesPercentage: scaled(info.PnlAfterFeesPercentage, pctDecimals),
		NetValue:               usd(info.NetValue),

		Leverage:           scaled(info.Leverage, bpsDecimals),
		LeverageWithPnl:    scaled(info.LeverageWithPnl, bpsDecimals),
		LeverageWithoutPnl: scaled(info.LeverageWithoutPnl, bpsDecimals),
		HasLowCollateral:   info.HasLowCollateral,

		EstimatedLiquidationTimeHours: scaled(info.EstimatedLiquidationTimeHours, 0),
	}
}

// FromInfos converts an aggregation result, ordered by key so the output is
// stable across recomputes.
func FromInfos(account string, infos map[string]domain.PositionInfo, isLoading bool) Positions {
	out := Positions{
		Account:   account,
		IsLoading: isLoading,
		Positions: make([]Position, 0, len(infos)),
	}
	keys := make([]string, 0, len(infos))
	for k := range infos {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Positions = append(out.Positions, FromInfo(infos[k]))
	}
	return out
}

// ParseInt parses a scaled integer amount as sent by collaborators. Empty
// means absent.
func ParseInt(s string) (*big.Int, bool) {
	if s == "" {
		return nil, true
	}
	return new(big.Int).SetString(s, 10)
}
