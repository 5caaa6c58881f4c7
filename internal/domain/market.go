package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenPrices is a min/max oracle price pair, USD per whole token with 30
// decimals.
type TokenPrices struct {
	MinPrice *big.Int `json:"minPrice"`
	MaxPrice *big.Int `json:"maxPrice"`
}

// Loaded reports whether both sides of the price are present and positive.
func (p TokenPrices) Loaded() bool {
	return p.MinPrice != nil && p.MaxPrice != nil && p.MinPrice.Sign() > 0 && p.MaxPrice.Sign() > 0
}

// TokenData is token metadata joined with its live prices.
type TokenData struct {
	Address        common.Address  `json:"address"`
	Symbol         string          `json:"symbol"`
	Decimals       int             `json:"decimals"`
	IsStable       bool            `json:"isStable"`
	IsSynthetic    bool            `json:"isSynthetic"`
	WrappedAddress *common.Address `json:"wrappedAddress,omitempty"`
	Prices         TokenPrices     `json:"prices"`
}

// MarketInfo holds the pool, pricing and risk parameters of one market.
// The token fields are resolved against live token data before use; the
// address fields are what the market cache persists. Factors carry 30
// decimals.
type MarketInfo struct {
	MarketTokenAddress common.Address `json:"marketTokenAddress"`
	Name               string         `json:"name"`
	IndexTokenAddress  common.Address `json:"indexTokenAddress"`
	LongTokenAddress   common.Address `json:"longTokenAddress"`
	ShortTokenAddress  common.Address `json:"shortTokenAddress"`
	IsSpotOnly         bool           `json:"isSpotOnly"`
	IsDisabled         bool           `json:"isDisabled"`

	IndexToken TokenData `json:"-"`
	LongToken  TokenData `json:"-"`
	ShortToken TokenData `json:"-"`

	LongPoolAmount  *big.Int `json:"longPoolAmount"`
	ShortPoolAmount *big.Int `json:"shortPoolAmount"`

	// PnlLongMax and PnlShortMax are the uncapped aggregate trader P&L of
	// each side, valued at the price that maximizes it.
	PnlLongMax                  *big.Int `json:"pnlLongMax"`
	PnlShortMax                 *big.Int `json:"pnlShortMax"`
	MaxPnlFactorForTradersLong  *big.Int `json:"maxPnlFactorForTradersLong"`
	MaxPnlFactorForTradersShort *big.Int `json:"maxPnlFactorForTradersShort"`

	LongInterestUsd  *big.Int `json:"longInterestUsd"`
	ShortInterestUsd *big.Int `json:"shortInterestUsd"`

	PositionImpactFactorPositive           *big.Int `json:"positionImpactFactorPositive"`
	PositionImpactFactorNegative           *big.Int `json:"positionImpactFactorNegative"`
	PositionImpactExponentFactor           *big.Int `json:"positionImpactExponentFactor"`
	VirtualInventoryForPositions           *big.Int `json:"virtualInventoryForPositions"`
	MaxPositionImpactFactorForLiquidations *big.Int `json:"maxPositionImpactFactorForLiquidations"`

	MinCollateralFactor                     *big.Int `json:"minCollateralFactor"`
	MinCollateralFactorForOpenInterestLong  *big.Int `json:"minCollateralFactorForOpenInterestLong"`
	MinCollateralFactorForOpenInterestShort *big.Int `json:"minCollateralFactorForOpenInterestShort"`

	PositionFeeFactorForPositiveImpact *big.Int `json:"positionFeeFactorForPositiveImpact"`
	PositionFeeFactorForNegativeImpact *big.Int `json:"positionFeeFactorForNegativeImpact"`

	BorrowingFactorPerSecondForLongs  *big.Int `json:"borrowingFactorPerSecondForLongs"`
	BorrowingFactorPerSecondForShorts *big.Int `json:"borrowingFactorPerSecondForShorts"`
	FundingFactorPerSecond            *big.Int `json:"fundingFactorPerSecond"`
	LongsPayShorts                    bool     `json:"longsPayShorts"`
}

// WithTokens returns a copy of m with its index, long and short tokens
// resolved from tokens. ok is false when any of them is missing or has no
// loaded price.
func (m MarketInfo) WithTokens(tokens map[common.Address]TokenData) (MarketInfo, bool) {
	index, ok := tokens[m.IndexTokenAddress]
	if !ok || !index.Prices.Loaded() {
		return MarketInfo{}, false
	}
	long, ok := tokens[m.LongTokenAddress]
	if !ok || !long.Prices.Loaded() {
		return MarketInfo{}, false
	}
	short, ok := tokens[m.ShortTokenAddress]
	if !ok || !short.Prices.Loaded() {
		return MarketInfo{}, false
	}
	m.IndexToken = index
	m.LongToken = long
	m.ShortToken = short
	return m, true
}

// IsSameCollaterals reports whether the market's long and short tokens are
// the same asset.
func (m MarketInfo) IsSameCollaterals() bool {
	return m.LongTokenAddress == m.ShortTokenAddress
}

// ProtocolConstants are protocol-wide limits in 30-decimal USD.
type ProtocolConstants struct {
	MinCollateralUsd    *big.Int
	MinPositionSizeUsd  *big.Int
	MaxAutoCancelOrders int
}

// UserReferralInfo carries an account's referral rebate parameters.
type UserReferralInfo struct {
	ReferralCode      string   `json:"referralCode"`
	TotalRebateFactor *big.Int `json:"totalRebateFactor"`
	DiscountFactor    *big.Int `json:"discountFactor"`
}
