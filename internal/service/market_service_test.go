package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

func newMarketService() (*MarketService, *memMarkets, *memTokens, *memReferrals, *memBus) {
	markets := &memMarkets{markets: map[common.Address]domain.MarketInfo{}}
	tokens := &memTokens{tokens: map[common.Address]domain.TokenData{}}
	referrals := &memReferrals{infos: map[common.Address]domain.UserReferralInfo{}}
	bus := &memBus{}
	return NewMarketService(markets, tokens, referrals, bus, quietLogger()), markets, tokens, referrals, bus
}

func TestSyncMarketsStoresAndInvalidates(t *testing.T) {
	svc, markets, _, _, bus := newMarketService()
	other := common.HexToAddress("0x3333333333333333333333333333333333333333")
	markets.markets[other] = domain.MarketInfo{MarketTokenAddress: other}

	err := svc.SyncMarkets(context.Background(), []domain.MarketInfo{
		{MarketTokenAddress: ethMarket, IndexTokenAddress: ethAddr},
		{MarketTokenAddress: other, IsDisabled: true},
	})
	require.NoError(t, err)

	assert.Contains(t, markets.markets, ethMarket)
	assert.NotContains(t, markets.markets, other)
	assert.Equal(t, []string{domain.ChannelMarkets}, bus.channels(domain.ChannelMarkets))
}

func TestMarketsAreSorted(t *testing.T) {
	svc, markets, _, _, _ := newMarketService()
	low := common.HexToAddress("0x0000000000000000000000000000000000000001")
	markets.markets[ethMarket] = domain.MarketInfo{MarketTokenAddress: ethMarket}
	markets.markets[low] = domain.MarketInfo{MarketTokenAddress: low}

	got, err := svc.Markets(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, low, got[0].MarketTokenAddress)
}

func TestSyncMarketsEmptyIsNoop(t *testing.T) {
	svc, _, _, _, bus := newMarketService()
	require.NoError(t, svc.SyncMarkets(context.Background(), nil))
	assert.Empty(t, bus.sent)
}

func TestSyncTokensKeepsPrices(t *testing.T) {
	svc, _, tokens, _, _ := newMarketService()
	tokens.tokens[ethAddr] = domain.TokenData{
		Address: ethAddr,
		Prices:  domain.TokenPrices{MinPrice: usd(2_000), MaxPrice: usd(2_001)},
	}

	err := svc.SyncTokens(context.Background(), []domain.TokenData{
		{Address: ethAddr, Symbol: "ETH", Decimals: 18},
	})
	require.NoError(t, err)

	got := tokens.tokens[ethAddr]
	assert.Equal(t, "ETH", got.Symbol)
	assert.Equal(t, usd(2_000).String(), got.Prices.MinPrice.String())
}

func TestSyncTokensRejectsBadDecimals(t *testing.T) {
	svc, _, _, _, bus := newMarketService()
	err := svc.SyncTokens(context.Background(), []domain.TokenData{{Address: ethAddr, Decimals: 90}})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Empty(t, bus.sent)
}

func TestSetReferral(t *testing.T) {
	svc, _, _, referrals, _ := newMarketService()
	info := domain.UserReferralInfo{ReferralCode: "alpha", TotalRebateFactor: new(big.Int), DiscountFactor: new(big.Int)}
	require.NoError(t, svc.SetReferral(context.Background(), account, info))
	assert.Contains(t, referrals.infos, account)
}

func TestUpdatePricesSignalsOnce(t *testing.T) {
	svc, _, tokens, _, bus := newMarketService()
	prices := NewPriceService(tokens, svc, quietLogger())

	err := prices.UpdatePrices(context.Background(), []PriceUpdate{
		{Token: ethAddr, Prices: domain.TokenPrices{MinPrice: usd(2_000), MaxPrice: usd(2_001)}},
		{Token: usdcAddr, Prices: domain.TokenPrices{MinPrice: usd(1), MaxPrice: usd(1)}, At: time.Unix(1, 0)},
	})
	require.NoError(t, err)

	assert.Len(t, tokens.tokens, 2)
	assert.Len(t, bus.channels(domain.ChannelMarkets), 1)
}

func TestUpdatePricesRejectsMissingPrice(t *testing.T) {
	svc, _, tokens, _, bus := newMarketService()
	prices := NewPriceService(tokens, svc, quietLogger())

	err := prices.UpdatePrices(context.Background(), []PriceUpdate{{Token: ethAddr}})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Empty(t, bus.sent)
}
