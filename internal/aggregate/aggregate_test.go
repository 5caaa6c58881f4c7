package aggregate

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/fixed"
)

var (
	account    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	ethAddr    = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	usdcAddr   = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	btcAddr    = common.HexToAddress("0x47904963fc8b2340414262125aF798B9655E58Cd")
	ethMarket  = common.HexToAddress("0x70d95587d40A2caf56bd97485aB3Eec10Bee6336")
	ethSingle  = common.HexToAddress("0x450bb6774Dd8a756274E0ab4107953259d2ac541")
	spotMarket = common.HexToAddress("0x9C2433dFD71096C435Be9465220BB2B189375eA7")
)

func usd(n int64) *big.Int { return fixed.ExpandDecimals(n, 30) }

func assertBig(t *testing.T, want, got *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotNil(t, got, msgAndArgs...)
	assert.Equal(t, want.String(), got.String(), msgAndArgs...)
}

func tokens(ethPrice int64) map[common.Address]domain.TokenData {
	return map[common.Address]domain.TokenData{
		ethAddr: {
			Address: ethAddr, Symbol: "ETH", Decimals: 18,
			Prices: domain.TokenPrices{MinPrice: usd(ethPrice), MaxPrice: usd(ethPrice)},
		},
		usdcAddr: {
			Address: usdcAddr, Symbol: "USDC", Decimals: 6, IsStable: true,
			Prices: domain.TokenPrices{MinPrice: usd(1), MaxPrice: usd(1)},
		},
	}
}

func markets() map[common.Address]domain.MarketInfo {
	return map[common.Address]domain.MarketInfo{
		ethMarket: {
			MarketTokenAddress:  ethMarket,
			Name:                "ETH/USD [ETH-USDC]",
			IndexTokenAddress:   ethAddr,
			LongTokenAddress:    ethAddr,
			ShortTokenAddress:   usdcAddr,
			MinCollateralFactor: fixed.ExpandDecimals(1, 28),
		},
	}
}

func longPosition(collateralUsdc int64) domain.Position {
	key := domain.PositionKey{Account: account, Market: ethMarket, CollateralToken: usdcAddr, IsLong: true}
	return domain.Position{
		Key:                       key.Hash(),
		Account:                   account,
		MarketAddress:             ethMarket,
		CollateralTokenAddress:    usdcAddr,
		IsLong:                    true,
		SizeInUsd:                 usd(10_000),
		SizeInTokens:              fixed.ExpandDecimals(5, 18),
		CollateralAmount:          fixed.ExpandDecimals(collateralUsdc, 6),
		PendingBorrowingFeesUsd:   new(big.Int),
		FundingFeeAmount:          new(big.Int),
		ClaimableLongTokenAmount:  new(big.Int),
		ClaimableShortTokenAmount: new(big.Int),
		IncreasedAtTime:           10,
	}
}

func input(positions ...domain.Position) Input {
	in := Input{
		Positions: map[string]domain.Position{},
		Markets:   markets(),
		Tokens:    tokens(2_200),
		Constants: &domain.ProtocolConstants{MinCollateralUsd: usd(1), MinPositionSizeUsd: usd(1)},
	}
	for _, p := range positions {
		in.Positions[p.Key] = p
	}
	return in
}

func TestBuildPositionsInfo(t *testing.T) {
	p := longPosition(1_000)
	res := BuildPositionsInfo(input(p))

	require.False(t, res.IsLoading)
	require.Empty(t, res.Dropped)
	info, ok := res.Positions[p.Key]
	require.True(t, ok)

	assertBig(t, usd(2_200), info.MarkPrice)
	assertBig(t, usd(2_000), info.EntryPrice)
	assertBig(t, usd(1_000), info.CollateralUsd)
	assertBig(t, usd(1_000), info.RemainingCollateralUsd)
	assertBig(t, fixed.ExpandDecimals(1_000, 6), info.RemainingCollateralAmount)
	assertBig(t, usd(1_000), info.Pnl)
	assertBig(t, big.NewInt(10_000), info.PnlPercentage)
	assertBig(t, usd(2_000), info.NetValue)
	assertBig(t, usd(1_000), info.PnlAfterFees)
	assertBig(t, big.NewInt(100_000), info.Leverage)
	assertBig(t, big.NewInt(100_000), info.LeverageWithoutPnl)
	assertBig(t, big.NewInt(50_000), info.LeverageWithPnl)
	assertBig(t, usd(1_820), info.LiquidationPrice)
	assert.False(t, info.HasLowCollateral)
	assert.Nil(t, info.EstimatedLiquidationTimeHours, "no fee accrues")

	assert.Equal(t, "ETH", info.IndexToken.Symbol)
	assert.Equal(t, "USDC", info.CollateralToken.Symbol)
	assert.Equal(t, "ETH", info.PnlToken.Symbol)
	assert.Equal(t, "USDC", info.MarketInfo.ShortToken.Symbol)
}

func TestBuildPositionsInfoFees(t *testing.T) {
	p := longPosition(1_000)
	p.PendingBorrowingFeesUsd = usd(10)
	p.FundingFeeAmount = fixed.ExpandDecimals(5, 6)
	p.ClaimableShortTokenAmount = fixed.ExpandDecimals(3, 6)

	in := input(p)
	m := in.Markets[ethMarket]
	m.PositionFeeFactorForNegativeImpact = fixed.ExpandDecimals(1, 27)
	m.BorrowingFactorPerSecondForLongs = fixed.ExpandDecimals(1, 23)
	in.Markets[ethMarket] = m
	in.UIFeeFactor = fixed.ExpandDecimals(1, 26)

	info := BuildPositionsInfo(in).Positions[p.Key]

	assertBig(t, usd(5), info.PendingFundingFeesUsd)
	assertBig(t, usd(3), info.PendingClaimableFundingFeesUsd)
	assertBig(t, usd(15), info.TotalPendingFeesUsd)
	assertBig(t, usd(10), info.ClosingFeeUsd)
	assertBig(t, usd(1), info.UIFeeUsd)
	assertBig(t, usd(985), info.RemainingCollateralUsd)
	// 1000 pnl - 15 pending - 10 closing - 1 ui
	assertBig(t, usd(974), info.PnlAfterFees)
	// 1000 collateral - 15 - 10 - 1 + 1000
	assertBig(t, usd(1_974), info.NetValue)
	// (1974 - 100) / 3.6 per hour
	assertBig(t, big.NewInt(520), info.EstimatedLiquidationTimeHours)
}

func TestBuildPositionsInfoLowCollateral(t *testing.T) {
	p := longPosition(50)
	info := BuildPositionsInfo(input(p)).Positions[p.Key]

	assertBig(t, big.NewInt(2_000_000), info.Leverage)
	assert.True(t, info.HasLowCollateral)
}

func TestBuildPositionsInfoLoading(t *testing.T) {
	p := longPosition(1_000)

	for name, mutate := range map[string]func(*Input){
		"no markets":   func(in *Input) { in.Markets = nil },
		"no tokens":    func(in *Input) { in.Tokens = nil },
		"no constants": func(in *Input) { in.Constants = nil },
	} {
		t.Run(name, func(t *testing.T) {
			in := input(p)
			mutate(&in)
			res := BuildPositionsInfo(in)
			assert.True(t, res.IsLoading)
			assert.Empty(t, res.Positions)
		})
	}
}

func TestBuildPositionsInfoDropsUnloadable(t *testing.T) {
	known := longPosition(1_000)

	unknownMarket := longPosition(1_000)
	unknownMarket.Key = "0xunknown-market"
	unknownMarket.MarketAddress = spotMarket

	unknownCollateral := longPosition(1_000)
	unknownCollateral.Key = "0xunknown-collateral"
	unknownCollateral.CollateralTokenAddress = btcAddr

	res := BuildPositionsInfo(input(known, unknownMarket, unknownCollateral))
	assert.Len(t, res.Positions, 1)
	assert.Contains(t, res.Positions, known.Key)
	assert.Equal(t, DropMarketMissing, res.Dropped[unknownMarket.Key])
	assert.Equal(t, DropCollateralMissing, res.Dropped[unknownCollateral.Key])

	in := input(known)
	tk := in.Tokens[ethAddr]
	tk.Prices = domain.TokenPrices{}
	in.Tokens[ethAddr] = tk
	res = BuildPositionsInfo(in)
	assert.Empty(t, res.Positions)
	assert.Equal(t, DropTokensMissing, res.Dropped[known.Key])
}

func TestBuildPositionsInfoDoesNotMutateInput(t *testing.T) {
	p := longPosition(1_000)
	in := input(p)

	first := BuildPositionsInfo(in)
	second := BuildPositionsInfo(in)
	assert.Equal(t, first, second)
	assert.Equal(t, "10000000000000000000000000000000000", in.Positions[p.Key].SizeInUsd.String())
}

func TestAllPositionKeys(t *testing.T) {
	ms := markets()
	ms[ethSingle] = domain.MarketInfo{
		MarketTokenAddress: ethSingle,
		IndexTokenAddress:  ethAddr,
		LongTokenAddress:   ethAddr,
		ShortTokenAddress:  ethAddr,
	}
	ms[spotMarket] = domain.MarketInfo{
		MarketTokenAddress: spotMarket,
		LongTokenAddress:   ethAddr,
		ShortTokenAddress:  usdcAddr,
		IsSpotOnly:         true,
	}

	keys := AllPositionKeys(account, ms)
	require.Len(t, keys, 6)

	// ethSingle sorts before ethMarket.
	assert.Equal(t, domain.PositionKey{Account: account, Market: ethSingle, CollateralToken: ethAddr, IsLong: true}, keys[0])
	assert.Equal(t, domain.PositionKey{Account: account, Market: ethSingle, CollateralToken: ethAddr, IsLong: false}, keys[1])
	assert.Equal(t, domain.PositionKey{Account: account, Market: ethMarket, CollateralToken: ethAddr, IsLong: true}, keys[2])
	assert.Equal(t, domain.PositionKey{Account: account, Market: ethMarket, CollateralToken: usdcAddr, IsLong: false}, keys[5])

	for _, k := range keys {
		assert.NotEqual(t, spotMarket, k.Market)
	}
	assert.Equal(t, keys, AllPositionKeys(account, ms))
}
