package view

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/fixed"
)

func TestFromInfoScalesFigures(t *testing.T) {
	info := domain.PositionInfo{
		Position: domain.Position{
			Key:              "0xabc",
			Account:          common.HexToAddress("0x01"),
			SizeInUsd:        fixed.ExpandDecimals(10000, 30),
			SizeInTokens:     fixed.ExpandDecimals(5, 18),
			CollateralAmount: fixed.ExpandDecimals(1000, 6),
			IsLong:           true,
		},
		IndexToken:      domain.TokenData{Symbol: "ETH", Decimals: 18},
		CollateralToken: domain.TokenData{Symbol: "USDC", Decimals: 6},
		MarkPrice:       fixed.ExpandDecimals(2000, 30),
		Pnl:             new(big.Int).Neg(fixed.ExpandDecimals(125, 31)),
		PnlPercentage:   big.NewInt(-125),
		Leverage:        big.NewInt(100000),

		EstimatedLiquidationTimeHours: big.NewInt(250),
	}

	v := FromInfo(info)

	assert.Equal(t, "10000", *v.SizeInUsd)
	assert.Equal(t, "5", *v.SizeInTokens)
	assert.Equal(t, "1000", *v.CollateralAmount)
	assert.Equal(t, "2000", *v.MarkPrice)
	assert.Equal(t, "-1250", *v.Pnl)
	assert.Equal(t, "-1.25", *v.PnlPercentage)
	assert.Equal(t, "10", *v.Leverage)
	assert.Equal(t, "250", *v.EstimatedLiquidationTimeHours)
	assert.Equal(t, "USDC", v.CollateralToken)
	assert.False(t, v.HasPendingHint)
}

func TestFromInfoUndefinedIsNull(t *testing.T) {
	v := FromInfo(domain.PositionInfo{})

	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Nil(t, decoded["leverage"])
	assert.Nil(t, decoded["liquidationPrice"])
	assert.Contains(t, decoded, "entryPrice")
}

func TestFromInfosOrdersByKey(t *testing.T) {
	infos := map[string]domain.PositionInfo{
		"0x02": {Position: domain.Position{Key: "0x02"}},
		"0x01": {Position: domain.Position{Key: "0x01"}},
		"0x03": {Position: domain.Position{Key: "0x03"}},
	}

	out := FromInfos("0xacc", infos, true)

	require.Len(t, out.Positions, 3)
	assert.True(t, out.IsLoading)
	assert.Equal(t, "0x01", out.Positions[0].Key)
	assert.Equal(t, "0x03", out.Positions[2].Key)
}

func TestParseInt(t *testing.T) {
	v, ok := ParseInt("")
	assert.True(t, ok)
	assert.Nil(t, v)

	v, ok = ParseInt("123456789012345678901234567890")
	require.True(t, ok)
	assert.Equal(t, "123456789012345678901234567890", v.String())

	_, ok = ParseInt("1.5")
	assert.False(t, ok)
}
