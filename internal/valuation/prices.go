package valuation

import (
	"math/big"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/fixed"
)

// MarkPrice picks the index price side used to value a position when it is
// reduced: longs sell at the min price, shorts buy back at the max.
func MarkPrice(prices domain.TokenPrices, isLong bool) *big.Int {
	if isLong {
		return fixed.Copy(prices.MinPrice)
	}
	return fixed.Copy(prices.MaxPrice)
}

// EntryPrice is the average price paid per index token. It is nil while the
// position holds no tokens.
func EntryPrice(sizeInUsd, sizeInTokens *big.Int, indexToken domain.TokenData) *big.Int {
	if !fixed.IsPositive(sizeInTokens) {
		return nil
	}
	return fixed.MulDiv(sizeInUsd, fixed.ExpandDecimals(1, indexToken.Decimals), sizeInTokens)
}

// IsEquivalentTokens reports whether two tokens are the same economic unit:
// the same address, a token and its wrapped form, or synthetics sharing a
// symbol.
func IsEquivalentTokens(a, b domain.TokenData) bool {
	if a.Address == b.Address {
		return true
	}
	if a.WrappedAddress != nil && *a.WrappedAddress == b.Address {
		return true
	}
	if b.WrappedAddress != nil && *b.WrappedAddress == a.Address {
		return true
	}
	if (a.IsSynthetic || b.IsSynthetic) && a.Symbol == b.Symbol {
		return true
	}
	return false
}
