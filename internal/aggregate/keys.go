package aggregate

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

// AllPositionKeys enumerates every position account could hold: each
// non spot-only market, with each of its collateral tokens, on each side.
// Markets are visited in address order so the result is stable.
func AllPositionKeys(account common.Address, markets map[common.Address]domain.MarketInfo) []domain.PositionKey {
	addrs := make([]common.Address, 0, len(markets))
	for addr, m := range markets {
		if m.IsSpotOnly {
			continue
		}
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i].Bytes(), addrs[j].Bytes()) < 0
	})

	keys := make([]domain.PositionKey, 0, len(addrs)*4)
	for _, addr := range addrs {
		m := markets[addr]
		collaterals := []common.Address{m.LongTokenAddress}
		if !m.IsSameCollaterals() {
			collaterals = append(collaterals, m.ShortTokenAddress)
		}
		for _, collateral := range collaterals {
			for _, isLong := range []bool{true, false} {
				keys = append(keys, domain.PositionKey{
					Account:         account,
					Market:          addr,
					CollateralToken: collateral,
					IsLong:          isLong,
				})
			}
		}
	}
	return keys
}
