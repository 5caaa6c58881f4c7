package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const (
	marketsKey = keyPrefix + "market_info"
	marketTTL  = 5 * time.Minute
)

// MarketCache implements domain.MarketCache as a single Redis hash keyed by
// market token address with JSON-serialized MarketInfo values.
//
// Key schema:
//
//	perprisk:market_info - hash {marketAddress: json(MarketInfo)}
//
// The hash expires marketTTL after the last Set; an expired cache reads as
// empty and the engine reports loading.
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying(), ttl: marketTTL}
}

// Set stores market and refreshes the hash TTL.
func (mc *MarketCache) Set(ctx context.Context, market domain.MarketInfo) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.MarketTokenAddress.Hex(), err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, marketsKey, market.MarketTokenAddress.Hex(), data)
	pipe.Expire(ctx, marketsKey, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.MarketTokenAddress.Hex(), err)
	}
	return nil
}

// GetAll returns every cached market. An empty cache is an empty map.
func (mc *MarketCache) GetAll(ctx context.Context) (map[common.Address]domain.MarketInfo, error) {
	vals, err := mc.rdb.HGetAll(ctx, marketsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get markets: %w", err)
	}

	markets := make(map[common.Address]domain.MarketInfo, len(vals))
	for field, raw := range vals {
		var m domain.MarketInfo
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("redis: unmarshal market %s: %w", field, err)
		}
		markets[m.MarketTokenAddress] = m
	}
	return markets, nil
}

// Invalidate removes one market.
func (mc *MarketCache) Invalidate(ctx context.Context, market common.Address) error {
	if err := mc.rdb.HDel(ctx, marketsKey, market.Hex()).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", market.Hex(), err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
