package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const (
	tokensKey = keyPrefix + "tokens"
	priceTTL  = time.Minute
)

// TokenCache implements domain.TokenCache. Token metadata lives in one hash;
// each token's latest oracle price lives in its own short-lived hash with
// fields "min", "max" and "ts" (Unix nanoseconds).
//
// Key schema:
//
//	perprisk:tokens        - hash {tokenAddress: json(TokenData without prices)}
//	perprisk:price:{token} - hash {min, max, ts}
type TokenCache struct {
	rdb      *redis.Client
	priceTTL time.Duration
}

// NewTokenCache creates a TokenCache backed by the given Client.
func NewTokenCache(c *Client) *TokenCache {
	return &TokenCache{rdb: c.Underlying(), priceTTL: priceTTL}
}

func priceKey(token common.Address) string {
	return accountKey("price", token)
}

// SetToken stores token metadata. Any prices on token are ignored.
func (tc *TokenCache) SetToken(ctx context.Context, token domain.TokenData) error {
	token.Prices = domain.TokenPrices{}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("redis: marshal token %s: %w", token.Address.Hex(), err)
	}
	if err := tc.rdb.HSet(ctx, tokensKey, token.Address.Hex(), data).Err(); err != nil {
		return fmt.Errorf("redis: set token %s: %w", token.Address.Hex(), err)
	}
	return nil
}

// SetPrices stores the latest min/max price of token observed at ts.
func (tc *TokenCache) SetPrices(ctx context.Context, token common.Address, prices domain.TokenPrices, ts time.Time) error {
	if !prices.Loaded() {
		return fmt.Errorf("redis: set prices %s: %w", token.Hex(), domain.ErrInvalidAmount)
	}

	key := priceKey(token)
	pipe := tc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"min": prices.MinPrice.String(),
		"max": prices.MaxPrice.String(),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, tc.priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set prices %s: %w", token.Hex(), err)
	}
	return nil
}

// GetAll returns every known token joined with its latest price. Tokens
// whose price expired come back with empty prices.
func (tc *TokenCache) GetAll(ctx context.Context) (map[common.Address]domain.TokenData, error) {
	vals, err := tc.rdb.HGetAll(ctx, tokensKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get tokens: %w", err)
	}

	tokens := make(map[common.Address]domain.TokenData, len(vals))
	if len(vals) == 0 {
		return tokens, nil
	}

	pipe := tc.rdb.Pipeline()
	cmds := make(map[common.Address]*redis.MapStringStringCmd, len(vals))
	for field, raw := range vals {
		var t domain.TokenData
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("redis: unmarshal token %s: %w", field, err)
		}
		tokens[t.Address] = t
		cmds[t.Address] = pipe.HGetAll(ctx, priceKey(t.Address))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	for addr, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		prices, ok := parsePrices(fields)
		if !ok {
			continue
		}
		t := tokens[addr]
		t.Prices = prices
		tokens[addr] = t
	}
	return tokens, nil
}

func parsePrices(fields map[string]string) (domain.TokenPrices, bool) {
	minPrice, ok := new(big.Int).SetString(fields["min"], 10)
	if !ok {
		return domain.TokenPrices{}, false
	}
	maxPrice, ok := new(big.Int).SetString(fields["max"], 10)
	if !ok {
		return domain.TokenPrices{}, false
	}
	return domain.TokenPrices{MinPrice: minPrice, MaxPrice: maxPrice}, true
}

var _ domain.TokenCache = (*TokenCache)(nil)
