package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// PendingRegistry implements domain.PendingUpdateRegistry with one hash per
// account keyed by position key. Each write pushes the hash expiry out by
// ttl; stale entries inside a live hash are the reconciler's concern, which
// reports them back for Remove.
//
// Key schema:
//
//	perprisk:pending:{account} - hash {positionKey: json(pendingRecord)}
type PendingRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPendingRegistry creates a PendingRegistry backed by the given Client.
func NewPendingRegistry(c *Client, ttl time.Duration) *PendingRegistry {
	return &PendingRegistry{rdb: c.Underlying(), ttl: ttl}
}

func pendingKey(account common.Address) string {
	return accountKey("pending", account)
}

type pendingRecord struct {
	PositionKey           string   `json:"positionKey"`
	IsIncrease            bool     `json:"isIncrease"`
	SizeDeltaUsd          *big.Int `json:"sizeDeltaUsd,omitempty"`
	SizeDeltaInTokens     *big.Int `json:"sizeDeltaInTokens,omitempty"`
	CollateralDeltaAmount *big.Int `json:"collateralDeltaAmount,omitempty"`
	UpdatedAtBlock        uint64   `json:"updatedAtBlock"`
	UpdatedAt             int64    `json:"updatedAt"`
}

func toPendingRecord(u domain.PendingUpdate) pendingRecord {
	return pendingRecord{
		PositionKey:           u.PositionKey,
		IsIncrease:            u.IsIncrease,
		SizeDeltaUsd:          u.SizeDeltaUsd,
		SizeDeltaInTokens:     u.SizeDeltaInTokens,
		CollateralDeltaAmount: u.CollateralDeltaAmount,
		UpdatedAtBlock:        u.UpdatedAtBlock,
		UpdatedAt:             u.UpdatedAt.UnixNano(),
	}
}

func (r pendingRecord) toDomain() domain.PendingUpdate {
	return domain.PendingUpdate{
		PositionKey:           r.PositionKey,
		IsIncrease:            r.IsIncrease,
		SizeDeltaUsd:          r.SizeDeltaUsd,
		SizeDeltaInTokens:     r.SizeDeltaInTokens,
		CollateralDeltaAmount: r.CollateralDeltaAmount,
		UpdatedAtBlock:        r.UpdatedAtBlock,
		UpdatedAt:             time.Unix(0, r.UpdatedAt).UTC(),
	}
}

// Put registers update, replacing any earlier hint for the same position.
func (pr *PendingRegistry) Put(ctx context.Context, account common.Address, update domain.PendingUpdate) error {
	if update.PositionKey == "" {
		return fmt.Errorf("redis: put pending update: %w", domain.ErrInvalidKey)
	}
	data, err := json.Marshal(toPendingRecord(update))
	if err != nil {
		return fmt.Errorf("redis: marshal pending update %s: %w", update.PositionKey, err)
	}

	key := pendingKey(account)
	pipe := pr.rdb.TxPipeline()
	pipe.HSet(ctx, key, update.PositionKey, data)
	pipe.Expire(ctx, key, pr.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put pending update %s: %w", update.PositionKey, err)
	}
	return nil
}

// List returns the account's hints keyed by position key.
func (pr *PendingRegistry) List(ctx context.Context, account common.Address) (map[string]domain.PendingUpdate, error) {
	vals, err := pr.rdb.HGetAll(ctx, pendingKey(account)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list pending updates %s: %w", account.Hex(), err)
	}

	out := make(map[string]domain.PendingUpdate, len(vals))
	for key, raw := range vals {
		var rec pendingRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("redis: unmarshal pending update %s: %w", key, err)
		}
		out[key] = rec.toDomain()
	}
	return out, nil
}

// Remove drops the hint for key. Removing a missing hint is not an error.
func (pr *PendingRegistry) Remove(ctx context.Context, account common.Address, key string) error {
	if err := pr.rdb.HDel(ctx, pendingKey(account), key).Err(); err != nil {
		return fmt.Errorf("redis: remove pending update %s: %w", key, err)
	}
	return nil
}

var _ domain.PendingUpdateRegistry = (*PendingRegistry)(nil)
