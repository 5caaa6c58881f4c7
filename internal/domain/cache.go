package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketCache holds market parameters keyed by market token address.
type MarketCache interface {
	Set(ctx context.Context, market MarketInfo) error
	GetAll(ctx context.Context) (map[common.Address]MarketInfo, error)
	Invalidate(ctx context.Context, market common.Address) error
}

// TokenCache holds token metadata and the latest oracle prices.
type TokenCache interface {
	SetToken(ctx context.Context, token TokenData) error
	SetPrices(ctx context.Context, token common.Address, prices TokenPrices, ts time.Time) error
	GetAll(ctx context.Context) (map[common.Address]TokenData, error)
}

// PendingUpdateRegistry is the account-scoped set of pending update hints.
type PendingUpdateRegistry interface {
	Put(ctx context.Context, account common.Address, update PendingUpdate) error
	List(ctx context.Context, account common.Address) (map[string]PendingUpdate, error)
	Remove(ctx context.Context, account common.Address, key string) error
}

// ReferralCache returns referral discount data for an account.
type ReferralCache interface {
	Get(ctx context.Context, account common.Address) (UserReferralInfo, error)
	Set(ctx context.Context, account common.Address, info UserReferralInfo) error
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// Channel and stream names shared by the engine and its collaborators.
const (
	// ChannelPositions carries one recomputed position map per message,
	// suffixed with the account address.
	ChannelPositions = "perprisk:signal:positions:"
	// ChannelMarkets announces market or price refreshes; any message
	// triggers a recompute of every known account.
	ChannelMarkets = "perprisk:signal:markets"
	// StreamEvents is the durable ledger event feed.
	StreamEvents = "perprisk:stream:events"
	// StreamPending is the durable pending update feed.
	StreamPending = "perprisk:stream:pending"
)

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager hands out short-lived distributed locks.
type LockManager interface {
	// Acquire returns ErrLockHeld when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter counts requests per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
