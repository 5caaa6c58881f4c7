package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionStore is the confirmed position snapshot source.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Delete(ctx context.Context, key string) error
	GetByKeys(ctx context.Context, account common.Address, keys []string) (map[string]Position, error)
	ListByAccount(ctx context.Context, account common.Address) ([]Position, error)
}

// PositionEventStore is the append-only ledger event log.
type PositionEventStore interface {
	// Append stores ev. It reports false when the same event was already
	// recorded.
	Append(ctx context.Context, ev PositionEvent) (bool, error)
	// Latest returns, for each key, the increase and decrease events with
	// the highest markers.
	Latest(ctx context.Context, keys []string) ([]PositionEvent, error)
	// History lists the events of one position, newest first.
	History(ctx context.Context, key string, opts ListOpts) ([]PositionEvent, error)
}

// AuditEntry is one row of the engine's audit trail.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// ListOpts bounds list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditStore records pending update submissions, ingested events and risk
// transitions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
