package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

var _ domain.PositionEventStore = (*EventStore)(nil)

// EventStore implements domain.PositionEventStore using PostgreSQL. Events
// are unique on (position_key, kind, marker); rows are never deleted.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `kind, position_key, account,
	size_in_usd::text, size_in_tokens::text, collateral_amount::text,
	increased_at_time, decreased_at_time`

func scanEvent(row pgx.Row) (domain.PositionEvent, error) {
	var (
		ev                       domain.PositionEvent
		kind, account            string
		size, tokens, coll       string
		increasedAt, decreasedAt int64
	)
	if err := row.Scan(&kind, &ev.PositionKey, &account, &size, &tokens, &coll, &increasedAt, &decreasedAt); err != nil {
		return domain.PositionEvent{}, err
	}
	ev.Kind = domain.PositionEventKind(kind)
	ev.Account = common.HexToAddress(account)
	ev.IncreasedAtTime = uint64(increasedAt)
	ev.DecreasedAtTime = uint64(decreasedAt)

	var err error
	if ev.SizeInUsd, err = parseNumeric("size_in_usd", size); err != nil {
		return domain.PositionEvent{}, err
	}
	if ev.SizeInTokens, err = parseNumeric("size_in_tokens", tokens); err != nil {
		return domain.PositionEvent{}, err
	}
	if ev.CollateralAmount, err = parseNumeric("collateral_amount", coll); err != nil {
		return domain.PositionEvent{}, err
	}
	return ev, nil
}

func scanEvents(rows pgx.Rows) ([]domain.PositionEvent, error) {
	var events []domain.PositionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// tieBreakColumns order two events that share a key, kind and marker. The
// larger payload wins, compared column by column, matching the reconciler.
var tieBreakColumns = []string{"size_in_usd", "size_in_tokens", "collateral_amount"}

// appendEventQuery inserts an event. On a marker collision the stored row is
// replaced only when the new payload wins the tie-break, so the persisted
// winner does not depend on arrival order.
var appendEventQuery = `
		INSERT INTO position_events (
			kind, position_key, account,
			size_in_usd, size_in_tokens, collateral_amount,
			increased_at_time, decreased_at_time, marker
		) VALUES (
			$1, $2, $3,
			$4::text::numeric, $5::text::numeric, $6::text::numeric,
			$7, $8, $9
		)
		ON CONFLICT (position_key, kind, marker) DO UPDATE SET
			account = EXCLUDED.account,
			size_in_usd = EXCLUDED.size_in_usd,
			size_in_tokens = EXCLUDED.size_in_tokens,
			collateral_amount = EXCLUDED.collateral_amount,
			increased_at_time = EXCLUDED.increased_at_time,
			decreased_at_time = EXCLUDED.decreased_at_time,
			received_at = NOW()
		WHERE ` + rowTuple("EXCLUDED") + ` > ` + rowTuple("position_events")

func rowTuple(table string) string {
	cols := make([]string, len(tieBreakColumns))
	for i, c := range tieBreakColumns {
		cols[i] = table + "." + c
	}
	return "(" + strings.Join(cols, ", ") + ")"
}

// Append records ev. A redelivered event, or one that loses the tie-break
// against a stored event with the same marker, is reported as not inserted
// rather than as an error.
func (s *EventStore) Append(ctx context.Context, ev domain.PositionEvent) (bool, error) {
	increasedAt, err := markerParam(ev.IncreasedAtTime)
	if err != nil {
		return false, err
	}
	decreasedAt, err := markerParam(ev.DecreasedAtTime)
	if err != nil {
		return false, err
	}
	marker, err := markerParam(ev.Marker())
	if err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx, appendEventQuery,
		string(ev.Kind), ev.PositionKey, ev.Account.Hex(),
		numericText(ev.SizeInUsd), numericText(ev.SizeInTokens), numericText(ev.CollateralAmount),
		increasedAt, decreasedAt, marker,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: append %s event %s: %w", ev.Kind, ev.PositionKey, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Latest returns at most one increase and one decrease per key: the one with
// the highest marker.
func (s *EventStore) Latest(ctx context.Context, keys []string) ([]domain.PositionEvent, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (position_key, kind) `+eventSelectCols+`
		 FROM position_events
		 WHERE position_key = ANY($1)
		 ORDER BY position_key, kind, marker DESC`, keys)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan latest events: %w", err)
	}
	return events, nil
}

// History lists the events of one position, newest first.
func (s *EventStore) History(ctx context.Context, key string, opts domain.ListOpts) ([]domain.PositionEvent, error) {
	query, args := appendListOpts(
		`SELECT `+eventSelectCols+` FROM position_events WHERE position_key = $1`,
		[]any{key}, "received_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: event history %s: %w", key, err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan event history: %w", err)
	}
	return events, nil
}
