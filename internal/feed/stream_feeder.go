package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/service"
	"github.com/alanyoungcy/perprisk/internal/view"
)

// PositionEngine is the part of the position service the feeders drive.
type PositionEngine interface {
	IngestEvent(ctx context.Context, ev domain.PositionEvent) (bool, error)
	SubmitPendingUpdate(ctx context.Context, account common.Address, u domain.PendingUpdate) (service.AccountPositions, error)
	RecomputeAll(ctx context.Context, extra []common.Address)
}

// StreamStartID returns the stream ID of the first entry appended at or
// after t.
func StreamStartID(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return fmt.Sprintf("%d-0", t.UnixMilli())
}

// StreamIDTime returns the append time encoded in a stream entry ID.
func StreamIDTime(id string) (time.Time, bool) {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(n).UTC(), true
}

// StreamFeeder reads the ledger event and pending update streams and hands
// every entry to the position engine. Malformed and rejected entries are
// logged and skipped so one bad producer cannot stall the feed.
type StreamFeeder struct {
	bus    domain.SignalBus
	engine PositionEngine
	batch  int
	idle   time.Duration
	logger *slog.Logger
}

// NewStreamFeeder creates a StreamFeeder reading up to batch entries per
// call. idle is the pause after an empty read.
func NewStreamFeeder(bus domain.SignalBus, engine PositionEngine, batch int, idle time.Duration, logger *slog.Logger) *StreamFeeder {
	if batch <= 0 {
		batch = 100
	}
	if idle <= 0 {
		idle = 250 * time.Millisecond
	}
	return &StreamFeeder{
		bus:    bus,
		engine: engine,
		batch:  batch,
		idle:   idle,
		logger: logger.With(slog.String("component", "stream_feeder")),
	}
}

// RunEvents consumes domain.StreamEvents from startID until ctx is cancelled.
func (f *StreamFeeder) RunEvents(ctx context.Context, startID string) error {
	return f.consume(ctx, domain.StreamEvents, startID, f.handleEvent)
}

// RunPending consumes domain.StreamPending from startID until ctx is
// cancelled.
func (f *StreamFeeder) RunPending(ctx context.Context, startID string) error {
	return f.consume(ctx, domain.StreamPending, startID, f.handlePending)
}

func (f *StreamFeeder) consume(ctx context.Context, stream, lastID string, handle func(context.Context, domain.StreamMessage) error) error {
	f.logger.InfoContext(ctx, "stream feeder started",
		slog.String("stream", stream),
		slog.String("from", lastID),
	)
	defer f.logger.Info("stream feeder stopped", slog.String("stream", stream))

	backoff := f.idle
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := f.bus.StreamRead(ctx, stream, lastID, f.batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.WarnContext(ctx, "stream feeder read failed, retrying",
				slog.String("stream", stream),
				slog.String("error", err.Error()),
			)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, 10*time.Second)
			continue
		}
		backoff = f.idle

		if len(msgs) == 0 {
			if !sleep(ctx, f.idle) {
				return nil
			}
			continue
		}

		for _, m := range msgs {
			lastID = m.ID
			if err := handle(ctx, m); err != nil {
				f.logger.WarnContext(ctx, "stream feeder entry rejected",
					slog.String("stream", stream),
					slog.String("id", m.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (f *StreamFeeder) handleEvent(ctx context.Context, entry domain.StreamMessage) error {
	var msg view.EventMessage
	if err := json.Unmarshal(entry.Payload, &msg); err != nil {
		return fmt.Errorf("feed: decode event: %w", err)
	}
	ev, err := msg.ToDomain()
	if err != nil {
		return fmt.Errorf("feed: event: %w", err)
	}
	if _, err := f.engine.IngestEvent(ctx, ev); err != nil {
		return err
	}
	return nil
}

// handlePending submits one hint. A hint without updatedAt is dated by its
// stream entry so a replay after restart keeps the original age.
func (f *StreamFeeder) handlePending(ctx context.Context, entry domain.StreamMessage) error {
	var msg view.PendingMessage
	if err := json.Unmarshal(entry.Payload, &msg); err != nil {
		return fmt.Errorf("feed: decode pending update: %w", err)
	}
	account, err := domain.ParseAddress(msg.Account)
	if err != nil {
		return fmt.Errorf("feed: pending update: %w", err)
	}
	u, err := msg.ToDomain()
	if err != nil {
		return fmt.Errorf("feed: pending update: %w", err)
	}
	if u.UpdatedAt.IsZero() {
		if at, ok := StreamIDTime(entry.ID); ok {
			u.UpdatedAt = at
		}
	}
	_, err = f.engine.SubmitPendingUpdate(ctx, account, u)
	if errors.Is(err, domain.ErrStalePendingUpdate) {
		f.logger.DebugContext(ctx, "stream feeder skipped stale pending update",
			slog.String("key", u.PositionKey),
		)
		return nil
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
