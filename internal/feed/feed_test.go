package feed

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/service"
)

const account = "0x1111111111111111111111111111111111111111"

type scriptedBus struct {
	mu      sync.Mutex
	streams map[string][]domain.StreamMessage
	reads   map[string][]string
	signals chan []byte
}

func newScriptedBus() *scriptedBus {
	return &scriptedBus{
		streams: map[string][]domain.StreamMessage{},
		reads:   map[string][]string{},
		signals: make(chan []byte, 8),
	}
}

func (b *scriptedBus) Publish(context.Context, string, []byte) error { return nil }

func (b *scriptedBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.signals, nil
}

func (b *scriptedBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := StreamStartID(time.Unix(int64(len(b.streams[stream])+1), 0))
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

func (b *scriptedBus) appendAt(stream string, at time.Time, payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: StreamStartID(at), Payload: []byte(payload)})
}

func (b *scriptedBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads[stream] = append(b.reads[stream], lastID)
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if lastID == "0" || m.ID > lastID {
			out = append(out, m)
		}
		if len(out) == count {
			break
		}
	}
	return out, nil
}

type recordingEngine struct {
	mu          sync.Mutex
	events      []domain.PositionEvent
	pending     []domain.PendingUpdate
	recomputes  int
	stalePrefix string
	done        chan struct{}
	want        int
}

// tick closes done once the engine has seen want calls.
func (e *recordingEngine) tick() {
	if len(e.events)+len(e.pending)+e.recomputes == e.want {
		close(e.done)
	}
}

func (e *recordingEngine) IngestEvent(_ context.Context, ev domain.PositionEvent) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	e.tick()
	return true, nil
}

func (e *recordingEngine) SubmitPendingUpdate(_ context.Context, _ common.Address, u domain.PendingUpdate) (service.AccountPositions, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stalePrefix != "" && strings.HasPrefix(u.PositionKey, e.stalePrefix) {
		return service.AccountPositions{}, domain.ErrStalePendingUpdate
	}
	e.pending = append(e.pending, u)
	e.tick()
	return service.AccountPositions{}, nil
}

func (e *recordingEngine) RecomputeAll(context.Context, []common.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recomputes++
	e.tick()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feeder")
	}
}

func TestStreamStartID(t *testing.T) {
	assert.Equal(t, "0", StreamStartID(time.Time{}))
	assert.Equal(t, "1700000000000-0", StreamStartID(time.Unix(1_700_000_000, 0)))
}

func TestRunEventsSkipsMalformedEntries(t *testing.T) {
	bus := newScriptedBus()
	ctx := context.Background()
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamEvents, []byte(`{"kind":"increase"`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamEvents, []byte(`{"kind":"liquidate","positionKey":"0xabc","account":"`+account+`"}`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamEvents, []byte(`{
		"kind":"increase","positionKey":"0xabc","account":"`+account+`",
		"sizeInUsd":"10","sizeInTokens":"2","collateralAmount":"3","increasedAtTime":7}`)))

	engine := &recordingEngine{done: make(chan struct{}), want: 1}
	f := NewStreamFeeder(bus, engine, 10, time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- f.RunEvents(ctx, "0") }()
	wait(t, engine.done)
	cancel()
	require.NoError(t, <-errCh)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.events, 1)
	assert.Equal(t, "0xabc", engine.events[0].PositionKey)
	assert.Equal(t, uint64(7), engine.events[0].Marker())
}

func TestRunPendingResumesAfterLastID(t *testing.T) {
	bus := newScriptedBus()
	ctx := context.Background()
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamPending, []byte(`{"account":"`+account+`","positionKey":"0xold","isIncrease":true}`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamPending, []byte(`{"account":"bad","positionKey":"0xabc"}`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamPending, []byte(`{"account":"`+account+`","positionKey":"0xabc","isIncrease":true,"sizeDeltaUsd":"5"}`)))

	engine := &recordingEngine{done: make(chan struct{}), want: 1, stalePrefix: "0xold"}
	f := NewStreamFeeder(bus, engine, 10, time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- f.RunPending(ctx, "0") }()
	wait(t, engine.done)
	time.Sleep(10 * time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	engine.mu.Lock()
	require.Len(t, engine.pending, 1)
	assert.Equal(t, "5", engine.pending[0].SizeDeltaUsd.String())
	engine.mu.Unlock()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	reads := bus.reads[domain.StreamPending]
	require.GreaterOrEqual(t, len(reads), 2)
	assert.Equal(t, "0", reads[0])
	assert.Equal(t, StreamStartID(time.Unix(3, 0)), reads[len(reads)-1])
}

func TestStreamIDTime(t *testing.T) {
	at, ok := StreamIDTime("1700000000123-4")
	require.True(t, ok)
	assert.Equal(t, time.UnixMilli(1_700_000_000_123).UTC(), at)

	for _, id := range []string{"0", "0-0", "abc-1", ""} {
		_, ok := StreamIDTime(id)
		assert.False(t, ok, id)
	}
}

func TestRunPendingDatesHintsByEntryID(t *testing.T) {
	appended := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	explicit := appended.Add(-time.Minute)

	bus := newScriptedBus()
	bus.appendAt(domain.StreamPending, appended,
		`{"account":"`+account+`","positionKey":"0xaaa","isIncrease":true}`)
	bus.appendAt(domain.StreamPending, appended.Add(time.Second),
		`{"account":"`+account+`","positionKey":"0xbbb","isIncrease":true,"updatedAt":"`+explicit.Format(time.RFC3339)+`"}`)

	// A restart replays the same entries; the hint dates must not move.
	var runs [][]domain.PendingUpdate
	for range 2 {
		engine := &recordingEngine{done: make(chan struct{}), want: 2}
		f := NewStreamFeeder(bus, engine, 10, time.Millisecond, quietLogger())

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- f.RunPending(ctx, StreamStartID(appended.Add(-10*time.Minute))) }()
		wait(t, engine.done)
		cancel()
		require.NoError(t, <-errCh)

		engine.mu.Lock()
		runs = append(runs, append([]domain.PendingUpdate(nil), engine.pending...))
		engine.mu.Unlock()
	}

	for _, pending := range runs {
		require.Len(t, pending, 2)
		assert.Equal(t, appended, pending[0].UpdatedAt)
		assert.Equal(t, explicit, pending[1].UpdatedAt)
	}
}

func TestRefreshFeederRecomputesOnStartAndSignal(t *testing.T) {
	bus := newScriptedBus()
	engine := &recordingEngine{done: make(chan struct{}), want: 2}
	f := NewRefreshFeeder(bus, engine, []common.Address{common.HexToAddress(account)}, 0, 50*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx) }()

	bus.signals <- []byte(`{"event":"prices","count":1}`)
	bus.signals <- []byte(`{"event":"prices","count":1}`)
	wait(t, engine.done)
	cancel()
	require.NoError(t, <-errCh)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, 2, engine.recomputes)
}
