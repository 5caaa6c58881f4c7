package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

// RefreshFeeder recomputes every account when market, token or price data
// changes, and on a fixed interval so positions keep accruing against fresh
// prices even when no signal arrives. Bursts of signals within debounce
// collapse into one recompute.
type RefreshFeeder struct {
	bus      domain.SignalBus
	engine   PositionEngine
	tracked  []common.Address
	interval time.Duration
	debounce time.Duration
	logger   *slog.Logger
}

// NewRefreshFeeder creates a RefreshFeeder. tracked accounts are recomputed
// even before anyone asked for them. A zero interval disables the periodic
// refresh.
func NewRefreshFeeder(bus domain.SignalBus, engine PositionEngine, tracked []common.Address, interval, debounce time.Duration, logger *slog.Logger) *RefreshFeeder {
	return &RefreshFeeder{
		bus:      bus,
		engine:   engine,
		tracked:  tracked,
		interval: interval,
		debounce: debounce,
		logger:   logger.With(slog.String("component", "refresh_feeder")),
	}
}

// Run listens on domain.ChannelMarkets until ctx is cancelled. The
// subscription is re-established after a disconnect.
func (f *RefreshFeeder) Run(ctx context.Context) error {
	f.engine.RecomputeAll(ctx, f.tracked)
	f.logger.InfoContext(ctx, "refresh feeder started",
		slog.Int("tracked", len(f.tracked)),
		slog.Duration("interval", f.interval),
	)
	defer f.logger.Info("refresh feeder stopped")

	var tick <-chan time.Time
	if f.interval > 0 {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		ch, err := f.bus.Subscribe(ctx, domain.ChannelMarkets)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.WarnContext(ctx, "refresh feeder subscribe failed, retrying",
				slog.String("error", err.Error()),
			)
			if !sleep(ctx, 2*time.Second) {
				return nil
			}
			continue
		}

		if done := f.listen(ctx, ch, tick); done {
			return nil
		}
		f.logger.WarnContext(ctx, "refresh feeder subscription closed, resubscribing")
		if !sleep(ctx, time.Second) {
			return nil
		}
	}
}

// listen serves one subscription. It reports true when ctx is done.
func (f *RefreshFeeder) listen(ctx context.Context, ch <-chan []byte, tick <-chan time.Time) bool {
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true
		case _, ok := <-ch:
			if !ok {
				return ctx.Err() != nil
			}
			if f.debounce <= 0 {
				f.engine.RecomputeAll(ctx, f.tracked)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
				pending = timer.C
			}
		case <-pending:
			timer, pending = nil, nil
			f.engine.RecomputeAll(ctx, f.tracked)
		case <-tick:
			f.engine.RecomputeAll(ctx, f.tracked)
		}
	}
}
