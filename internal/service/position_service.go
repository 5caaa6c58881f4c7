package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perprisk/internal/aggregate"
	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/metrics"
	"github.com/alanyoungcy/perprisk/internal/notify"
	"github.com/alanyoungcy/perprisk/internal/reconcile"
	"github.com/alanyoungcy/perprisk/internal/view"
)

// Recompute outcomes as reported to metrics.
const (
	resultOK      = "ok"
	resultLoading = "loading"
	resultError   = "error"
	resultSkipped = "skipped"
)

// Alerter delivers position risk alerts.
type Alerter interface {
	PositionAlert(ctx context.Context, event string, p view.Position) error
}

// PositionConfig holds the engine parameters of the position service.
type PositionConfig struct {
	Constants     domain.ProtocolConstants
	UIFeeFactor   *big.Int
	PendingMaxAge time.Duration
	// LockTTL bounds how long one replica may hold an account's recompute
	// lock. Zero disables distributed locking.
	LockTTL time.Duration
}

// AccountPositions is the derived state of one account as of ComputedAt.
// It is replaced wholesale on every recompute and never mutated.
type AccountPositions struct {
	Account    common.Address
	Positions  map[string]domain.PositionInfo
	IsLoading  bool
	Dropped    map[string]aggregate.DropReason
	ComputedAt time.Time
}

// View renders the result for JSON consumers.
func (a AccountPositions) View() view.Positions {
	return view.FromInfos(a.Account.Hex(), a.Positions, a.IsLoading)
}

// PositionService recomputes derived positions whenever any input changes:
// the confirmed snapshot, a ledger event, a pending update hint, or market
// and price data. Each recompute rebuilds the account's full position map
// from scratch.
type PositionService struct {
	positions domain.PositionStore
	events    domain.PositionEventStore
	pending   domain.PendingUpdateRegistry
	markets   domain.MarketCache
	tokens    domain.TokenCache
	referrals domain.ReferralCache
	bus       domain.SignalBus
	audit     domain.AuditStore
	locks     domain.LockManager
	alerter   Alerter
	metrics   *metrics.Metrics
	cfg       PositionConfig
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	results  map[common.Address]AccountPositions
	inflight map[common.Address]*sync.Mutex
}

// PositionDeps bundles the collaborators of a PositionService. Locks and
// Alerter are optional.
type PositionDeps struct {
	Positions domain.PositionStore
	Events    domain.PositionEventStore
	Pending   domain.PendingUpdateRegistry
	Markets   domain.MarketCache
	Tokens    domain.TokenCache
	Referrals domain.ReferralCache
	Bus       domain.SignalBus
	Audit     domain.AuditStore
	Locks     domain.LockManager
	Alerter   Alerter
	Metrics   *metrics.Metrics
}

// NewPositionService creates a PositionService.
func NewPositionService(deps PositionDeps, cfg PositionConfig, logger *slog.Logger) *PositionService {
	if cfg.PendingMaxAge <= 0 {
		cfg.PendingMaxAge = reconcile.DefaultPendingUpdateMaxAge
	}
	return &PositionService{
		positions: deps.Positions,
		events:    deps.Events,
		pending:   deps.Pending,
		markets:   deps.Markets,
		tokens:    deps.Tokens,
		referrals: deps.Referrals,
		bus:       deps.Bus,
		audit:     deps.Audit,
		locks:     deps.Locks,
		alerter:   deps.Alerter,
		metrics:   deps.Metrics,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "position_service")),
		now:       time.Now,
		results:   make(map[common.Address]AccountPositions),
		inflight:  make(map[common.Address]*sync.Mutex),
	}
}

// Positions returns the last derived state of account, computing it first
// when the account has never been seen.
func (s *PositionService) Positions(ctx context.Context, account common.Address) (AccountPositions, error) {
	s.mu.RLock()
	res, ok := s.results[account]
	s.mu.RUnlock()
	if ok {
		return res, nil
	}
	return s.Recompute(ctx, account)
}

// Accounts lists every account with a derived state, in address order.
func (s *PositionService) Accounts() []common.Address {
	s.mu.RLock()
	out := make([]common.Address, 0, len(s.results))
	for a := range s.results {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (s *PositionService) accountLock(account common.Address) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.inflight[account]
	if !ok {
		m = &sync.Mutex{}
		s.inflight[account] = m
	}
	return m
}

// Recompute rebuilds the derived positions of account from all current
// inputs, stores the result, publishes it and raises risk alerts. Recomputes
// of one account are serialized; when another replica holds the account's
// lock the previous result is returned unchanged.
func (s *PositionService) Recompute(ctx context.Context, account common.Address) (AccountPositions, error) {
	started := s.now()

	local := s.accountLock(account)
	local.Lock()
	defer local.Unlock()

	if s.locks != nil && s.cfg.LockTTL > 0 {
		unlock, err := s.locks.Acquire(ctx, "recompute:"+account.Hex(), s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.metrics.ObserveRecompute(resultSkipped, started)
			s.mu.RLock()
			prev, ok := s.results[account]
			s.mu.RUnlock()
			if !ok {
				prev = AccountPositions{
					Account:   account,
					Positions: map[string]domain.PositionInfo{},
					IsLoading: true,
				}
			}
			return prev, nil
		}
		if err != nil {
			s.metrics.ObserveRecompute(resultError, started)
			return AccountPositions{}, fmt.Errorf("position_service: acquire lock: %w", err)
		}
		defer unlock()
	}

	res, err := s.compute(ctx, account)
	if err != nil {
		s.metrics.ObserveRecompute(resultError, started)
		s.logger.ErrorContext(ctx, "position_service: recompute failed",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
		return AccountPositions{}, err
	}

	s.mu.Lock()
	prev := s.results[account]
	s.results[account] = res
	s.mu.Unlock()

	s.publish(ctx, res)
	s.alertTransitions(ctx, prev, res)
	s.record(res)

	if res.IsLoading {
		s.metrics.ObserveRecompute(resultLoading, started)
	} else {
		s.metrics.ObserveRecompute(resultOK, started)
	}
	s.logger.DebugContext(ctx, "position_service: recomputed",
		slog.String("account", account.Hex()),
		slog.Int("positions", len(res.Positions)),
		slog.Int("dropped", len(res.Dropped)),
		slog.Bool("loading", res.IsLoading),
		slog.Duration("took", time.Since(started)),
	)
	return res, nil
}

// RecomputeAll recomputes every account with a derived state plus extra.
// Failures are logged and do not stop the remaining accounts.
func (s *PositionService) RecomputeAll(ctx context.Context, extra []common.Address) {
	seen := make(map[common.Address]bool)
	accounts := append(s.Accounts(), extra...)
	for _, a := range accounts {
		if seen[a] {
			continue
		}
		seen[a] = true
		if ctx.Err() != nil {
			return
		}
		_, _ = s.Recompute(ctx, a)
	}
}

func (s *PositionService) compute(ctx context.Context, account common.Address) (AccountPositions, error) {
	now := s.now()

	markets, err := s.markets.GetAll(ctx)
	if err != nil {
		return AccountPositions{}, fmt.Errorf("position_service: load markets: %w", err)
	}
	tokens, err := s.tokens.GetAll(ctx)
	if err != nil {
		return AccountPositions{}, fmt.Errorf("position_service: load tokens: %w", err)
	}

	var referral *domain.UserReferralInfo
	if info, err := s.referrals.Get(ctx, account); err == nil {
		referral = &info
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "position_service: referral lookup failed",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
	}

	keys := aggregate.AllPositionKeys(account, markets)
	hashes := make([]string, len(keys))
	for i, k := range keys {
		hashes[i] = k.Hash()
	}

	snapshot, err := s.positions.GetByKeys(ctx, account, hashes)
	if err != nil {
		return AccountPositions{}, fmt.Errorf("position_service: load snapshot: %w", err)
	}
	events, err := s.events.Latest(ctx, hashes)
	if err != nil {
		return AccountPositions{}, fmt.Errorf("position_service: load events: %w", err)
	}
	pending, err := s.pending.List(ctx, account)
	if err != nil {
		return AccountPositions{}, fmt.Errorf("position_service: load pending updates: %w", err)
	}

	rec := reconcile.Reconcile(reconcile.Input{
		Keys:     keys,
		Snapshot: snapshot,
		Events:   events,
		Pending:  pending,
		Now:      now,
		MaxAge:   s.cfg.PendingMaxAge,
	})
	s.removeExpired(ctx, account, rec.Expired, pending)

	constants := s.cfg.Constants
	agg := aggregate.BuildPositionsInfo(aggregate.Input{
		Positions:   rec.Positions,
		Markets:     markets,
		Tokens:      tokens,
		Constants:   &constants,
		Referral:    referral,
		UIFeeFactor: s.cfg.UIFeeFactor,
	})

	return AccountPositions{
		Account:    account,
		Positions:  agg.Positions,
		IsLoading:  agg.IsLoading,
		Dropped:    agg.Dropped,
		ComputedAt: now,
	}, nil
}

// removeExpired drops hints the reconciler no longer needs. Keys for which
// no hint was registered are skipped.
func (s *PositionService) removeExpired(ctx context.Context, account common.Address, expired []string, pending map[string]domain.PendingUpdate) {
	for _, key := range expired {
		if _, ok := pending[key]; !ok {
			continue
		}
		if err := s.pending.Remove(ctx, account, key); err != nil {
			s.logger.WarnContext(ctx, "position_service: remove expired hint failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.metrics.ExpiredHints.Inc()
	}
}

func (s *PositionService) publish(ctx context.Context, res AccountPositions) {
	payload, err := json.Marshal(res.View())
	if err != nil {
		s.logger.ErrorContext(ctx, "position_service: marshal positions",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelPositions+res.Account.Hex(), payload); err != nil {
		s.logger.WarnContext(ctx, "position_service: publish positions failed",
			slog.String("account", res.Account.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// alertTransitions raises an alert when a position enters or leaves the
// low-collateral state. A position seen for the first time alerts only when
// it is already low.
func (s *PositionService) alertTransitions(ctx context.Context, prev, next AccountPositions) {
	for key, info := range next.Positions {
		was := false
		if p, ok := prev.Positions[key]; ok {
			was = p.HasLowCollateral
		}
		if was == info.HasLowCollateral {
			continue
		}

		event := notify.EventCollateralRestored
		if info.HasLowCollateral {
			event = notify.EventLowCollateral
		}
		v := view.FromInfo(info)

		if err := s.audit.Log(ctx, "position."+event, map[string]any{
			"account":  v.Account,
			"key":      key,
			"leverage": v.Leverage,
			"size_usd": v.SizeInUsd,
		}); err != nil {
			s.logger.WarnContext(ctx, "position_service: audit log failed",
				slog.String("error", err.Error()),
			)
		}

		s.logger.InfoContext(ctx, "position_service: collateral state changed",
			slog.String("account", v.Account),
			slog.String("key", key),
			slog.String("event", event),
		)

		if s.alerter == nil {
			continue
		}
		if err := s.alerter.PositionAlert(ctx, event, v); err != nil {
			s.logger.WarnContext(ctx, "position_service: alert failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *PositionService) record(res AccountPositions) {
	account := res.Account.Hex()
	low := 0
	for _, info := range res.Positions {
		if info.HasLowCollateral {
			low++
		}
	}
	s.metrics.Positions.WithLabelValues(account).Set(float64(len(res.Positions)))
	s.metrics.LowCollateral.WithLabelValues(account).Set(float64(low))
	for _, reason := range res.Dropped {
		s.metrics.DroppedKeys.WithLabelValues(string(reason)).Inc()
	}
}

// SubmitPendingUpdate registers a hint for a mutation that was just sent and
// recomputes the account. A zero UpdatedAt is stamped with the current time;
// a hint that is already stale is rejected.
func (s *PositionService) SubmitPendingUpdate(ctx context.Context, account common.Address, update domain.PendingUpdate) (AccountPositions, error) {
	if update.PositionKey == "" {
		return AccountPositions{}, fmt.Errorf("position_service: submit pending update: %w", domain.ErrInvalidKey)
	}
	now := s.now()
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = now
	}
	if reconcile.IsStale(update, now, s.cfg.PendingMaxAge) {
		return AccountPositions{}, fmt.Errorf("position_service: submit pending update: %w", domain.ErrStalePendingUpdate)
	}

	if err := s.pending.Put(ctx, account, update); err != nil {
		return AccountPositions{}, fmt.Errorf("position_service: put pending update: %w", err)
	}
	s.metrics.PendingUpdates.Inc()

	if err := s.audit.Log(ctx, "pending.submitted", map[string]any{
		"account":     account.Hex(),
		"key":         update.PositionKey,
		"is_increase": update.IsIncrease,
		"block":       update.UpdatedAtBlock,
	}); err != nil {
		s.logger.WarnContext(ctx, "position_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}

	return s.Recompute(ctx, account)
}

// IngestEvent appends a ledger event and recomputes the event's account. A
// redelivered event is accepted without a recompute.
func (s *PositionService) IngestEvent(ctx context.Context, ev domain.PositionEvent) (bool, error) {
	inserted, err := s.events.Append(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("position_service: append event: %w", err)
	}
	s.metrics.EventsIngested.WithLabelValues(string(ev.Kind), strconv.FormatBool(!inserted)).Inc()
	if !inserted {
		return false, nil
	}

	if err := s.audit.Log(ctx, "event.ingested", map[string]any{
		"account": ev.Account.Hex(),
		"key":     ev.PositionKey,
		"kind":    string(ev.Kind),
		"marker":  ev.Marker(),
	}); err != nil {
		s.logger.WarnContext(ctx, "position_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}

	if _, err := s.Recompute(ctx, ev.Account); err != nil {
		return true, err
	}
	return true, nil
}

// UpsertSnapshot replaces the confirmed state of a position, deleting it when
// its size is zero, and recomputes the account.
func (s *PositionService) UpsertSnapshot(ctx context.Context, p domain.Position) error {
	if p.SizeInUsd == nil || p.SizeInUsd.Sign() == 0 {
		err := s.positions.Delete(ctx, p.Key)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("position_service: delete snapshot: %w", err)
		}
	} else if err := s.positions.Upsert(ctx, p); err != nil {
		return fmt.Errorf("position_service: upsert snapshot: %w", err)
	}

	_, err := s.Recompute(ctx, p.Account)
	return err
}

// EventHistory lists the ledger events of one position, newest first.
func (s *PositionService) EventHistory(ctx context.Context, key string, opts domain.ListOpts) ([]domain.PositionEvent, error) {
	events, err := s.events.History(ctx, key, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: event history: %w", err)
	}
	return events, nil
}
