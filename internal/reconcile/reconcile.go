// Package reconcile merges the confirmed position snapshot with ledger events
// and pending-update hints into the working set of positions for one
// account. Every pass rebuilds the set from its inputs; nothing is retained
// between calls.
package reconcile

import (
	"math/big"
	"time"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

// DefaultPendingUpdateMaxAge is how long a pending update stays relevant
// after it was registered.
const DefaultPendingUpdateMaxAge = 600 * time.Second

// Input is everything one reconciliation pass reads.
type Input struct {
	// Keys enumerates the positions the account could hold.
	Keys []domain.PositionKey
	// Snapshot holds confirmed positions by key hash.
	Snapshot map[string]domain.Position
	// Events may contain any number of events per key, in any order.
	Events []domain.PositionEvent
	// Pending holds at most one hint per key hash.
	Pending map[string]domain.PendingUpdate

	Now    time.Time
	MaxAge time.Duration // zero means DefaultPendingUpdateMaxAge
}

// Result is the output of a pass.
type Result struct {
	// Positions is the full working set by key hash. Every entry has a
	// positive SizeInUsd.
	Positions map[string]domain.Position
	// Expired lists pending hints that are stale or were superseded by a
	// confirmed mutation and can be removed from the registry.
	Expired []string
}

// IsStale reports whether u is older than maxAge at now.
func IsStale(u domain.PendingUpdate, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultPendingUpdateMaxAge
	}
	return now.Sub(u.UpdatedAt) > maxAge
}

// Reconcile runs one pass. The result depends only on in: the same input
// always yields the same output, and event delivery order does not matter.
func Reconcile(in Input) Result {
	latest := latestEvents(in.Events)

	out := Result{Positions: make(map[string]domain.Position, len(in.Snapshot))}
	for _, key := range in.Keys {
		hash := key.Hash()

		var pending *domain.PendingUpdate
		if u, ok := in.Pending[hash]; ok {
			if IsStale(u, in.Now, in.MaxAge) {
				out.Expired = append(out.Expired, hash)
			} else {
				c := u.Clone()
				c.PositionKey = hash
				pending = &c
			}
		}

		position, ok := seed(key, hash, in.Snapshot, pending)
		if !ok {
			continue
		}

		applied := applyLatestEvent(&position, latest[hash])

		if pending != nil {
			if superseded(position, *pending, applied) {
				out.Expired = append(out.Expired, hash)
			} else {
				position.PendingUpdate = pending
			}
		}

		if position.SizeInUsd == nil || position.SizeInUsd.Sign() <= 0 {
			continue
		}
		out.Positions[hash] = position
	}
	return out
}

// seed starts from the confirmed snapshot, or from a pending increase for a
// position the ledger has not confirmed yet.
func seed(key domain.PositionKey, hash string, snapshot map[string]domain.Position, pending *domain.PendingUpdate) (domain.Position, bool) {
	if confirmed, ok := snapshot[hash]; ok {
		p := confirmed.Clone()
		p.Key = hash
		p.PendingUpdate = nil
		return p, true
	}
	if pending == nil || !pending.IsIncrease {
		return domain.Position{}, false
	}
	return domain.Position{
		Key:                       hash,
		Account:                   key.Account,
		MarketAddress:             key.Market,
		CollateralTokenAddress:    key.CollateralToken,
		IsLong:                    key.IsLong,
		SizeInUsd:                 orZero(pending.SizeDeltaUsd),
		SizeInTokens:              orZero(pending.SizeDeltaInTokens),
		CollateralAmount:          orZero(pending.CollateralDeltaAmount),
		PendingBorrowingFeesUsd:   new(big.Int),
		FundingFeeAmount:          new(big.Int),
		ClaimableLongTokenAmount:  new(big.Int),
		ClaimableShortTokenAmount: new(big.Int),
		IsOpening:                 true,
	}, true
}

type eventPair struct {
	increase *domain.PositionEvent
	decrease *domain.PositionEvent
}

// latestEvents keeps the highest-marker increase and decrease per key.
func latestEvents(events []domain.PositionEvent) map[string]eventPair {
	out := make(map[string]eventPair)
	for i := range events {
		ev := &events[i]
		pair := out[ev.PositionKey]
		switch ev.Kind {
		case domain.PositionEventIncrease:
			if newer(ev, pair.increase) {
				pair.increase = ev
			}
		case domain.PositionEventDecrease:
			if newer(ev, pair.decrease) {
				pair.decrease = ev
			}
		default:
			continue
		}
		out[ev.PositionKey] = pair
	}
	return out
}

// newer orders by marker. Duplicates with equal markers are ordered by
// their payload so the choice never depends on delivery order.
func newer(ev, current *domain.PositionEvent) bool {
	if current == nil {
		return true
	}
	if ev.Marker() != current.Marker() {
		return ev.Marker() > current.Marker()
	}
	for _, pair := range [][2]*big.Int{
		{ev.SizeInUsd, current.SizeInUsd},
		{ev.SizeInTokens, current.SizeInTokens},
		{ev.CollateralAmount, current.CollateralAmount},
	} {
		if c := orZero(pair[0]).Cmp(orZero(pair[1])); c != 0 {
			return c > 0
		}
	}
	return false
}

// applyLatestEvent overwrites the position with whichever event is newer
// than both the position itself and the opposite event. It reports whether
// an event was applied.
func applyLatestEvent(p *domain.Position, pair eventPair) bool {
	var increasedAt, decreasedAt uint64
	if pair.increase != nil {
		increasedAt = pair.increase.IncreasedAtTime
	}
	if pair.decrease != nil {
		decreasedAt = pair.decrease.DecreasedAtTime
	}

	switch {
	case pair.increase != nil && increasedAt > p.IncreasedAtTime && increasedAt > decreasedAt:
		overwrite(p, pair.increase)
		p.IncreasedAtTime = increasedAt
		return true
	case pair.decrease != nil && decreasedAt > p.DecreasedAtTime && decreasedAt > increasedAt:
		overwrite(p, pair.decrease)
		p.DecreasedAtTime = decreasedAt
		return true
	}
	return false
}

// overwrite copies the authoritative sizes from ev. Fee accrual restarts on
// every ledger mutation.
func overwrite(p *domain.Position, ev *domain.PositionEvent) {
	p.SizeInUsd = orZero(ev.SizeInUsd)
	p.SizeInTokens = orZero(ev.SizeInTokens)
	p.CollateralAmount = orZero(ev.CollateralAmount)
	p.PendingBorrowingFeesUsd = new(big.Int)
	p.FundingFeeAmount = new(big.Int)
	p.ClaimableLongTokenAmount = new(big.Int)
	p.ClaimableShortTokenAmount = new(big.Int)
	p.IsOpening = false
	p.PendingUpdate = nil
}

// superseded reports whether a confirmed mutation already covers u. A
// synthetic opening always keeps its hint. A hint without a block number can
// only be superseded by an event applied in this pass; otherwise the
// position's marker must have reached the hint's block.
func superseded(p domain.Position, u domain.PendingUpdate, eventApplied bool) bool {
	if p.IsOpening {
		return false
	}
	if u.UpdatedAtBlock == 0 {
		return eventApplied
	}
	marker := p.DecreasedAtTime
	if u.IsIncrease {
		marker = p.IncreasedAtTime
	}
	return marker >= u.UpdatedAtBlock
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
