package reconcile

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

var (
	account = common.HexToAddress("0x1111111111111111111111111111111111111111")
	market  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	usdc    = common.HexToAddress("0x3333333333333333333333333333333333333333")

	longKey  = domain.PositionKey{Account: account, Market: market, CollateralToken: usdc, IsLong: true}
	shortKey = domain.PositionKey{Account: account, Market: market, CollateralToken: usdc, IsLong: false}

	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func n(v int64) *big.Int { return big.NewInt(v) }

func confirmed(key domain.PositionKey, size int64, increasedAt, decreasedAt uint64) domain.Position {
	return domain.Position{
		Key:                       key.Hash(),
		Account:                   key.Account,
		MarketAddress:             key.Market,
		CollateralTokenAddress:    key.CollateralToken,
		IsLong:                    key.IsLong,
		SizeInUsd:                 n(size),
		SizeInTokens:              n(size / 2),
		CollateralAmount:          n(size / 10),
		PendingBorrowingFeesUsd:   n(7),
		FundingFeeAmount:          n(3),
		ClaimableLongTokenAmount:  n(1),
		ClaimableShortTokenAmount: n(2),
		IncreasedAtTime:           increasedAt,
		DecreasedAtTime:           decreasedAt,
	}
}

func increase(key domain.PositionKey, size int64, at uint64) domain.PositionEvent {
	return domain.PositionEvent{
		Kind:             domain.PositionEventIncrease,
		PositionKey:      key.Hash(),
		Account:          key.Account,
		SizeInUsd:        n(size),
		SizeInTokens:     n(size / 2),
		CollateralAmount: n(size / 10),
		IncreasedAtTime:  at,
	}
}

func decrease(key domain.PositionKey, size int64, at uint64) domain.PositionEvent {
	ev := increase(key, size, 0)
	ev.Kind = domain.PositionEventDecrease
	ev.DecreasedAtTime = at
	return ev
}

func baseInput() Input {
	return Input{
		Keys:     []domain.PositionKey{longKey, shortKey},
		Snapshot: map[string]domain.Position{longKey.Hash(): confirmed(longKey, 1000, 10, 0)},
		Now:      now,
	}
}

func TestSnapshotPassesThrough(t *testing.T) {
	res := Reconcile(baseInput())

	require.Len(t, res.Positions, 1)
	p := res.Positions[longKey.Hash()]
	assert.Equal(t, "1000", p.SizeInUsd.String())
	assert.Equal(t, "7", p.PendingBorrowingFeesUsd.String())
	assert.False(t, p.IsOpening)
	assert.Nil(t, p.PendingUpdate)
	assert.Empty(t, res.Expired)
}

func TestReconcileIsIdempotent(t *testing.T) {
	in := baseInput()
	in.Events = []domain.PositionEvent{increase(longKey, 1500, 20), decrease(longKey, 1200, 15)}
	in.Pending = map[string]domain.PendingUpdate{
		shortKey.Hash(): {IsIncrease: true, SizeDeltaUsd: n(300), UpdatedAtBlock: 30, UpdatedAt: now.Add(-time.Minute)},
	}

	first := Reconcile(in)
	second := Reconcile(in)
	assert.Equal(t, first, second)

	// The snapshot handed in is never modified.
	assert.Equal(t, "1000", in.Snapshot[longKey.Hash()].SizeInUsd.String())
	assert.Equal(t, "7", in.Snapshot[longKey.Hash()].PendingBorrowingFeesUsd.String())
}

func TestEventOrderDoesNotMatter(t *testing.T) {
	forward := baseInput()
	forward.Events = []domain.PositionEvent{increase(longKey, 3000, 50), increase(longKey, 2000, 30)}

	reverse := baseInput()
	reverse.Events = []domain.PositionEvent{increase(longKey, 2000, 30), increase(longKey, 3000, 50)}

	a := Reconcile(forward).Positions[longKey.Hash()]
	b := Reconcile(reverse).Positions[longKey.Hash()]
	assert.Equal(t, a, b)
	assert.Equal(t, "3000", a.SizeInUsd.String())
	assert.Equal(t, uint64(50), a.IncreasedAtTime)
}

func TestDuplicateEventsWithEqualMarkers(t *testing.T) {
	forward := baseInput()
	forward.Events = []domain.PositionEvent{increase(longKey, 3000, 50), increase(longKey, 2000, 50)}

	reverse := baseInput()
	reverse.Events = []domain.PositionEvent{increase(longKey, 2000, 50), increase(longKey, 3000, 50)}

	assert.Equal(t, Reconcile(forward), Reconcile(reverse))
}

func TestIncreaseEventResetsFees(t *testing.T) {
	in := baseInput()
	in.Events = []domain.PositionEvent{increase(longKey, 1500, 20)}

	p := Reconcile(in).Positions[longKey.Hash()]
	assert.Equal(t, "1500", p.SizeInUsd.String())
	assert.Equal(t, "750", p.SizeInTokens.String())
	assert.Equal(t, "150", p.CollateralAmount.String())
	for _, fee := range []*big.Int{p.PendingBorrowingFeesUsd, p.FundingFeeAmount, p.ClaimableLongTokenAmount, p.ClaimableShortTokenAmount} {
		assert.Equal(t, 0, fee.Sign())
	}
	assert.Equal(t, uint64(20), p.IncreasedAtTime)
}

func TestOlderEventsAreIgnored(t *testing.T) {
	in := baseInput()
	in.Snapshot[longKey.Hash()] = confirmed(longKey, 1000, 10, 8)
	in.Events = []domain.PositionEvent{increase(longKey, 500, 10), decrease(longKey, 200, 8)}

	p := Reconcile(in).Positions[longKey.Hash()]
	assert.Equal(t, "1000", p.SizeInUsd.String())
	assert.Equal(t, "7", p.PendingBorrowingFeesUsd.String())
}

func TestDecreaseNewerThanIncreaseWins(t *testing.T) {
	in := baseInput()
	in.Events = []domain.PositionEvent{increase(longKey, 1500, 20), decrease(longKey, 600, 25)}

	p := Reconcile(in).Positions[longKey.Hash()]
	assert.Equal(t, "600", p.SizeInUsd.String())
	assert.Equal(t, uint64(25), p.DecreasedAtTime)
	assert.Equal(t, uint64(10), p.IncreasedAtTime)
}

func TestDecreaseToZeroRemovesPosition(t *testing.T) {
	in := baseInput()
	in.Events = []domain.PositionEvent{decrease(longKey, 0, 20)}

	res := Reconcile(in)
	assert.NotContains(t, res.Positions, longKey.Hash())
	for _, p := range res.Positions {
		assert.Positive(t, p.SizeInUsd.Sign())
	}
}

func TestEventWithoutSeedIsDropped(t *testing.T) {
	in := baseInput()
	in.Events = []domain.PositionEvent{increase(shortKey, 900, 40)}

	res := Reconcile(in)
	assert.NotContains(t, res.Positions, shortKey.Hash())
}

func TestPendingIncreaseSynthesizesOpeningPosition(t *testing.T) {
	in := baseInput()
	in.Pending = map[string]domain.PendingUpdate{
		shortKey.Hash(): {
			IsIncrease:            true,
			SizeDeltaUsd:          n(400),
			CollateralDeltaAmount: n(40),
			UpdatedAtBlock:        99,
			UpdatedAt:             now.Add(-10 * time.Second),
		},
	}

	res := Reconcile(in)
	p, ok := res.Positions[shortKey.Hash()]
	require.True(t, ok)
	assert.True(t, p.IsOpening)
	assert.Equal(t, "400", p.SizeInUsd.String())
	assert.Equal(t, "0", p.SizeInTokens.String())
	assert.Equal(t, "40", p.CollateralAmount.String())
	assert.Equal(t, "0", p.FundingFeeAmount.String())
	assert.Equal(t, shortKey.Market, p.MarketAddress)
	assert.False(t, p.IsLong)
	require.NotNil(t, p.PendingUpdate)
	assert.Equal(t, uint64(99), p.PendingUpdate.UpdatedAtBlock)
}

func TestPendingDecreaseDoesNotSynthesize(t *testing.T) {
	in := baseInput()
	in.Pending = map[string]domain.PendingUpdate{
		shortKey.Hash(): {IsIncrease: false, SizeDeltaUsd: n(400), UpdatedAtBlock: 99, UpdatedAt: now},
	}

	res := Reconcile(in)
	assert.NotContains(t, res.Positions, shortKey.Hash())
}

func TestStalePendingUpdate(t *testing.T) {
	in := baseInput()
	in.Pending = map[string]domain.PendingUpdate{
		longKey.Hash():  {IsIncrease: true, UpdatedAtBlock: 50, UpdatedAt: now.Add(-601 * time.Second)},
		shortKey.Hash(): {IsIncrease: true, SizeDeltaUsd: n(400), UpdatedAtBlock: 50, UpdatedAt: now.Add(-601 * time.Second)},
	}

	res := Reconcile(in)
	for _, p := range res.Positions {
		assert.Nil(t, p.PendingUpdate)
	}
	assert.NotContains(t, res.Positions, shortKey.Hash(), "a stale hint cannot open a position")
	assert.ElementsMatch(t, []string{longKey.Hash(), shortKey.Hash()}, res.Expired)
}

func TestPendingUpdateAtWindowEdgeIsKept(t *testing.T) {
	in := baseInput()
	in.Pending = map[string]domain.PendingUpdate{
		longKey.Hash(): {IsIncrease: true, UpdatedAtBlock: 50, UpdatedAt: now.Add(-DefaultPendingUpdateMaxAge)},
	}

	p := Reconcile(in).Positions[longKey.Hash()]
	require.NotNil(t, p.PendingUpdate)
}

func TestCustomMaxAge(t *testing.T) {
	in := baseInput()
	in.MaxAge = 30 * time.Second
	in.Pending = map[string]domain.PendingUpdate{
		longKey.Hash(): {IsIncrease: true, UpdatedAtBlock: 50, UpdatedAt: now.Add(-31 * time.Second)},
	}

	p := Reconcile(in).Positions[longKey.Hash()]
	assert.Nil(t, p.PendingUpdate)
}

func TestPendingAttachRespectsDirectionMarkers(t *testing.T) {
	tests := []struct {
		name       string
		isIncrease bool
		block      uint64
		attached   bool
	}{
		{"increase newer than increase marker", true, 11, true},
		{"increase not newer than increase marker", true, 10, false},
		{"decrease newer than decrease marker", false, 6, true},
		{"decrease not newer than decrease marker", false, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			in.Snapshot[longKey.Hash()] = confirmed(longKey, 1000, 10, 5)
			in.Pending = map[string]domain.PendingUpdate{
				longKey.Hash(): {IsIncrease: tt.isIncrease, UpdatedAtBlock: tt.block, UpdatedAt: now},
			}

			res := Reconcile(in)
			p := res.Positions[longKey.Hash()]
			if tt.attached {
				require.NotNil(t, p.PendingUpdate)
				assert.Equal(t, longKey.Hash(), p.PendingUpdate.PositionKey)
				assert.Empty(t, res.Expired)
			} else {
				assert.Nil(t, p.PendingUpdate)
				assert.Equal(t, []string{longKey.Hash()}, res.Expired)
			}
		})
	}
}

func TestConfirmingEventSupersedesOpening(t *testing.T) {
	in := baseInput()
	in.Pending = map[string]domain.PendingUpdate{
		shortKey.Hash(): {IsIncrease: true, SizeDeltaUsd: n(400), UpdatedAtBlock: 40, UpdatedAt: now},
	}
	in.Events = []domain.PositionEvent{increase(shortKey, 420, 40)}

	res := Reconcile(in)
	p := res.Positions[shortKey.Hash()]
	assert.False(t, p.IsOpening)
	assert.Equal(t, "420", p.SizeInUsd.String())
	assert.Nil(t, p.PendingUpdate)
	assert.Contains(t, res.Expired, shortKey.Hash())
}

func TestOpeningHintWithoutBlockSurvivesPasses(t *testing.T) {
	in := baseInput()
	in.Pending = map[string]domain.PendingUpdate{
		shortKey.Hash(): {IsIncrease: true, SizeDeltaUsd: n(400), UpdatedAt: now},
	}

	for _, at := range []time.Time{now, now.Add(5 * time.Second), now.Add(9 * time.Minute)} {
		in.Now = at
		res := Reconcile(in)
		p, ok := res.Positions[shortKey.Hash()]
		require.True(t, ok, "opening position missing at %s", at)
		assert.True(t, p.IsOpening)
		require.NotNil(t, p.PendingUpdate)
		assert.Empty(t, res.Expired)
	}
}

func TestHintWithoutBlock(t *testing.T) {
	t.Run("kept on a confirmed position", func(t *testing.T) {
		in := baseInput()
		in.Pending = map[string]domain.PendingUpdate{
			longKey.Hash(): {IsIncrease: true, SizeDeltaUsd: n(100), UpdatedAt: now},
		}

		res := Reconcile(in)
		require.NotNil(t, res.Positions[longKey.Hash()].PendingUpdate)
		assert.Empty(t, res.Expired)
	})

	t.Run("superseded by an applied event", func(t *testing.T) {
		in := baseInput()
		in.Pending = map[string]domain.PendingUpdate{
			longKey.Hash(): {IsIncrease: true, SizeDeltaUsd: n(100), UpdatedAt: now},
		}
		in.Events = []domain.PositionEvent{increase(longKey, 1100, 11)}

		res := Reconcile(in)
		p := res.Positions[longKey.Hash()]
		assert.Equal(t, "1100", p.SizeInUsd.String())
		assert.Nil(t, p.PendingUpdate)
		assert.Equal(t, []string{longKey.Hash()}, res.Expired)
	})
}

func TestIsStale(t *testing.T) {
	u := domain.PendingUpdate{UpdatedAt: now.Add(-600 * time.Second)}
	assert.False(t, IsStale(u, now, 0))
	assert.True(t, IsStale(u, now.Add(time.Millisecond), 0))
}
