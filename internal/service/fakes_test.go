package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/fixed"
	"github.com/alanyoungcy/perprisk/internal/view"
)

var (
	account   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	ethAddr   = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	usdcAddr  = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	ethMarket = common.HexToAddress("0x70d95587d40A2caf56bd97485aB3Eec10Bee6336")
)

func usd(n int64) *big.Int { return fixed.ExpandDecimals(n, 30) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func longKey() domain.PositionKey {
	return domain.PositionKey{Account: account, Market: ethMarket, CollateralToken: usdcAddr, IsLong: true}
}

func confirmedLong(collateralUsdc int64) domain.Position {
	return domain.Position{
		Key:                       longKey().Hash(),
		Account:                   account,
		MarketAddress:             ethMarket,
		CollateralTokenAddress:    usdcAddr,
		IsLong:                    true,
		SizeInUsd:                 usd(10_000),
		SizeInTokens:              fixed.ExpandDecimals(5, 18),
		CollateralAmount:          fixed.ExpandDecimals(collateralUsdc, 6),
		PendingBorrowingFeesUsd:   new(big.Int),
		FundingFeeAmount:          new(big.Int),
		ClaimableLongTokenAmount:  new(big.Int),
		ClaimableShortTokenAmount: new(big.Int),
		IncreasedAtTime:           10,
	}
}

type memPositions struct {
	mu   sync.Mutex
	rows map[string]domain.Position
}

func (m *memPositions) Upsert(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.Key] = p.Clone()
	return nil
}

func (m *memPositions) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rows, key)
	return nil
}

func (m *memPositions) GetByKeys(_ context.Context, acc common.Address, keys []string) (map[string]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]domain.Position{}
	for _, k := range keys {
		if p, ok := m.rows[k]; ok && p.Account == acc {
			out[k] = p.Clone()
		}
	}
	return out, nil
}

func (m *memPositions) ListByAccount(_ context.Context, acc common.Address) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.rows {
		if p.Account == acc {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []domain.PositionEvent
}

func (m *memEvents) Append(_ context.Context, ev domain.PositionEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.PositionKey == ev.PositionKey && e.Kind == ev.Kind && e.Marker() == ev.Marker() {
			return false, nil
		}
	}
	m.events = append(m.events, ev)
	return true, nil
}

func (m *memEvents) Latest(_ context.Context, keys []string) ([]domain.PositionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, k := range keys {
		want[k] = true
	}
	var out []domain.PositionEvent
	for _, e := range m.events {
		if want[e.PositionKey] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEvents) History(_ context.Context, key string, _ domain.ListOpts) ([]domain.PositionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PositionEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].PositionKey == key {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

type memPending struct {
	mu      sync.Mutex
	hints   map[common.Address]map[string]domain.PendingUpdate
	removed []string
}

func newMemPending() *memPending {
	return &memPending{hints: map[common.Address]map[string]domain.PendingUpdate{}}
}

func (m *memPending) Put(_ context.Context, acc common.Address, u domain.PendingUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hints[acc] == nil {
		m.hints[acc] = map[string]domain.PendingUpdate{}
	}
	m.hints[acc][u.PositionKey] = u.Clone()
	return nil
}

func (m *memPending) List(_ context.Context, acc common.Address) (map[string]domain.PendingUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]domain.PendingUpdate{}
	for k, u := range m.hints[acc] {
		out[k] = u.Clone()
	}
	return out, nil
}

func (m *memPending) Remove(_ context.Context, acc common.Address, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hints[acc], key)
	m.removed = append(m.removed, key)
	return nil
}

type memMarkets struct {
	mu      sync.Mutex
	markets map[common.Address]domain.MarketInfo
}

func (m *memMarkets) Set(_ context.Context, mi domain.MarketInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets[mi.MarketTokenAddress] = mi
	return nil
}

func (m *memMarkets) GetAll(_ context.Context) (map[common.Address]domain.MarketInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[common.Address]domain.MarketInfo, len(m.markets))
	for k, v := range m.markets {
		out[k] = v
	}
	return out, nil
}

func (m *memMarkets) Invalidate(_ context.Context, addr common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markets, addr)
	return nil
}

type memTokens struct {
	mu     sync.Mutex
	tokens map[common.Address]domain.TokenData
}

func (m *memTokens) SetToken(_ context.Context, t domain.TokenData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prices := m.tokens[t.Address].Prices
	t.Prices = prices
	m.tokens[t.Address] = t
	return nil
}

func (m *memTokens) SetPrices(_ context.Context, addr common.Address, p domain.TokenPrices, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tokens[addr]
	t.Address = addr
	t.Prices = p
	m.tokens[addr] = t
	return nil
}

func (m *memTokens) GetAll(_ context.Context) (map[common.Address]domain.TokenData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[common.Address]domain.TokenData, len(m.tokens))
	for k, v := range m.tokens {
		out[k] = v
	}
	return out, nil
}

type memReferrals struct {
	infos map[common.Address]domain.UserReferralInfo
}

func (m *memReferrals) Get(_ context.Context, acc common.Address) (domain.UserReferralInfo, error) {
	info, ok := m.infos[acc]
	if !ok {
		return domain.UserReferralInfo{}, domain.ErrNotFound
	}
	return info, nil
}

func (m *memReferrals) Set(_ context.Context, acc common.Address, info domain.UserReferralInfo) error {
	m.infos[acc] = info
	return nil
}

type published struct {
	channel string
	payload []byte
}

type memBus struct {
	mu   sync.Mutex
	sent []published
}

func (m *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, published{channel, payload})
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (m *memBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (m *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (m *memBus) channels(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.sent {
		if strings.HasPrefix(p.channel, prefix) {
			out = append(out, p.channel)
		}
	}
	return out
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memAudit) logged() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.events...)
	sort.Strings(out)
	return out
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type recordingAlerter struct {
	events []string
}

func (r *recordingAlerter) PositionAlert(_ context.Context, event string, _ view.Position) error {
	r.events = append(r.events, event)
	return nil
}
