package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/service"
	"github.com/alanyoungcy/perprisk/internal/view"
)

const account = "0x1111111111111111111111111111111111111111"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubPositions struct {
	recomputed bool
	pending    []domain.PendingUpdate
	events     []domain.PositionEvent
	snapshots  []domain.Position
	err        error
}

func (s *stubPositions) result(a common.Address) service.AccountPositions {
	return service.AccountPositions{Account: a, Positions: map[string]domain.PositionInfo{}}
}

func (s *stubPositions) Positions(_ context.Context, a common.Address) (service.AccountPositions, error) {
	return s.result(a), s.err
}

func (s *stubPositions) Recompute(_ context.Context, a common.Address) (service.AccountPositions, error) {
	s.recomputed = true
	return s.result(a), s.err
}

func (s *stubPositions) SubmitPendingUpdate(_ context.Context, a common.Address, u domain.PendingUpdate) (service.AccountPositions, error) {
	if s.err != nil {
		return service.AccountPositions{}, s.err
	}
	s.pending = append(s.pending, u)
	return s.result(a), nil
}

func (s *stubPositions) IngestEvent(_ context.Context, ev domain.PositionEvent) (bool, error) {
	for _, e := range s.events {
		if e.PositionKey == ev.PositionKey && e.Marker() == ev.Marker() {
			return false, nil
		}
	}
	s.events = append(s.events, ev)
	return true, s.err
}

func (s *stubPositions) UpsertSnapshot(_ context.Context, p domain.Position) error {
	s.snapshots = append(s.snapshots, p)
	return s.err
}

func (s *stubPositions) EventHistory(_ context.Context, key string, _ domain.ListOpts) ([]domain.PositionEvent, error) {
	return s.events, s.err
}

func do(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestListPositions(t *testing.T) {
	stub := &stubPositions{}
	h := NewPositionHandler(stub, quietLogger())

	rec := do(h.ListPositions, http.MethodGet, "/api/positions?account="+account, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got view.Positions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, common.HexToAddress(account).Hex(), got.Account)
	assert.False(t, stub.recomputed)

	rec = do(h.ListPositions, http.MethodGet, "/api/positions?account="+account+"&refresh=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, stub.recomputed)
}

func TestListPositionsRequiresAccount(t *testing.T) {
	h := NewPositionHandler(&stubPositions{}, quietLogger())

	assert.Equal(t, http.StatusBadRequest, do(h.ListPositions, http.MethodGet, "/api/positions", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h.ListPositions, http.MethodGet, "/api/positions?account=0x12", "").Code)
}

func TestListPositionsHidesInternalErrors(t *testing.T) {
	h := NewPositionHandler(&stubPositions{err: errors.New("connection refused")}, quietLogger())

	rec := do(h.ListPositions, http.MethodGet, "/api/positions?account="+account, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestSubmitPending(t *testing.T) {
	stub := &stubPositions{}
	h := NewPositionHandler(stub, quietLogger())

	body := `{"account":"` + account + `","positionKey":"0xabc","isIncrease":true,"sizeDeltaUsd":"100","updatedAtBlock":9}`
	rec := do(h.SubmitPending, http.MethodPost, "/api/positions/pending", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, stub.pending, 1)
	assert.Equal(t, "100", stub.pending[0].SizeDeltaUsd.String())
	assert.Equal(t, uint64(9), stub.pending[0].UpdatedAtBlock)

	rec = do(h.SubmitPending, http.MethodPost, "/api/positions/pending", `{"account":"`+account+`","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitStalePendingIsConflict(t *testing.T) {
	stub := &stubPositions{err: fmt.Errorf("position_service: %w", domain.ErrStalePendingUpdate)}
	h := NewPositionHandler(stub, quietLogger())

	body := `{"account":"` + account + `","positionKey":"0xabc","isIncrease":true}`
	rec := do(h.SubmitPending, http.MethodPost, "/api/positions/pending", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIngestEventIsIdempotent(t *testing.T) {
	stub := &stubPositions{}
	h := NewPositionHandler(stub, quietLogger())
	body := `{"kind":"decrease","positionKey":"0xabc","account":"` + account + `",
		"sizeInUsd":"0","sizeInTokens":"0","collateralAmount":"0","decreasedAtTime":12}`

	rec := do(h.IngestEvent, http.MethodPost, "/api/positions/events", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = do(h.IngestEvent, http.MethodPost, "/api/positions/events", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"inserted":false}`, rec.Body.String())

	rec = do(h.IngestEvent, http.MethodPost, "/api/positions/events", `{"kind":"increase","positionKey":"0xabc","account":"`+account+`","sizeInUsd":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertSnapshotDerivesKey(t *testing.T) {
	stub := &stubPositions{}
	h := NewPositionHandler(stub, quietLogger())
	body := `{"account":"` + account + `","market":"0x70d95587d40A2caf56bd97485aB3Eec10Bee6336",
		"collateralToken":"0xaf88d065e77c8cC2239327C5EDb3A432268e5831","isLong":true,
		"sizeInUsd":"1","sizeInTokens":"1","collateralAmount":"1"}`

	rec := do(h.UpsertSnapshot, http.MethodPost, "/api/positions/snapshot", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, stub.snapshots, 1)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, stub.snapshots[0].Key, got["key"])
	assert.Equal(t, stub.snapshots[0].PositionKey().Hash(), got["key"])
}

func TestListEvents(t *testing.T) {
	stub := &stubPositions{events: []domain.PositionEvent{{
		Kind:             domain.PositionEventIncrease,
		PositionKey:      "0xabc",
		Account:          common.HexToAddress(account),
		SizeInUsd:        big.NewInt(10),
		SizeInTokens:     big.NewInt(1),
		CollateralAmount: big.NewInt(2),
		IncreasedAtTime:  5,
	}}}
	h := NewPositionHandler(stub, quietLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions/{key}/events", h.ListEvents)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/0xabc/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Events []view.EventMessage `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Events, 1)
	assert.Equal(t, "10", got.Events[0].SizeInUsd)
	assert.Equal(t, "increase", got.Events[0].Kind)
}

type stubMarkets struct {
	markets   []domain.MarketInfo
	tokens    []domain.TokenData
	referrals map[common.Address]domain.UserReferralInfo
	prices    []service.PriceUpdate
}

func (s *stubMarkets) Markets(context.Context) ([]domain.MarketInfo, error) { return s.markets, nil }

func (s *stubMarkets) SyncMarkets(_ context.Context, m []domain.MarketInfo) error {
	s.markets = append(s.markets, m...)
	return nil
}

func (s *stubMarkets) SyncTokens(_ context.Context, tokens []domain.TokenData) error {
	for _, tk := range tokens {
		if tk.Decimals > 77 {
			return domain.ErrInvalidAmount
		}
	}
	s.tokens = append(s.tokens, tokens...)
	return nil
}

func (s *stubMarkets) SetReferral(_ context.Context, a common.Address, info domain.UserReferralInfo) error {
	s.referrals[a] = info
	return nil
}

func (s *stubMarkets) UpdatePrices(_ context.Context, u []service.PriceUpdate) error {
	s.prices = append(s.prices, u...)
	return nil
}

func TestSyncMarketsAcceptsWideFactors(t *testing.T) {
	stub := &stubMarkets{}
	h := NewMarketHandler(stub, stub, quietLogger())
	body := `[{"marketTokenAddress":"0x70d95587d40A2caf56bd97485aB3Eec10Bee6336","name":"ETH/USD",
		"minCollateralFactor":10000000000000000000000000000}]`

	rec := do(h.SyncMarkets, http.MethodPost, "/api/markets", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, stub.markets, 1)
	assert.Equal(t, "10000000000000000000000000000", stub.markets[0].MinCollateralFactor.String())

	rec = do(h.ListMarkets, http.MethodGet, "/api/markets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestSyncTokensRejectsInvalid(t *testing.T) {
	h := NewMarketHandler(&stubMarkets{}, &stubMarkets{}, quietLogger())
	rec := do(h.SyncTokens, http.MethodPost, "/api/tokens", `[{"address":"0x82aF49447D8a07e3bd95BD0d56f35241523fBab1","decimals":99}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePrices(t *testing.T) {
	stub := &stubMarkets{}
	h := NewMarketHandler(stub, stub, quietLogger())

	body := `[{"token":"0x82aF49447D8a07e3bd95BD0d56f35241523fBab1","minPrice":"2000","maxPrice":"2001","at":"2025-03-01T12:00:00Z"}]`
	rec := do(h.UpdatePrices, http.MethodPost, "/api/prices", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, stub.prices, 1)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), stub.prices[0].At)

	body = `[{"token":"0x82aF49447D8a07e3bd95BD0d56f35241523fBab1","minPrice":"2002","maxPrice":"2001"}]`
	rec = do(h.UpdatePrices, http.MethodPost, "/api/prices", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, stub.prices, 1)
}

func TestSetReferral(t *testing.T) {
	stub := &stubMarkets{referrals: map[common.Address]domain.UserReferralInfo{}}
	h := NewMarketHandler(stub, stub, quietLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/referrals/{account}", h.SetReferral)
	rec := httptest.NewRecorder()
	body := `{"referralCode":"alpha","totalRebateFactor":100,"discountFactor":50}`
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/referrals/"+account, strings.NewReader(body)))

	require.Equal(t, http.StatusNoContent, rec.Code)
	info := stub.referrals[common.HexToAddress(account)]
	assert.Equal(t, "alpha", info.ReferralCode)
	assert.Equal(t, "50", info.DiscountFactor.String())
}

type stubLister struct{}

func (stubLister) ListSnapshots(_ context.Context, acc string) ([]domain.BlobInfo, error) {
	return []domain.BlobInfo{{Path: "positions/snapshots/" + acc + "/a.jsonl", Size: 10}}, nil
}

func TestArchiveEndpoints(t *testing.T) {
	h := NewArchiveHandler(stubLister{}, quietLogger())

	rec := do(h.ListSnapshots, http.MethodGet, "/api/archives?account="+account, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), common.HexToAddress(account).Hex())

	rec = do(h.TriggerArchive, http.MethodPost, "/api/archives/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	trigger := make(chan struct{}, 1)
	h.WithTriggerChannel(trigger)
	for i := 0; i < 2; i++ {
		rec = do(h.TriggerArchive, http.MethodPost, "/api/archives/run", "")
		assert.Equal(t, http.StatusAccepted, rec.Code)
	}
	assert.Len(t, trigger, 1)

	rec = do(NewArchiveHandler(nil, quietLogger()).ListSnapshots, http.MethodGet, "/api/archives?account="+account, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("down") },
	}, quietLogger())

	rec := do(h.HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var got struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "degraded", got.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "down"}, got.Dependencies)
}
