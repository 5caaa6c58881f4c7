package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/service"
	"github.com/alanyoungcy/perprisk/internal/view"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Positions(ctx context.Context, account common.Address) (service.AccountPositions, error)
	Recompute(ctx context.Context, account common.Address) (service.AccountPositions, error)
	SubmitPendingUpdate(ctx context.Context, account common.Address, u domain.PendingUpdate) (service.AccountPositions, error)
	IngestEvent(ctx context.Context, ev domain.PositionEvent) (bool, error)
	UpsertSnapshot(ctx context.Context, p domain.Position) error
	EventHistory(ctx context.Context, key string, opts domain.ListOpts) ([]domain.PositionEvent, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// ListPositions returns the derived positions of one account.
// GET /api/positions?account=0x...[&refresh=true]
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	get := h.positions.Positions
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		get = h.positions.Recompute
	}
	res, err := get(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, res.View())
}

// SubmitPending registers a pending update hint and returns the recomputed
// positions.
// POST /api/positions/pending
func (h *PositionHandler) SubmitPending(w http.ResponseWriter, r *http.Request) {
	var msg view.PendingMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := domain.ParseAddress(msg.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := msg.ToDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.positions.SubmitPendingUpdate(r.Context(), account, u)
	if err != nil {
		writeServiceError(w, r, h.logger, "submit pending update", err)
		return
	}
	writeJSON(w, http.StatusAccepted, res.View())
}

// IngestEvent appends a ledger event.
// POST /api/positions/events
func (h *PositionHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var msg view.EventMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := msg.ToDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inserted, err := h.positions.IngestEvent(r.Context(), ev)
	if err != nil {
		writeServiceError(w, r, h.logger, "ingest event", err)
		return
	}
	status := http.StatusCreated
	if !inserted {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"inserted": inserted})
}

// UpsertSnapshot replaces the confirmed state of a position. A zero size
// closes it.
// POST /api/positions/snapshot
func (h *PositionHandler) UpsertSnapshot(w http.ResponseWriter, r *http.Request) {
	var msg view.PositionMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := msg.ToDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.positions.UpsertSnapshot(r.Context(), p); err != nil {
		writeServiceError(w, r, h.logger, "upsert snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": p.Key})
}

// ListEvents returns the ledger events of one position, newest first.
// GET /api/positions/{key}/events
func (h *PositionHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing position key")
		return
	}

	events, err := h.positions.EventHistory(r.Context(), key, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	out := make([]view.EventMessage, 0, len(events))
	for _, ev := range events {
		out = append(out, view.EventFromDomain(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
