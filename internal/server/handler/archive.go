package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

// SnapshotLister lists archived position snapshots.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, account string) ([]domain.BlobInfo, error)
}

// ArchiveHandler serves the archive listing and trigger endpoints.
type ArchiveHandler struct {
	lister    SnapshotLister
	logger    *slog.Logger
	triggerCh chan<- struct{} // when non-nil, sending triggers one archive run
}

// NewArchiveHandler creates an ArchiveHandler. lister may be nil when object
// storage is not configured.
func NewArchiveHandler(lister SnapshotLister, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{lister: lister, logger: logger}
}

// WithTriggerChannel sets the channel to send on when a run is requested.
// The archive loop must receive from this channel to run one cycle.
func (h *ArchiveHandler) WithTriggerChannel(ch chan<- struct{}) *ArchiveHandler {
	h.triggerCh = ch
	return h
}

// ListSnapshots returns the archived snapshots of one account.
// GET /api/archives?account=0x...
func (h *ArchiveHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}
	account, err := accountParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blobs, err := h.lister.ListSnapshots(r.Context(), account.Hex())
	if err != nil {
		writeServiceError(w, r, h.logger, "list snapshots", err)
		return
	}
	if blobs == nil {
		blobs = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": blobs})
}

// TriggerArchive enqueues one archive run with a non-blocking send.
// POST /api/archives/run
func (h *ArchiveHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	if h.triggerCh == nil {
		writeError(w, http.StatusServiceUnavailable, "archiving not running in this process")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: archive run requested")
	select {
	case h.triggerCh <- struct{}{}:
	default:
		// already triggered and not yet consumed
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
