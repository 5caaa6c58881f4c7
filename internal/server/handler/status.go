package handler

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AccountLister reports the accounts with a derived state.
type AccountLister interface {
	Accounts() []common.Address
}

// StatusHandler serves the engine status for dashboards.
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
	accounts  AccountLister
}

// NewStatusHandler creates a StatusHandler for the given mode.
func NewStatusHandler(mode string, startedAt time.Time, accounts AccountLister) *StatusHandler {
	return &StatusHandler{Mode: mode, StartedAt: startedAt, accounts: accounts}
}

// GetStatus responds with the running mode, uptime and computed accounts.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	accounts := []string{}
	if h.accounts != nil {
		for _, a := range h.accounts.Accounts() {
			accounts = append(accounts, a.Hex())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
		"accounts":       accounts,
	})
}
