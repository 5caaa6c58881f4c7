package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perprisk/internal/domain"
	"github.com/alanyoungcy/perprisk/internal/service"
	"github.com/alanyoungcy/perprisk/internal/view"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Markets(ctx context.Context) ([]domain.MarketInfo, error)
	SyncMarkets(ctx context.Context, markets []domain.MarketInfo) error
	SyncTokens(ctx context.Context, tokens []domain.TokenData) error
	SetReferral(ctx context.Context, account common.Address, info domain.UserReferralInfo) error
}

// PriceService stores oracle prices.
type PriceService interface {
	UpdatePrices(ctx context.Context, updates []service.PriceUpdate) error
}

// MarketHandler serves the reference data endpoints: markets, tokens, prices
// and referral parameters.
type MarketHandler struct {
	markets MarketService
	prices  PriceService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(markets MarketService, prices PriceService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		prices:  prices,
		logger:  logger,
	}
}

// ListMarkets returns every cached market.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.Markets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"total":   len(markets),
	})
}

// SyncMarkets stores market parameters. Factors are JSON numbers with 30
// decimals.
// POST /api/markets
func (h *MarketHandler) SyncMarkets(w http.ResponseWriter, r *http.Request) {
	var markets []domain.MarketInfo
	if err := decodeJSON(w, r, &markets); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.markets.SyncMarkets(r.Context(), markets); err != nil {
		writeServiceError(w, r, h.logger, "sync markets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": len(markets)})
}

// SyncTokens stores token metadata. Prices in the body are ignored.
// POST /api/tokens
func (h *MarketHandler) SyncTokens(w http.ResponseWriter, r *http.Request) {
	var tokens []domain.TokenData
	if err := decodeJSON(w, r, &tokens); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.markets.SyncTokens(r.Context(), tokens); err != nil {
		writeServiceError(w, r, h.logger, "sync tokens", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": len(tokens)})
}

// UpdatePrices stores a batch of oracle prices.
// POST /api/prices
func (h *MarketHandler) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	var msgs []view.PriceMessage
	if err := decodeJSON(w, r, &msgs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updates := make([]service.PriceUpdate, 0, len(msgs))
	for _, m := range msgs {
		token, prices, err := m.ToDomain()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		u := service.PriceUpdate{Token: token, Prices: prices}
		if m.At != nil {
			u.At = m.At.UTC()
		}
		updates = append(updates, u)
	}

	if err := h.prices.UpdatePrices(r.Context(), updates); err != nil {
		writeServiceError(w, r, h.logger, "update prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(updates)})
}

// SetReferral stores the referral parameters of one account.
// PUT /api/referrals/{account}
func (h *MarketHandler) SetReferral(w http.ResponseWriter, r *http.Request) {
	account, err := domain.ParseAddress(pathParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var info domain.UserReferralInfo
	if err := decodeJSON(w, r, &info); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.markets.SetReferral(r.Context(), account, info); err != nil {
		writeServiceError(w, r, h.logger, "set referral", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
