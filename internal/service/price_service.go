package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

// PriceUpdate is one oracle observation for a token.
type PriceUpdate struct {
	Token  common.Address
	Prices domain.TokenPrices
	At     time.Time
}

// PriceService writes oracle prices to the token cache.
type PriceService struct {
	tokens  domain.TokenCache
	markets *MarketService
	logger  *slog.Logger
}

// NewPriceService creates a PriceService. Refresh signals go through markets.
func NewPriceService(tokens domain.TokenCache, markets *MarketService, logger *slog.Logger) *PriceService {
	return &PriceService{
		tokens:  tokens,
		markets: markets,
		logger:  logger.With(slog.String("component", "price_service")),
	}
}

// UpdatePrices stores a batch of prices and signals one recompute for the
// whole batch. A zero At is stamped with the current time.
func (s *PriceService) UpdatePrices(ctx context.Context, updates []PriceUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, u := range updates {
		if !u.Prices.Loaded() {
			return fmt.Errorf("price_service: price for %s: %w", u.Token.Hex(), domain.ErrInvalidAmount)
		}
		at := u.At
		if at.IsZero() {
			at = now
		}
		if err := s.tokens.SetPrices(ctx, u.Token, u.Prices, at); err != nil {
			return fmt.Errorf("price_service: set prices for %s: %w", u.Token.Hex(), err)
		}
	}

	s.logger.DebugContext(ctx, "price_service: prices updated",
		slog.Int("count", len(updates)),
	)
	s.markets.signal(ctx, "prices", len(updates))
	return nil
}
