package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

// MarketService keeps the market, token and referral caches the engine reads
// from, and signals a recompute after every change.
type MarketService struct {
	markets   domain.MarketCache
	tokens    domain.TokenCache
	referrals domain.ReferralCache
	bus       domain.SignalBus
	logger    *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketCache,
	tokens domain.TokenCache,
	referrals domain.ReferralCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:   markets,
		tokens:    tokens,
		referrals: referrals,
		bus:       bus,
		logger:    logger.With(slog.String("component", "market_service")),
	}
}

// SyncMarkets stores market parameters. Disabled markets are removed from
// the cache.
func (s *MarketService) SyncMarkets(ctx context.Context, markets []domain.MarketInfo) error {
	if len(markets) == 0 {
		return nil
	}

	for _, m := range markets {
		if m.IsDisabled {
			if err := s.markets.Invalidate(ctx, m.MarketTokenAddress); err != nil {
				return fmt.Errorf("market_service: invalidate %s: %w", m.MarketTokenAddress.Hex(), err)
			}
			continue
		}
		if err := s.markets.Set(ctx, m); err != nil {
			return fmt.Errorf("market_service: set %s: %w", m.MarketTokenAddress.Hex(), err)
		}
	}

	s.logger.InfoContext(ctx, "market_service: synced markets",
		slog.Int("count", len(markets)),
	)
	s.signal(ctx, "markets", len(markets))
	return nil
}

// SyncTokens stores token metadata.
func (s *MarketService) SyncTokens(ctx context.Context, tokens []domain.TokenData) error {
	if len(tokens) == 0 {
		return nil
	}
	for _, t := range tokens {
		if t.Decimals < 0 || t.Decimals > 77 {
			return fmt.Errorf("market_service: token %s decimals %d: %w", t.Address.Hex(), t.Decimals, domain.ErrInvalidAmount)
		}
		if err := s.tokens.SetToken(ctx, t); err != nil {
			return fmt.Errorf("market_service: set token %s: %w", t.Address.Hex(), err)
		}
	}
	s.signal(ctx, "tokens", len(tokens))
	return nil
}

// Markets lists the cached markets in address order.
func (s *MarketService) Markets(ctx context.Context) ([]domain.MarketInfo, error) {
	all, err := s.markets.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: list markets: %w", err)
	}
	out := make([]domain.MarketInfo, 0, len(all))
	for _, m := range all {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MarketTokenAddress.Cmp(out[j].MarketTokenAddress) < 0
	})
	return out, nil
}

// SetReferral stores the referral parameters of account.
func (s *MarketService) SetReferral(ctx context.Context, account common.Address, info domain.UserReferralInfo) error {
	if err := s.referrals.Set(ctx, account, info); err != nil {
		return fmt.Errorf("market_service: set referral: %w", err)
	}
	return nil
}

// signal tells every engine replica that reference data changed.
func (s *MarketService) signal(ctx context.Context, what string, count int) {
	evt, _ := json.Marshal(map[string]any{"event": what, "count": count})
	if err := s.bus.Publish(ctx, domain.ChannelMarkets, evt); err != nil {
		s.logger.WarnContext(ctx, "market_service: publish refresh failed",
			slog.String("what", what),
			slog.String("error", err.Error()),
		)
	}
}
