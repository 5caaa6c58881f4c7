// Package notify delivers risk alerts to operator channels (Telegram,
// Discord). Alerts are filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/perprisk/internal/view"
)

// Event types.
const (
	EventLowCollateral      = "low_collateral"
	EventCollateralRestored = "collateral_restored"
	EventError              = "error"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every sender. Only configured event types pass
// the filter; an empty filter lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders and the allowed event types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be delivered anywhere.
func (n *Notifier) Enabled(event string) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers title and message when event passes the filter. A failing
// sender does not stop delivery to the others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PositionAlert formats a position risk alert for event.
func (n *Notifier) PositionAlert(ctx context.Context, event string, p view.Position) error {
	side := "short"
	if p.IsLong {
		side = "long"
	}

	var title string
	switch event {
	case EventLowCollateral:
		title = fmt.Sprintf("Low collateral: %s %s", p.MarketName, side)
	case EventCollateralRestored:
		title = fmt.Sprintf("Collateral restored: %s %s", p.MarketName, side)
	default:
		title = fmt.Sprintf("%s: %s %s", event, p.MarketName, side)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "account %s\nposition %s\n", p.Account, p.Key)
	fmt.Fprintf(&b, "size $%s, collateral %s %s\n", orNA(p.SizeInUsd), orNA(p.CollateralAmount), p.CollateralToken)
	fmt.Fprintf(&b, "leverage %sx, mark %s, liq %s", orNA(p.Leverage), orNA(p.MarkPrice), orNA(p.LiquidationPrice))
	return n.Notify(ctx, event, title, b.String())
}

func orNA(s *string) string {
	if s == nil {
		return "n/a"
	}
	return *s
}
