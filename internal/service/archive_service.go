package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/perprisk/internal/metrics"
	"github.com/alanyoungcy/perprisk/internal/view"
)

// Archiver uploads snapshots and audit ranges to cold storage.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, snap view.Positions, at time.Time) (string, error)
	ArchiveAudit(ctx context.Context, since, until time.Time) (int64, error)
}

// ArchiveService periodically copies every derived account state and the
// audit log written since the previous run to object storage.
type ArchiveService struct {
	positions *PositionService
	archiver  Archiver
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu        sync.Mutex
	lastAudit time.Time
}

// NewArchiveService creates an ArchiveService. The first audit range starts
// at since.
func NewArchiveService(positions *PositionService, archiver Archiver, m *metrics.Metrics, since time.Time, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		positions: positions,
		archiver:  archiver,
		metrics:   m,
		logger:    logger.With(slog.String("component", "archive_service")),
		lastAudit: since,
	}
}

// RunOnce archives every known account and the audit log up to now. Loading
// states are skipped. Snapshot failures are counted and logged; the audit
// range only advances on success.
func (s *ArchiveService) RunOnce(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, account := range s.positions.Accounts() {
		res, err := s.positions.Positions(ctx, account)
		if err != nil || res.IsLoading {
			continue
		}
		path, err := s.archiver.ArchiveSnapshot(ctx, res.View(), now)
		if err != nil {
			s.metrics.Archives.WithLabelValues("snapshot", resultError).Inc()
			s.logger.WarnContext(ctx, "archive_service: snapshot failed",
				slog.String("account", account.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.metrics.Archives.WithLabelValues("snapshot", resultOK).Inc()
		s.logger.DebugContext(ctx, "archive_service: snapshot archived",
			slog.String("account", account.Hex()),
			slog.String("path", path),
		)
	}

	n, err := s.archiver.ArchiveAudit(ctx, s.lastAudit, now)
	if err != nil {
		s.metrics.Archives.WithLabelValues("audit", resultError).Inc()
		return fmt.Errorf("archive_service: audit: %w", err)
	}
	s.lastAudit = now
	s.metrics.Archives.WithLabelValues("audit", resultOK).Inc()
	if n > 0 {
		s.logger.InfoContext(ctx, "archive_service: audit archived",
			slog.Int64("entries", n),
		)
	}
	return nil
}

// Run calls RunOnce every interval, and whenever trigger fires, until ctx is
// cancelled. trigger may be nil.
func (s *ArchiveService) Run(ctx context.Context, interval time.Duration, trigger <-chan struct{}) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var now time.Time
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			now = t.UTC()
		case <-trigger:
			s.logger.InfoContext(ctx, "archive_service: manual run requested")
			now = time.Now().UTC()
		}
		if err := s.RunOnce(ctx, now); err != nil {
			s.logger.ErrorContext(ctx, "archive_service: run failed",
				slog.String("error", err.Error()),
			)
		}
	}
}
