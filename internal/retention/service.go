package retention

import (
	"context"
	"log/slog"
	"time"

	"dockpulse/internal/series"
	"dockpulse/internal/telemetry"
)

// Service runs one prune pass over the metrics store. The scheduler calls it
// once per cycle; the prune command calls it once.
type Service struct {
	store   *series.Store
	log     *slog.Logger
	metrics *telemetry.Metrics
}

func NewService(store *series.Store, logger *slog.Logger, metrics *telemetry.Metrics) *Service {
	return &Service{store: store, log: logger, metrics: metrics}
}

func (s *Service) Run(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.store.Window())
	n, err := s.store.Prune(ctx, now)
	if err != nil {
		s.log.Error("retention prune failed", "cutoff", cutoff, "err", err)
		return 0, err
	}
	s.metrics.PointsPruned(n)
	if n > 0 {
		s.log.Debug("retention prune completed", "cutoff", cutoff, "deleted", n)
	}
	return n, nil
}
