// Package series is the retention-bounded metrics store. Each series (the
// host or one entity) is an ascending run of MetricPoints.
package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"dockpulse/internal/db"
	"dockpulse/internal/models"
)

// ErrStoreWriteFailed wraps persistence errors for a single point.
var ErrStoreWriteFailed = errors.New("metric store write failed")

const checkpointAfter = 1000

type Store struct {
	repo   *db.Repository
	window time.Duration
	log    *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewStore(repo *db.Repository, window time.Duration, logger *slog.Logger) *Store {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Store{repo: repo, window: window, log: logger, now: time.Now, last: map[string]time.Time{}}
}

func (s *Store) Window() time.Duration { return s.window }

// Append inserts one point. A captured_at older than the series' newest point
// is raised to that point's time so a series never goes backwards.
func (s *Store) Append(ctx context.Context, p models.MetricPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.last[p.SeriesID]
	if !ok {
		var err error
		last, err = s.repo.LastPointTime(ctx, p.SeriesID)
		if err != nil {
			return fmt.Errorf("%w: series %s: %w", ErrStoreWriteFailed, p.SeriesID, err)
		}
	}
	if p.CapturedAt.Before(last) {
		p.CapturedAt = last
	}
	if err := s.repo.InsertPoint(ctx, p); err != nil {
		return fmt.Errorf("%w: series %s: %w", ErrStoreWriteFailed, p.SeriesID, err)
	}
	s.last[p.SeriesID] = p.CapturedAt
	return nil
}

// AppendSnapshot writes one host point and one point per entity. A failing
// point is logged and skipped; the rest are still written.
func (s *Store) AppendSnapshot(ctx context.Context, snap models.Snapshot) (int, error) {
	points := make([]models.MetricPoint, 0, len(snap.Entities)+1)
	points = append(points, models.HostPoint(snap.Host))
	for _, e := range snap.Entities {
		points = append(points, models.EntityPoint(snap.CapturedAt, e))
	}
	written := 0
	var errs []error
	for _, p := range points {
		if err := s.Append(ctx, p); err != nil {
			s.log.Error("append metric point", "series", p.SeriesID, "err", err)
			errs = append(errs, err)
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}

// Prune deletes every point captured before now minus the retention window.
func (s *Store) Prune(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.window)
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.repo.DeletePointsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for id, last := range s.last {
		if last.Before(cutoff) {
			delete(s.last, id)
		}
	}
	if n >= checkpointAfter {
		s.repo.Checkpoint(ctx)
	}
	return n, nil
}

// Query returns the points of a series captured at or after since, oldest
// first. An unknown series yields an empty slice.
func (s *Store) Query(ctx context.Context, seriesID string, since time.Time) ([]models.MetricPoint, error) {
	return s.repo.QueryPoints(ctx, seriesID, since, 0)
}

// History serves the last hours of a series, clamped to [1h, window].
func (s *Store) History(ctx context.Context, seriesID string, hours float64) ([]models.MetricPoint, error) {
	maxHours := math.Ceil(s.window.Hours())
	if hours < 1 || math.IsNaN(hours) {
		hours = 1
	}
	if hours > maxHours {
		hours = maxHours
	}
	since := s.now().Add(-time.Duration(hours * float64(time.Hour)))
	return s.Query(ctx, seriesID, since)
}
