package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"dockpulse/internal/db"
	"dockpulse/internal/models"
	"dockpulse/internal/series"
	"dockpulse/internal/telemetry"
)

func TestRunPrunesOutsideWindow(t *testing.T) {
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := series.NewStore(db.NewRepository(sqldb), 24*time.Hour, logger)
	svc := NewService(store, logger, telemetry.New())

	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	for _, age := range []time.Duration{25 * time.Hour, 23 * time.Hour} {
		if err := store.Append(ctx, models.MetricPoint{SeriesID: "host", CapturedAt: now.Add(-age), Values: map[string]float64{}}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	n, err := svc.Run(ctx, now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
}
