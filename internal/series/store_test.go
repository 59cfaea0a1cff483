package series

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"dockpulse/internal/db"
	"dockpulse/internal/models"
)

func newTestStore(t *testing.T, window time.Duration) (*Store, *db.Repository) {
	t.Helper()
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	repo := db.NewRepository(sqldb)
	return NewStore(repo, window, slog.New(slog.NewTextHandler(io.Discard, nil))), repo
}

func TestAppendThenQueryRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, 24*time.Hour)
	ctx := context.Background()
	p := models.MetricPoint{
		SeriesID:   "web",
		CapturedAt: time.Date(2026, 2, 21, 12, 0, 0, 987654321, time.UTC),
		Values:     map[string]float64{"cpu_percent": 40, "memory_percent": 12.34},
	}
	if err := s.Append(ctx, p); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.Query(ctx, "web", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if diff := cmp.Diff([]models.MetricPoint{p}, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryUnknownSeriesIsEmpty(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	got, err := s.Query(context.Background(), "ghost", time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("got %#v, want empty slice", got)
	}
}

func TestPruneRemovesOnlyExpiredPoints(t *testing.T) {
	windows := []time.Duration{time.Minute, time.Hour, 24 * time.Hour}
	for _, w := range windows {
		t.Run(w.String(), func(t *testing.T) {
			s, _ := newTestStore(t, w)
			ctx := context.Background()
			now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
			offsets := []time.Duration{2 * w, w + time.Nanosecond, w, w / 2, 0}
			for i := range offsets {
				at := now.Add(-offsets[i])
				if err := s.Append(ctx, models.MetricPoint{SeriesID: "host", CapturedAt: at, Values: map[string]float64{"i": float64(i)}}); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			n, err := s.Prune(ctx, now)
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			if n != 2 {
				t.Fatalf("pruned %d points, want 2", n)
			}
			left, err := s.Query(ctx, "host", time.Time{})
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			cutoff := now.Add(-w)
			for _, p := range left {
				if p.CapturedAt.Before(cutoff) {
					t.Fatalf("point %v survived prune with cutoff %v", p.CapturedAt, cutoff)
				}
			}
			if len(left) != 3 {
				t.Fatalf("kept %d points, want 3", len(left))
			}
		})
	}
}

func TestAppendKeepsSeriesMonotonic(t *testing.T) {
	s, _ := newTestStore(t, 24*time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{now, now.Add(-5 * time.Second), now.Add(time.Second)} {
		if err := s.Append(ctx, models.MetricPoint{SeriesID: "web", CapturedAt: at, Values: map[string]float64{}}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, _ := s.Query(ctx, "web", time.Time{})
	for i := 1; i < len(got); i++ {
		if got[i].CapturedAt.Before(got[i-1].CapturedAt) {
			t.Fatalf("series went backwards at %d: %v < %v", i, got[i].CapturedAt, got[i-1].CapturedAt)
		}
	}
	if !got[1].CapturedAt.Equal(now) {
		t.Fatalf("regressed point stored at %v, want clamp to %v", got[1].CapturedAt, now)
	}
}

func TestAppendSnapshotWritesHostAndEntities(t *testing.T) {
	s, _ := newTestStore(t, 24*time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	snap := models.Snapshot{
		CapturedAt: now,
		Host:       models.SystemMetric{CapturedAt: now, CPUPercent: 12},
		Entities: []models.EntityStat{
			{EntityID: "web", CPUPercent: 40},
			{EntityID: "db", CPUPercent: 3},
		},
	}
	n, err := s.AppendSnapshot(ctx, snap)
	if err != nil || n != 3 {
		t.Fatalf("append snapshot = %d, %v; want 3, nil", n, err)
	}
	host, _ := s.Query(ctx, models.HostSeriesID, time.Time{})
	if len(host) != 1 || host[0].Values["cpu_percent"] != 12 {
		t.Fatalf("host series = %+v", host)
	}
}

func TestAppendSnapshotSkipsFailedPoint(t *testing.T) {
	s, repo := newTestStore(t, 24*time.Hour)
	ctx := context.Background()
	if _, err := repo.DB().Exec(`CREATE TRIGGER reject_bad BEFORE INSERT ON metric_points WHEN NEW.series_id = 'bad'
		BEGIN SELECT RAISE(ABORT, 'rejected'); END;`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	now := time.Now().UTC()
	snap := models.Snapshot{
		CapturedAt: now,
		Host:       models.SystemMetric{CapturedAt: now},
		Entities:   []models.EntityStat{{EntityID: "bad"}, {EntityID: "good"}},
	}
	n, err := s.AppendSnapshot(ctx, snap)
	if !errors.Is(err, ErrStoreWriteFailed) {
		t.Fatalf("err = %v, want ErrStoreWriteFailed", err)
	}
	if n != 2 {
		t.Fatalf("written = %d, want 2", n)
	}
	good, _ := s.Query(ctx, "good", time.Time{})
	if len(good) != 1 {
		t.Fatalf("good series has %d points, want 1", len(good))
	}
}

func TestHistoryClampsHours(t *testing.T) {
	s, _ := newTestStore(t, 2*time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	for _, age := range []time.Duration{3 * time.Hour, 90 * time.Minute, 30 * time.Minute} {
		if err := s.Append(ctx, models.MetricPoint{SeriesID: "host", CapturedAt: now.Add(-age), Values: map[string]float64{}}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	cases := []struct {
		hours float64
		want  int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{48, 2},
	}
	for _, tc := range cases {
		got, err := s.History(ctx, "host", tc.hours)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(got) != tc.want {
			t.Fatalf("History(%v) returned %d points, want %d", tc.hours, len(got), tc.want)
		}
	}
}

func TestConcurrentQueryDuringAppendAndPrune(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	ctx := context.Background()
	start := time.Now().UTC()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			at := start.Add(time.Duration(i) * time.Second)
			if err := s.Append(ctx, models.MetricPoint{SeriesID: "host", CapturedAt: at, Values: map[string]float64{"i": float64(i)}}); err != nil {
				t.Errorf("append: %v", err)
				return
			}
			if _, err := s.Prune(ctx, at); err != nil {
				t.Errorf("prune: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 20; i++ {
		pts, err := s.Query(ctx, "host", time.Time{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for _, p := range pts {
			if _, ok := p.Values["i"]; !ok {
				t.Fatalf("partial point read: %+v", p)
			}
		}
	}
	wg.Wait()
	all, _ := s.Query(ctx, "host", time.Time{})
	if len(all) != 50 {
		t.Fatalf("got %d points, want 50 (none inside the window may be pruned)", len(all))
	}
}
