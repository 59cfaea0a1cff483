package alerts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"dockpulse/internal/models"
)

type memStore struct {
	alerts []models.Alert
	err    error
}

func (m *memStore) InsertAlert(_ context.Context, a models.Alert) error {
	if m.err != nil {
		return m.err
	}
	m.alerts = append(m.alerts, a)
	return nil
}

func newTestEvaluator(store Store) *Evaluator {
	e := NewEvaluator(store, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("alert-%d", n)
	}
	return e
}

var at = time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

func hostSnap(cpu, mem, disk float64) models.Snapshot {
	return models.Snapshot{
		CapturedAt: at,
		Host:       models.SystemMetric{CapturedAt: at, CPUPercent: cpu, MemoryPercent: mem, DiskPercent: disk},
	}
}

func TestHostCPUScenarios(t *testing.T) {
	th := models.AlertThresholds{CPUAlertThreshold: 80, MemoryAlertThreshold: 100, DiskAlertThreshold: 100, EnableAlerts: true}

	store := &memStore{}
	got := newTestEvaluator(store).Evaluate(context.Background(), hostSnap(85, 0, 0), th)
	want := []models.Alert{{
		ID: "alert-1", AlertType: models.AlertCPU, Severity: models.SeverityWarning,
		Message: "High CPU usage: 85.00% (threshold 80.00%)", Threshold: 80, CurrentValue: 85, Timestamp: at,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("alerts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, store.alerts); diff != "" {
		t.Fatalf("persisted mismatch (-want +got):\n%s", diff)
	}

	got = newTestEvaluator(&memStore{}).Evaluate(context.Background(), hostSnap(95, 0, 0), th)
	if len(got) != 1 || got[0].Severity != models.SeverityCritical {
		t.Fatalf("cpu 95 alerts = %+v, want one critical", got)
	}
}

func TestHostRuleProperty(t *testing.T) {
	thresholds := []float64{0, 50, 80, 89.99, 90, 95, 100}
	values := []float64{0, 49.99, 50, 80, 80.01, 89.99, 90, 92, 100}
	for _, thr := range thresholds {
		for _, v := range values {
			th := models.AlertThresholds{CPUAlertThreshold: thr, MemoryAlertThreshold: 1000, DiskAlertThreshold: 1000, EnableAlerts: true}
			got := newTestEvaluator(&memStore{}).Evaluate(context.Background(), hostSnap(v, 0, 0), th)
			wantAlert := v > thr
			if (len(got) == 1) != wantAlert || len(got) > 1 {
				t.Fatalf("threshold %v value %v: got %d alerts, want alert=%v", thr, v, len(got), wantAlert)
			}
			if wantAlert {
				wantSev := models.SeverityWarning
				if v >= 90 {
					wantSev = models.SeverityCritical
				}
				if got[0].Severity != wantSev {
					t.Fatalf("threshold %v value %v: severity %s, want %s", thr, v, got[0].Severity, wantSev)
				}
				if got[0].CurrentValue <= got[0].Threshold {
					t.Fatalf("alert current %v not above threshold %v", got[0].CurrentValue, got[0].Threshold)
				}
			}
		}
	}
}

func TestMemoryAndDiskEvaluatedIndependently(t *testing.T) {
	th := models.AlertThresholds{CPUAlertThreshold: 80, MemoryAlertThreshold: 85, DiskAlertThreshold: 90, EnableAlerts: true}
	got := newTestEvaluator(&memStore{}).Evaluate(context.Background(), hostSnap(10, 86, 91), th)
	if len(got) != 2 {
		t.Fatalf("got %d alerts, want 2: %+v", len(got), got)
	}
	if got[0].AlertType != models.AlertMemory || got[0].Severity != models.SeverityWarning {
		t.Fatalf("first alert = %+v, want memory warning", got[0])
	}
	if got[1].AlertType != models.AlertDisk || got[1].Severity != models.SeverityCritical {
		t.Fatalf("second alert = %+v, want disk critical", got[1])
	}
}

func TestEntityCPUFixedBound(t *testing.T) {
	th := models.AlertThresholds{CPUAlertThreshold: 100, MemoryAlertThreshold: 100, DiskAlertThreshold: 100, EnableAlerts: true}
	snap := hostSnap(0, 0, 0)
	snap.Entities = []models.EntityStat{
		{EntityID: "web", CPUPercent: 90},
		{EntityID: "worker", CPUPercent: 150.5},
	}
	got := newTestEvaluator(&memStore{}).Evaluate(context.Background(), snap, th)
	want := []models.Alert{{
		ID: "alert-1", AlertType: models.AlertEntityCPU, Severity: models.SeverityWarning,
		Message: "Container worker high CPU usage: 150.50%", EntityID: "worker",
		Threshold: 90, CurrentValue: 150.5, Timestamp: at,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("alerts mismatch (-want +got):\n%s", diff)
	}
}

func TestDisabledAlertsDoNothing(t *testing.T) {
	store := &memStore{}
	th := models.AlertThresholds{CPUAlertThreshold: 10, MemoryAlertThreshold: 10, DiskAlertThreshold: 10, EnableAlerts: false}
	got := newTestEvaluator(store).Evaluate(context.Background(), hostSnap(99, 99, 99), th)
	if len(got) != 0 || len(store.alerts) != 0 {
		t.Fatalf("disabled evaluate returned %d alerts, persisted %d", len(got), len(store.alerts))
	}
}

func TestNoDeduplicationAcrossCalls(t *testing.T) {
	store := &memStore{}
	e := newTestEvaluator(store)
	th := models.DefaultThresholds()
	for i := 0; i < 3; i++ {
		e.Evaluate(context.Background(), hostSnap(95, 0, 0), th)
	}
	if len(store.alerts) != 3 {
		t.Fatalf("persisted %d alerts, want 3", len(store.alerts))
	}
}

func TestPersistFailureStillReturnsAlert(t *testing.T) {
	store := &memStore{err: errors.New("database is locked")}
	got := newTestEvaluator(store).Evaluate(context.Background(), hostSnap(95, 0, 0), models.DefaultThresholds())
	if len(got) != 1 {
		t.Fatalf("got %d alerts, want 1", len(got))
	}
}
