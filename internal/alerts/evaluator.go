// Package alerts turns a Snapshot into threshold alerts.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dockpulse/internal/models"
	"dockpulse/internal/telemetry"
)

const (
	// CriticalAt is the fixed severity boundary for host metrics, independent
	// of the configured threshold.
	CriticalAt = 90.0
	// EntityCPULimit is the fixed per-entity CPU bound.
	EntityCPULimit = 90.0
)

type Store interface {
	InsertAlert(ctx context.Context, a models.Alert) error
}

// Evaluator applies the alert rules to a Snapshot. It keeps no state between
// calls and does not deduplicate: every breach yields a new alert.
type Evaluator struct {
	store   Store
	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
	newID   func() string
}

func NewEvaluator(store Store, logger *slog.Logger, metrics *telemetry.Metrics) *Evaluator {
	return &Evaluator{store: store, log: logger, metrics: metrics, now: time.Now, newID: uuid.NewString}
}

// Evaluate returns the alerts raised by snap and appends each to the store.
// A failed insert is logged; the alert is still returned.
func (e *Evaluator) Evaluate(ctx context.Context, snap models.Snapshot, th models.AlertThresholds) []models.Alert {
	if !th.EnableAlerts {
		return nil
	}
	at := snap.CapturedAt
	if at.IsZero() {
		at = e.now().UTC()
	}

	var out []models.Alert
	host := []struct {
		typ       models.AlertType
		label     string
		value     float64
		threshold float64
	}{
		{models.AlertCPU, "CPU", snap.Host.CPUPercent, th.CPUAlertThreshold},
		{models.AlertMemory, "memory", snap.Host.MemoryPercent, th.MemoryAlertThreshold},
		{models.AlertDisk, "disk", snap.Host.DiskPercent, th.DiskAlertThreshold},
	}
	for _, h := range host {
		if h.value <= h.threshold {
			continue
		}
		out = append(out, models.Alert{
			ID:           e.newID(),
			AlertType:    h.typ,
			Severity:     HostSeverity(h.value),
			Message:      fmt.Sprintf("High %s usage: %.2f%% (threshold %.2f%%)", h.label, h.value, h.threshold),
			Threshold:    h.threshold,
			CurrentValue: h.value,
			Timestamp:    at,
		})
	}
	for _, ent := range snap.Entities {
		if ent.CPUPercent <= EntityCPULimit {
			continue
		}
		out = append(out, models.Alert{
			ID:           e.newID(),
			AlertType:    models.AlertEntityCPU,
			Severity:     models.SeverityWarning,
			Message:      fmt.Sprintf("Container %s high CPU usage: %.2f%%", ent.EntityID, ent.CPUPercent),
			EntityID:     ent.EntityID,
			Threshold:    EntityCPULimit,
			CurrentValue: ent.CPUPercent,
			Timestamp:    at,
		})
	}

	for _, a := range out {
		e.metrics.AlertRaised(string(a.AlertType), string(a.Severity))
		if err := e.store.InsertAlert(ctx, a); err != nil {
			e.log.Error("persist alert", "type", a.AlertType, "entity", a.EntityID, "err", err)
		}
	}
	return out
}

func HostSeverity(value float64) models.Severity {
	if value >= CriticalAt {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}
