package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"dockpulse/internal/models"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) InsertPoint(ctx context.Context, p models.MetricPoint) error {
	b, err := json.Marshal(p.Values)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO metric_points (series_id,captured_at,values_json) VALUES (?,?,?)`,
		p.SeriesID, p.CapturedAt.UnixNano(), string(b))
	return err
}

// LastPointTime returns the newest captured_at of a series, or the zero time
// when the series is empty.
func (r *Repository) LastPointTime(ctx context.Context, seriesID string) (time.Time, error) {
	var ns sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(captured_at) FROM metric_points WHERE series_id = ?`, seriesID).Scan(&ns)
	if err != nil || !ns.Valid {
		return time.Time{}, err
	}
	return time.Unix(0, ns.Int64).UTC(), nil
}

func (r *Repository) QueryPoints(ctx context.Context, seriesID string, since time.Time, limit int) ([]models.MetricPoint, error) {
	if limit <= 0 {
		limit = 100000
	}
	rows, err := r.db.QueryContext(ctx, `SELECT series_id,captured_at,values_json FROM metric_points
		WHERE series_id = ? AND captured_at >= ? ORDER BY captured_at ASC, id ASC LIMIT ?`, seriesID, since.UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.MetricPoint, 0, 64)
	for rows.Next() {
		var p models.MetricPoint
		var ns int64
		var values string
		if err := rows.Scan(&p.SeriesID, &ns, &values); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(values), &p.Values); err != nil {
			return nil, err
		}
		p.CapturedAt = time.Unix(0, ns).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) DeletePointsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM metric_points WHERE captured_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Checkpoint truncates the WAL after large deletes.
func (r *Repository) Checkpoint(ctx context.Context) {
	_, _ = r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	_, _ = r.db.ExecContext(ctx, `PRAGMA optimize`)
}

func (r *Repository) InsertAlert(ctx context.Context, a models.Alert) error {
	var entity any
	if a.EntityID != "" {
		entity = a.EntityID
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO alerts (id,alert_type,severity,message,entity_id_nullable,threshold,current_value,acknowledged,ts)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, string(a.AlertType), string(a.Severity), a.Message, entity, a.Threshold, a.CurrentValue, boolInt(a.Acknowledged), a.Timestamp.UnixNano())
	return err
}

const maxAlertLimit = 1000

// ListAlerts returns alerts newest first. A nil acknowledged filter returns
// both acknowledged and open alerts.
func (r *Repository) ListAlerts(ctx context.Context, acknowledged *bool, limit int) ([]models.Alert, error) {
	switch {
	case limit <= 0:
		limit = 100
	case limit > maxAlertLimit:
		limit = maxAlertLimit
	}
	query := `SELECT id,alert_type,severity,message,entity_id_nullable,threshold,current_value,acknowledged,ts FROM alerts`
	args := []any{}
	if acknowledged != nil {
		query += ` WHERE acknowledged = ?`
		args = append(args, boolInt(*acknowledged))
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Alert, 0, 16)
	for rows.Next() {
		var a models.Alert
		var alertType, severity string
		var entity sql.NullString
		var ack int
		var ns int64
		if err := rows.Scan(&a.ID, &alertType, &severity, &a.Message, &entity, &a.Threshold, &a.CurrentValue, &ack, &ns); err != nil {
			return nil, err
		}
		a.AlertType = models.AlertType(alertType)
		a.Severity = models.Severity(severity)
		a.EntityID = entity.String
		a.Acknowledged = ack == 1
		a.Timestamp = time.Unix(0, ns).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcknowledgeAlert sets the acknowledged flag; it is the only update alerts
// ever receive.
func (r *Repository) AcknowledgeAlert(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const (
	keyCPUThreshold    = "cpu_alert_threshold"
	keyMemoryThreshold = "memory_alert_threshold"
	keyDiskThreshold   = "disk_alert_threshold"
	keyEnableAlerts    = "enable_alerts"
)

// LoadThresholds reads the alert thresholds, falling back to defaults for
// keys that were never saved.
func (r *Repository) LoadThresholds(ctx context.Context) (models.AlertThresholds, error) {
	th := models.DefaultThresholds()
	rows, err := r.db.QueryContext(ctx, `SELECT key,value FROM settings WHERE key IN (?,?,?,?)`,
		keyCPUThreshold, keyMemoryThreshold, keyDiskThreshold, keyEnableAlerts)
	if err != nil {
		return th, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return th, err
		}
		switch k {
		case keyCPUThreshold:
			th.CPUAlertThreshold = parseFloat(v, th.CPUAlertThreshold)
		case keyMemoryThreshold:
			th.MemoryAlertThreshold = parseFloat(v, th.MemoryAlertThreshold)
		case keyDiskThreshold:
			th.DiskAlertThreshold = parseFloat(v, th.DiskAlertThreshold)
		case keyEnableAlerts:
			if b, err := strconv.ParseBool(v); err == nil {
				th.EnableAlerts = b
			}
		}
	}
	return th, rows.Err()
}

func (r *Repository) SaveThresholds(ctx context.Context, th models.AlertThresholds) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	values := map[string]string{
		keyCPUThreshold:    strconv.FormatFloat(th.CPUAlertThreshold, 'f', -1, 64),
		keyMemoryThreshold: strconv.FormatFloat(th.MemoryAlertThreshold, 'f', -1, 64),
		keyDiskThreshold:   strconv.FormatFloat(th.DiskAlertThreshold, 'f', -1, 64),
		keyEnableAlerts:    strconv.FormatBool(th.EnableAlerts),
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO settings(key,value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func parseFloat(v string, d float64) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return d
	}
	return f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
