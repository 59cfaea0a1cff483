package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// HostSeriesID is the series id under which host metrics are stored.
const HostSeriesID = "host"

type EntityStatus string

const (
	StatusRunning EntityStatus = "running"
	StatusStopped EntityStatus = "stopped"
	StatusPaused  EntityStatus = "paused"
	StatusUnknown EntityStatus = "unknown"
)

// Snapshot is one complete reading of the host and every entity. It is not
// modified after the sampler returns it.
type Snapshot struct {
	CapturedAt time.Time    `json:"captured_at"`
	Host       SystemMetric `json:"host_metrics"`
	Entities   []EntityStat `json:"entities"`
}

type SystemMetric struct {
	CapturedAt    time.Time `json:"captured_at"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryUsedMB  float64   `json:"memory_used_mb"`
	MemoryTotalMB float64   `json:"memory_total_mb"`
	DiskPercent   float64   `json:"disk_percent"`
	DiskUsedGB    float64   `json:"disk_used_gb"`
	DiskTotalGB   float64   `json:"disk_total_gb"`
}

type EntityStat struct {
	EntityID      string       `json:"entity_id"`
	ContainerID   string       `json:"container_id"`
	Image         string       `json:"image"`
	Status        EntityStatus `json:"status"`
	CPUPercent    float64      `json:"cpu_percent"`
	MemoryUsedMB  float64      `json:"memory_used_mb"`
	MemoryLimitMB float64      `json:"memory_limit_mb"`
	MemoryPercent float64      `json:"memory_percent"`
}

// MetricPoint is one persisted sample of a series. On the wire the values
// sit next to series_id and timestamp:
//
//	{"series_id":"host","timestamp":"...","cpu_percent":12.5,...}
type MetricPoint struct {
	SeriesID   string
	CapturedAt time.Time
	Values     map[string]float64
}

func (p MetricPoint) MarshalJSON() ([]byte, error) {
	row := make(map[string]any, len(p.Values)+2)
	for k, v := range p.Values {
		row[k] = v
	}
	row["series_id"] = p.SeriesID
	row["timestamp"] = p.CapturedAt
	return json.Marshal(row)
}

func (p *MetricPoint) UnmarshalJSON(b []byte) error {
	var row map[string]json.RawMessage
	if err := json.Unmarshal(b, &row); err != nil {
		return err
	}
	out := MetricPoint{Values: make(map[string]float64, len(row))}
	for k, raw := range row {
		var err error
		switch k {
		case "series_id":
			err = json.Unmarshal(raw, &out.SeriesID)
		case "timestamp":
			err = json.Unmarshal(raw, &out.CapturedAt)
		default:
			var v float64
			err = json.Unmarshal(raw, &v)
			out.Values[k] = v
		}
		if err != nil {
			return fmt.Errorf("metric point field %s: %w", k, err)
		}
	}
	*p = out
	return nil
}

func HostPoint(m SystemMetric) MetricPoint {
	return MetricPoint{
		SeriesID:   HostSeriesID,
		CapturedAt: m.CapturedAt,
		Values: map[string]float64{
			"cpu_percent":     m.CPUPercent,
			"memory_percent":  m.MemoryPercent,
			"memory_used_mb":  m.MemoryUsedMB,
			"memory_total_mb": m.MemoryTotalMB,
			"disk_percent":    m.DiskPercent,
			"disk_used_gb":    m.DiskUsedGB,
			"disk_total_gb":   m.DiskTotalGB,
		},
	}
}

func EntityPoint(at time.Time, e EntityStat) MetricPoint {
	return MetricPoint{
		SeriesID:   e.EntityID,
		CapturedAt: at,
		Values: map[string]float64{
			"cpu_percent":     e.CPUPercent,
			"memory_used_mb":  e.MemoryUsedMB,
			"memory_limit_mb": e.MemoryLimitMB,
			"memory_percent":  e.MemoryPercent,
		},
	}
}

type AlertThresholds struct {
	CPUAlertThreshold    float64 `json:"cpu_alert_threshold"`
	MemoryAlertThreshold float64 `json:"memory_alert_threshold"`
	DiskAlertThreshold   float64 `json:"disk_alert_threshold"`
	EnableAlerts         bool    `json:"enable_alerts"`
}

func DefaultThresholds() AlertThresholds {
	return AlertThresholds{
		CPUAlertThreshold:    80,
		MemoryAlertThreshold: 85,
		DiskAlertThreshold:   90,
		EnableAlerts:         true,
	}
}

type AlertType string

const (
	AlertCPU       AlertType = "cpu"
	AlertMemory    AlertType = "memory"
	AlertDisk      AlertType = "disk"
	AlertEntityCPU AlertType = "entity_cpu"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is immutable after creation apart from Acknowledged.
type Alert struct {
	ID           string    `json:"id"`
	AlertType    AlertType `json:"alert_type"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	EntityID     string    `json:"entity_id,omitempty"`
	Threshold    float64   `json:"threshold"`
	CurrentValue float64   `json:"current_value"`
	Acknowledged bool      `json:"acknowledged"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	MessageSystemMetrics = "system_metrics"
	MessageEntityStats   = "entity_stats"
	MessageAlerts        = "alerts"
	MessagePong          = "pong"
	MessageError         = "error"
)

// Message is the envelope pushed to viewers.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
