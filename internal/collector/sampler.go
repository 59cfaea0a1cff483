// Package collector produces Snapshots of the host and its containers.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dockpulse/internal/docker"
	"dockpulse/internal/models"
)

var (
	// ErrSourceUnavailable means a whole sampling source could not be read.
	ErrSourceUnavailable = errors.New("sampling source unavailable")
	// ErrEntitySampleFailed means one entity's counters could not be read.
	ErrEntitySampleFailed = errors.New("entity sample failed")
)

type EntityRef struct {
	ID     string
	Name   string
	Image  string
	Status models.EntityStatus
}

type EntitySource interface {
	ListEntities(ctx context.Context) ([]EntityRef, error)
	EntityCounters(ctx context.Context, id string) (docker.Counters, error)
}

type HostSource interface {
	ReadHost(ctx context.Context) (HostCounters, error)
}

type Sampler struct {
	entities    EntitySource
	host        HostSource
	log         *slog.Logger
	now         func() time.Time
	concurrency int

	mu      sync.Mutex
	prevCPU *cpuSample
}

type cpuSample struct {
	total uint64
	idle  uint64
}

func NewSampler(entities EntitySource, host HostSource, concurrency int, logger *slog.Logger) *Sampler {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Sampler{entities: entities, host: host, log: logger, now: time.Now, concurrency: concurrency}
}

// Collect always returns a usable Snapshot. A source that cannot be read is
// replaced by zeroed host metrics or an empty entity list, and reported in the
// returned error wrapped with ErrSourceUnavailable.
func (s *Sampler) Collect(ctx context.Context) (models.Snapshot, error) {
	now := s.now().UTC()
	snap := models.Snapshot{
		CapturedAt: now,
		Host:       models.SystemMetric{CapturedAt: now},
		Entities:   []models.EntityStat{},
	}
	var errs []error

	hc, err := s.host.ReadHost(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("host: %w: %w", ErrSourceUnavailable, err))
	} else {
		snap.Host = s.hostMetric(now, hc)
	}

	entities, err := s.collectEntities(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("entities: %w: %w", ErrSourceUnavailable, err))
	} else {
		snap.Entities = entities
	}
	return snap, errors.Join(errs...)
}

func (s *Sampler) collectEntities(ctx context.Context) ([]models.EntityStat, error) {
	refs, err := s.entities.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.EntityStat, len(refs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			out[i] = s.entityStat(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *Sampler) entityStat(ctx context.Context, ref EntityRef) models.EntityStat {
	stat := models.EntityStat{
		EntityID:    ref.Name,
		ContainerID: shortID(ref.ID),
		Image:       ref.Image,
		Status:      ref.Status,
	}
	if ref.Status != models.StatusRunning && ref.Status != models.StatusPaused {
		return stat
	}
	c, err := s.entities.EntityCounters(ctx, ref.ID)
	if err != nil {
		s.log.Warn("entity stats", "entity", ref.Name, "err", fmt.Errorf("%w: %w", ErrEntitySampleFailed, err))
		stat.Status = models.StatusUnknown
		return stat
	}
	usedMB := float64(c.MemUsage) / (1024 * 1024)
	limitMB := float64(c.MemLimit) / (1024 * 1024)
	stat.CPUPercent = round2(CPUPercent(c.CPUDelta, c.SystemDelta, c.Cores))
	stat.MemoryUsedMB = round2(usedMB)
	stat.MemoryLimitMB = round2(limitMB)
	stat.MemoryPercent = round2(MemoryPercent(usedMB, limitMB))
	return stat
}

func (s *Sampler) hostMetric(now time.Time, c HostCounters) models.SystemMetric {
	m := models.SystemMetric{CapturedAt: now}

	s.mu.Lock()
	if s.prevCPU != nil && c.CPUTotal > s.prevCPU.total {
		deltaTotal := c.CPUTotal - s.prevCPU.total
		deltaIdle := c.CPUIdle - s.prevCPU.idle
		if c.CPUIdle < s.prevCPU.idle {
			deltaIdle = 0
		}
		m.CPUPercent = round2(100 * (1 - float64(deltaIdle)/float64(deltaTotal)))
	}
	s.prevCPU = &cpuSample{total: c.CPUTotal, idle: c.CPUIdle}
	s.mu.Unlock()

	if c.MemTotalBytes > 0 {
		used := c.MemTotalBytes - min(c.MemAvailBytes, c.MemTotalBytes)
		m.MemoryUsedMB = round2(float64(used) / (1 << 20))
		m.MemoryTotalMB = round2(float64(c.MemTotalBytes) / (1 << 20))
		m.MemoryPercent = round2(percent(float64(used), float64(c.MemTotalBytes)))
	}
	if c.DiskTotalBytes > 0 {
		m.DiskUsedGB = round2(float64(c.DiskUsedBytes) / (1 << 30))
		m.DiskTotalGB = round2(float64(c.DiskTotalBytes) / (1 << 30))
		m.DiskPercent = round2(percent(float64(c.DiskUsedBytes), float64(c.DiskTotalBytes)))
	}
	return m
}

// CPUPercent is (cpuDelta/systemDelta)*cores*100, or 0 when systemDelta <= 0.
func CPUPercent(cpuDelta, systemDelta, cores float64) float64 {
	if systemDelta <= 0 || cpuDelta < 0 {
		return 0
	}
	if cores <= 0 {
		cores = 1
	}
	return (cpuDelta / systemDelta) * cores * 100
}

// MemoryPercent is used/limit*100, or 0 when limit <= 0.
func MemoryPercent(used, limit float64) float64 {
	return percent(used, limit)
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
