// Package scheduler drives the collection cycle: sample, persist, evaluate,
// then push the results to every viewer.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"dockpulse/internal/models"
	"dockpulse/internal/telemetry"
)

type State int32

const (
	Idle State = iota
	Collecting
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

type Sampler interface {
	Collect(ctx context.Context) (models.Snapshot, error)
}

type Store interface {
	AppendSnapshot(ctx context.Context, snap models.Snapshot) (int, error)
}

type Pruner interface {
	Run(ctx context.Context, now time.Time) (int64, error)
}

type Thresholds interface {
	LoadThresholds(ctx context.Context) (models.AlertThresholds, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, snap models.Snapshot, th models.AlertThresholds) []models.Alert
}

type Notifier interface {
	Notify(alerts []models.Alert)
}

type Mirror interface {
	Publish(ctx context.Context, snap models.Snapshot, ttl time.Duration) error
}

type Broadcaster interface {
	Broadcast(ctx context.Context, msg models.Message) int
	Close()
}

// Deps are the collaborators of one cycle. Notifier and Mirror are optional.
type Deps struct {
	Sampler     Sampler
	Store       Store
	Pruner      Pruner
	Thresholds  Thresholds
	Evaluator   Evaluator
	Broadcaster Broadcaster
	Notifier    Notifier
	Mirror      Mirror
}

type Scheduler struct {
	deps     Deps
	interval time.Duration
	log      *slog.Logger
	metrics  *telemetry.Metrics

	state  atomic.Int32
	latest atomic.Pointer[models.Snapshot]

	cycleMu  sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func New(deps Deps, interval time.Duration, logger *slog.Logger, metrics *telemetry.Metrics) *Scheduler {
	return &Scheduler{deps: deps, interval: interval, log: logger, metrics: metrics}
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Latest returns the most recent Snapshot, or false before the first cycle.
func (s *Scheduler) Latest() (models.Snapshot, bool) {
	p := s.latest.Load()
	if p == nil {
		return models.Snapshot{}, false
	}
	return *p, true
}

// Start runs one cycle immediately, then one per interval until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.RunCycle(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunCycle(ctx)
			}
		}
	}()
	s.log.Info("scheduler started", "interval", s.interval)
}

// Stop cancels the loop, waits for the running cycle and drains the
// broadcaster. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.cycleMu.Lock()
		s.state.Store(int32(Stopped))
		s.cycleMu.Unlock()
		s.deps.Broadcaster.Close()
		s.log.Info("scheduler stopped")
	})
}

// RunCycle executes one full cycle. Stage failures are logged and never
// abort the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	if s.State() == Stopped {
		return
	}
	s.state.Store(int32(Collecting))
	defer s.state.Store(int32(Idle))

	start := time.Now()
	snap, err := s.deps.Sampler.Collect(ctx)
	sampleFailed := err != nil
	if err != nil {
		s.log.Warn("sample degraded", "err", err)
	}
	s.latest.Store(&snap)

	var (
		alerts      []models.Alert
		storeFailed bool
		g           errgroup.Group
	)
	g.Go(func() error {
		n, err := s.deps.Store.AppendSnapshot(ctx, snap)
		s.metrics.PointsWritten(n)
		if err != nil {
			storeFailed = true
			s.log.Error("store snapshot", "written", n, "err", err)
		}
		if _, err := s.deps.Pruner.Run(ctx, snap.CapturedAt); err != nil {
			storeFailed = true
		}
		return nil
	})
	g.Go(func() error {
		th, err := s.deps.Thresholds.LoadThresholds(ctx)
		if err != nil {
			s.log.Error("load thresholds, using defaults", "err", err)
			th = models.DefaultThresholds()
		}
		alerts = s.deps.Evaluator.Evaluate(ctx, snap, th)
		return nil
	})
	_ = g.Wait()

	if len(alerts) > 0 && s.deps.Notifier != nil {
		s.deps.Notifier.Notify(alerts)
	}
	if s.deps.Mirror != nil {
		if err := s.deps.Mirror.Publish(ctx, snap, 3*s.interval); err != nil {
			s.log.Warn("mirror snapshot", "err", err)
		}
	}

	b := s.deps.Broadcaster
	b.Broadcast(ctx, models.Message{Type: models.MessageSystemMetrics, Data: snap.Host})
	b.Broadcast(ctx, models.Message{Type: models.MessageEntityStats, Data: snap.Entities})
	if len(alerts) > 0 {
		b.Broadcast(ctx, models.Message{Type: models.MessageAlerts, Data: alerts})
	}

	s.metrics.ObserveCycle(time.Since(start), sampleFailed || storeFailed)
	s.log.Debug("cycle completed", "entities", len(snap.Entities), "alerts", len(alerts), "duration_ms", time.Since(start).Milliseconds())
}
