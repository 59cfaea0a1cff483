package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"dockpulse/internal/alerts"
	"dockpulse/internal/collector"
	"dockpulse/internal/config"
	"dockpulse/internal/db"
	"dockpulse/internal/docker"
	"dockpulse/internal/hub"
	"dockpulse/internal/notifier"
	"dockpulse/internal/retention"
	"dockpulse/internal/scheduler"
	"dockpulse/internal/series"
	"dockpulse/internal/telemetry"
	"dockpulse/internal/valkey"
	"dockpulse/internal/web"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg config.Config
	log *slog.Logger

	sqldb     *sql.DB
	scheduler *scheduler.Scheduler
	notify    *notifier.Dispatcher
	mirror    interface{ Close() }

	httpSrv *http.Server
}

// New wires every component explicitly. There is exactly one Scheduler per
// App and it is shared by all viewers.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	sqldb, repo, err := openRepository(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	dc := docker.NewClient(cfg.DockerSocket)
	metrics := telemetry.New()

	store := series.NewStore(repo, cfg.RetentionWindow, logger.With("module", "series"))
	h := hub.New(cfg.WriteTimeout, logger.With("module", "hub"), metrics)

	a := &App{cfg: cfg, log: logger, sqldb: sqldb}
	deps := scheduler.Deps{
		Sampler: collector.NewSampler(
			collector.NewDockerSource(dc),
			collector.NewHostReader(cfg.DiskPath),
			cfg.SampleConcurrency,
			logger.With("module", "collector"),
		),
		Store:       store,
		Pruner:      retention.NewService(store, logger.With("module", "retention"), metrics),
		Thresholds:  repo,
		Evaluator:   alerts.NewEvaluator(repo, logger.With("module", "alerts"), metrics),
		Broadcaster: h,
	}

	tg := notifier.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, nil)
	if tg.Enabled() {
		a.notify = notifier.NewDispatcher(tg, cfg.NotifyCooldown, logger.With("module", "notifier"))
		deps.Notifier = a.notify
	}
	if cfg.ValkeyAddr != "" {
		mc, err := valkey.New(ctx, cfg.ValkeyAddr, cfg.ValkeyPassword)
		if err != nil {
			logger.Warn("snapshot mirror disabled", "addr", cfg.ValkeyAddr, "err", err)
		} else {
			a.mirror = mc
			deps.Mirror = mc
		}
	}

	a.scheduler = scheduler.New(deps, cfg.CycleInterval, logger.With("module", "scheduler"), metrics)
	w := web.NewServer(repo, store, h, a.scheduler, dc, metrics, web.Options{
		ViewerTimeout: cfg.ViewerTimeout,
		IdleTimeout:   cfg.IdleTimeout,
		WriteTimeout:  cfg.WriteTimeout,
	}, logger.With("module", "web"))
	a.httpSrv = &http.Server{Addr: cfg.Addr, Handler: w.Routes(), ReadHeaderTimeout: 10 * time.Second}
	return a, nil
}

// Run serves until ctx is cancelled or the listener fails. A bind failure is
// returned before anything else starts.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen %s: %w", a.cfg.Addr, err), a.release())
	}
	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", ln.Addr().String())
		if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	a.notify.Start(ctx)
	a.scheduler.Start(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		a.log.Error("http server failed", "err", err)
		runErr = err
	}
	return errors.Join(runErr, a.shutdown())
}

// shutdown stops collection first so no cycle writes to a closed database,
// then drains viewers, the HTTP server and the optional sinks.
func (a *App) shutdown() error {
	a.scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.httpSrv.Shutdown(ctx)

	a.notify.Stop()
	err = errors.Join(err, a.release())
	a.log.Info("shutdown complete")
	return err
}

// release closes what New opened outside the scheduler.
func (a *App) release() error {
	if a.mirror != nil {
		a.mirror.Close()
	}
	return a.sqldb.Close()
}

// Prune runs a single retention pass against the configured database.
func Prune(ctx context.Context, cfg config.Config, logger *slog.Logger) (int64, error) {
	sqldb, repo, err := openRepository(cfg.DBPath)
	if err != nil {
		return 0, err
	}
	defer sqldb.Close()
	store := series.NewStore(repo, cfg.RetentionWindow, logger.With("module", "series"))
	return retention.NewService(store, logger.With("module", "retention"), nil).Run(ctx, time.Now())
}

func openRepository(path string) (*sql.DB, *db.Repository, error) {
	sqldb, err := db.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(sqldb); err != nil {
		_ = sqldb.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return sqldb, db.NewRepository(sqldb), nil
}
