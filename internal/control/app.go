package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/valuator/internal/core/config"
	"github.com/vietddude/valuator/internal/core/domain"
	"github.com/vietddude/valuator/internal/infra/browser"
	redisclient "github.com/vietddude/valuator/internal/infra/redis"
	"github.com/vietddude/valuator/internal/infra/storage"
	"github.com/vietddude/valuator/internal/infra/storage/memory"
	"github.com/vietddude/valuator/internal/infra/storage/postgres"
	"github.com/vietddude/valuator/internal/infra/wbac"
	"github.com/vietddude/valuator/internal/valuation/batch"
	"github.com/vietddude/valuator/internal/valuation/health"
	"github.com/vietddude/valuator/internal/valuation/recovery"
	"github.com/vietddude/valuator/internal/valuation/recycle"
)

// Options are command-line switches that shape the app.
type Options struct {
	// DryRun uses an in-memory queue seeded with Seed instead of PostgreSQL.
	DryRun bool
	Seed   []domain.Record
	// Migrate applies schema migrations before the run.
	Migrate bool
	// NoLock skips the Redis run lock even when Redis is configured.
	NoLock bool
}

// App wires the valuation pipeline: gateway, browser, retrier, recycler,
// batch controller, run lock and health server.
type App struct {
	cfg   *config.AppConfig
	opts  Options
	runID string

	db      *postgres.DB
	repo    storage.RecordRepository
	store   *memory.MemoryStorage
	runtime *browser.Runtime
	redis   *redisclient.Client
	lock    *redisclient.Lock

	stats      *batch.Stats
	controller *batch.Controller
	health     *health.Server

	log *slog.Logger
}

// New builds the app. Close must be called when done.
func New(ctx context.Context, cfg *config.AppConfig, opts Options) (*App, error) {
	runID := uuid.NewString()
	a := &App{
		cfg:   cfg,
		opts:  opts,
		runID: runID,
		log:   slog.Default().With("component", "app", "run_id", runID),
	}

	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled() && !opts.NoLock && !opts.DryRun {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			a.closeStorage()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		a.redis = rc
	}

	a.runtime = browser.NewRuntime(cfg.Browser)
	a.stats = batch.NewStats(runID)

	retrier := recovery.NewRetrier(
		wbac.NewLauncher(a.runtime, cfg.Site),
		recovery.NewBackoff(cfg.Retry.Browser),
		recovery.WithObserver(a.stats),
	)
	recycler := recycle.New(cfg.Recycling, recycle.NewProcessSampler())

	a.controller = batch.NewController(a.repo, retrier, batch.ConfigFrom(cfg),
		batch.WithStats(a.stats),
		batch.WithRecycler(recycler, a.runtime),
	)

	if cfg.Server.Port > 0 {
		a.health = health.NewServer(a.controller, cfg.Server.Port)
		if a.db != nil {
			a.health.AddCheck("database", a.db.Health)
		}
	}
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	if a.opts.DryRun {
		a.store = memory.NewMemoryStorage(a.opts.Seed...)
		a.repo = a.store
		a.log.Info("Using memory storage", "records", len(a.opts.Seed))
		return nil
	}

	db, err := postgres.NewDB(ctx, a.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	if a.opts.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to migrate db: %w", err)
		}
	}
	a.db = db
	a.repo = postgres.NewRecordRepo(db)
	a.log.Info("Using PostgreSQL storage", "driver", a.cfg.Database.DriverName())
	return nil
}

// RunID identifies this run in logs and in the run lock.
func (a *App) RunID() string {
	return a.runID
}

// Repo returns the persistence gateway.
func (a *App) Repo() storage.RecordRepository {
	return a.repo
}

// Run takes the run lock, starts the health server and the browser, then
// processes the pending queue to completion.
func (a *App) Run(ctx context.Context) (batch.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.redis != nil {
		lock, err := a.redis.AcquireRunLock(ctx, a.cfg.Redis)
		if err != nil {
			return batch.Summary{}, err
		}
		a.lock = lock
		go func() {
			select {
			case <-lock.Lost():
				a.log.Error("Run lock lost, stopping batch")
				a.controller.Stop()
			case <-runCtx.Done():
			}
		}()
	}

	if a.health != nil {
		go func() {
			if err := a.health.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Health server failed", "error", err)
			}
		}()
		a.log.Info("Health server listening", "port", a.cfg.Server.Port)
	}
	if a.db != nil {
		a.db.StartMetricsCollector(runCtx)
	}

	if err := a.runtime.Start(ctx); err != nil {
		return batch.Summary{}, fmt.Errorf("failed to start browser: %w", err)
	}

	return a.controller.Run(ctx)
}

// Stop asks the batch to finish the current record and return.
func (a *App) Stop() {
	a.controller.Stop()
}

// Close releases the lock, the browser, the health server and storage.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.lock != nil {
		if err := a.lock.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.health != nil {
		if err := a.health.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop health server: %w", err))
		}
	}
	if err := a.runtime.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	a.closeStorage()
	return errors.Join(errs...)
}

func (a *App) closeStorage() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
}

// ValuateOne runs one record through the full browser-level retry policy
// without touching the queue.
func ValuateOne(ctx context.Context, cfg *config.AppConfig, rec domain.Record) (domain.Outcome, error) {
	rt := browser.NewRuntime(cfg.Browser)
	defer func() { _ = rt.Close() }()

	retrier := recovery.NewRetrier(
		wbac.NewLauncher(rt, cfg.Site),
		recovery.NewBackoff(cfg.Retry.Browser),
	)
	start := time.Now()
	out, err := retrier.Run(ctx, rec)
	slog.Info("Test valuation finished", "plate", rec.Plate, "attempts", out.Attempts, "took", time.Since(start).Round(time.Millisecond))
	return out, err
}
