package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vietddude/valuator/internal/core/config"
	"github.com/vietddude/valuator/internal/core/domain"
	"github.com/vietddude/valuator/internal/infra/storage"
	"github.com/vietddude/valuator/internal/valuation/metrics"
	"github.com/vietddude/valuator/internal/valuation/recovery"
	"github.com/vietddude/valuator/internal/valuation/recycle"
)

// ErrAborted is returned when systemic failures exceed the batch restart limit.
var ErrAborted = errors.New("batch aborted")

var errStopRequested = errors.New("stop requested")

// Runner drives one record to a terminal outcome.
type Runner interface {
	Run(ctx context.Context, rec domain.Record) (domain.Outcome, error)
}

// Config holds batch controller settings.
type Config struct {
	PageSize            int
	MinDelay            time.Duration
	MaxDelay            time.Duration
	ConsecutiveFailures int
	Backoff             config.BackoffConfig // MaxRetries bounds batch restarts
}

// ConfigFrom extracts controller settings from the app config.
func ConfigFrom(cfg *config.AppConfig) Config {
	return Config{
		PageSize:            cfg.Batch.PageSize,
		MinDelay:            cfg.Batch.MinDelay,
		MaxDelay:            cfg.Batch.MaxDelay,
		ConsecutiveFailures: cfg.Retry.ConsecutiveFailures,
		Backoff:             cfg.Retry.Batch,
	}
}

// Status is the controller state as reported by the health server.
type Status struct {
	State       State       `json:"state"`
	Description string      `json:"description"`
	Last        *Transition `json:"last_transition,omitempty"`
	Summary     Summary     `json:"summary"`
}

// systemicError marks a failure that restarts the batch.
type systemicError struct {
	cause string
	err   error
}

func (e *systemicError) Error() string { return e.cause + ": " + e.err.Error() }
func (e *systemicError) Unwrap() error { return e.err }

// Controller processes the pending queue sequentially and restarts the batch
// with backoff on systemic failures. A Controller runs once.
type Controller struct {
	repo     storage.RecordRepository
	runner   Runner
	cfg      Config
	backoff  recovery.RetryStrategy
	recycler *recycle.Recycler
	target   recycle.Target
	stats    *Stats
	sleep    recovery.SleepFunc
	rand     func() float64

	mu    sync.RWMutex
	state State
	last  *Transition

	stop     chan struct{}
	stopOnce sync.Once
	paced    bool

	log *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecycler recycles target whenever recycler reports it is due.
func WithRecycler(r *recycle.Recycler, target recycle.Target) Option {
	return func(c *Controller) {
		c.recycler = r
		c.target = target
	}
}

// WithStats shares run statistics, e.g. with the retrier observer.
func WithStats(s *Stats) Option {
	return func(c *Controller) { c.stats = s }
}

// WithSleep replaces the sleep used for pacing and batch backoff.
func WithSleep(fn recovery.SleepFunc) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithRand replaces the pacing random source (values in [0,1)).
func WithRand(fn func() float64) Option {
	return func(c *Controller) { c.rand = fn }
}

// WithBackoff replaces the batch backoff strategy.
func WithBackoff(s recovery.RetryStrategy) Option {
	return func(c *Controller) { c.backoff = s }
}

// NewController creates a batch controller.
func NewController(repo storage.RecordRepository, runner Runner, cfg Config, opts ...Option) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.ConsecutiveFailures <= 0 {
		cfg.ConsecutiveFailures = 5
	}
	c := &Controller{
		repo:    repo,
		runner:  runner,
		cfg:     cfg,
		backoff: recovery.NewBackoff(cfg.Backoff),
		sleep:   recovery.Sleep,
		rand:    rand.Float64,
		state:   StateIdle,
		stop:    make(chan struct{}),
		log:     slog.Default().With("component", "batch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stats == nil {
		c.stats = NewStats("")
	}
	return c
}

// Stop asks the controller to finish the current record and return.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.log.Info("Stop requested, finishing current record")
		close(c.stop)
	})
}

func (c *Controller) stopRequested() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns the state and a statistics snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	st := Status{State: c.state, Description: StateDescription(c.state)}
	if c.last != nil {
		t := *c.last
		st.Last = &t
	}
	c.mu.RUnlock()
	st.Summary = c.stats.Snapshot()
	return st
}

func (c *Controller) setState(to State, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !CanTransition(c.state, to) {
		c.log.Error("Invalid state transition", "from", c.state, "to", to, "error", ErrInvalidTransition)
		return
	}
	t := NewTransition(c.state, to, reason)
	c.last = &t
	metrics.ControllerState.WithLabelValues(string(c.state)).Set(0)
	metrics.ControllerState.WithLabelValues(string(to)).Set(1)
	c.state = to
	c.log.Debug("State changed", "from", t.From, "to", t.To, "reason", reason)
}

// Run processes pending records until the queue is empty, Stop is called,
// ctx ends or the batch restart limit is exceeded. The returned error is nil
// for done and stopped, wraps ErrAborted on abort and is ctx.Err() on cancellation.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	if c.State() != StateIdle {
		return c.stats.Snapshot(), fmt.Errorf("controller already ran (state %s)", c.State())
	}

	// Pacing and backoff waits also end on Stop.
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	go func() {
		select {
		case <-c.stop:
			cancelWait()
		case <-waitCtx.Done():
		}
	}()

	c.setState(StateRunning, "run started")
	c.log.Info("Batch run started",
		"page_size", c.cfg.PageSize,
		"max_restarts", c.cfg.Backoff.MaxRetries,
		"consecutive_failures", c.cfg.ConsecutiveFailures)

	restarts := 0
	for {
		err := c.pass(ctx, waitCtx)
		switch {
		case err == nil:
			c.setState(StateDone, "pending queue empty")
			return c.finish(ctx, "Batch run complete"), nil
		case errors.Is(err, errStopRequested):
			c.setState(StateStopped, "stop requested")
			return c.finish(ctx, "Batch run stopped"), nil
		case ctx.Err() != nil:
			c.setState(StateStopped, "context cancelled")
			return c.finish(ctx, "Batch run cancelled"), ctx.Err()
		}

		restarts++
		if restarts > c.cfg.Backoff.MaxRetries {
			c.setState(StateAborted, err.Error())
			summary := c.finish(ctx, "Batch run aborted")
			return summary, fmt.Errorf("%w after %d restarts: %w", ErrAborted, restarts-1, err)
		}

		delay := c.backoff.GetDelay(restarts - 1)
		c.stats.BatchRestarted()
		metrics.BatchRestarts.Inc()
		c.setState(StatePausedForBackoff, err.Error())
		c.log.Warn("Systemic failure, restarting batch",
			"restart", restarts, "max", c.cfg.Backoff.MaxRetries, "delay", delay, "error", err)

		if err := c.sleep(waitCtx, delay); err != nil {
			if c.stopRequested() {
				c.setState(StateStopped, "stop requested during backoff")
				return c.finish(ctx, "Batch run stopped"), nil
			}
			c.setState(StateStopped, "context cancelled during backoff")
			return c.finish(ctx, "Batch run cancelled"), ctx.Err()
		}
		c.setState(StateRunning, fmt.Sprintf("restart %d", restarts))
	}
}

// pass runs from a fresh fetch until the queue is empty or a systemic signal.
func (c *Controller) pass(ctx, waitCtx context.Context) error {
	consecutive := 0
	for {
		if c.stopRequested() {
			return errStopRequested
		}
		records, err := c.repo.FetchPending(ctx, c.cfg.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &systemicError{cause: "fetch pending", err: err}
		}
		if len(records) == 0 {
			return nil
		}
		c.log.Info("Fetched pending records", "count", len(records))

		for _, rec := range records {
			if c.stopRequested() {
				return errStopRequested
			}
			c.maybeRecycle(ctx)

			if err := c.pace(waitCtx); err != nil {
				if c.stopRequested() {
					return errStopRequested
				}
				return err
			}

			out, err := c.runner.Run(ctx, rec)
			if err != nil {
				return err
			}
			if err := c.persist(ctx, rec, out); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &systemicError{cause: "persist " + rec.ID, err: err}
			}
			// Counted once per record; a rerun after a failed write is not a new record.
			if c.recycler != nil {
				c.recycler.Observe()
			}

			if out.Succeeded() {
				consecutive = 0
				continue
			}
			consecutive++
			if consecutive >= c.cfg.ConsecutiveFailures {
				return &systemicError{
					cause: "consecutive failures",
					err:   fmt.Errorf("%d records failed in a row, last: %s", consecutive, out.Reason),
				}
			}
		}
	}
}

func (c *Controller) persist(ctx context.Context, rec domain.Record, out domain.Outcome) error {
	if out.Succeeded() {
		v := domain.NewValuation(out.Amount, rec.SalvageCategory)
		if err := c.repo.MarkValuated(ctx, rec, v); err != nil {
			return err
		}
		c.stats.RecordValuated(v)
		metrics.RecordsProcessed.WithLabelValues("valuated").Inc()
		args := []any{"id", rec.ID, "plate", rec.Plate, "amount", v.Amount, "attempts", out.Attempts}
		if v.OriginalAmount != nil {
			args = append(args, "original", *v.OriginalAmount, "salvage", rec.SalvageCategory)
		}
		c.log.Info("Record valuated", args...)
		return nil
	}

	if err := c.repo.MarkFailed(ctx, rec, string(out.Reason)); err != nil {
		return err
	}
	c.stats.RecordFailed(out.Reason)
	metrics.RecordsProcessed.WithLabelValues("failed").Inc()
	c.log.Info("Record failed",
		"id", rec.ID, "plate", rec.Plate, "reason", out.Reason,
		"attempts", out.Attempts, "error", out.FailureMessage())
	return nil
}

func (c *Controller) maybeRecycle(ctx context.Context) {
	if c.recycler == nil || c.target == nil {
		return
	}
	trigger := c.recycler.Due(ctx)
	if trigger == recycle.TriggerNone {
		return
	}
	if err := c.recycler.Recycle(ctx, c.target, trigger); err != nil {
		return
	}
	c.stats.Recycled()
}

// pace waits a random delay in [MinDelay, MaxDelay] before every record but the first.
func (c *Controller) pace(ctx context.Context) error {
	if !c.paced {
		c.paced = true
		return nil
	}
	if c.cfg.MaxDelay <= 0 {
		return nil
	}
	d := c.cfg.MinDelay
	if spread := c.cfg.MaxDelay - c.cfg.MinDelay; spread > 0 {
		d += time.Duration(float64(spread) * c.rand())
	}
	return c.sleep(ctx, d)
}

func (c *Controller) finish(ctx context.Context, msg string) Summary {
	countCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if counts, err := c.repo.Counts(countCtx); err == nil {
		c.stats.SetRemaining(counts.Pending)
	} else {
		c.log.Warn("Failed to count remaining records", "error", err)
	}

	summary := c.stats.Snapshot()
	c.log.Info(msg, summary.LogArgs()...)
	return summary
}
