package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/valuator/internal/core/domain"
	"github.com/vietddude/valuator/internal/valuation/metrics"
)

// Session is one fresh browser instance, valid for a single attempt.
type Session interface {
	// Valuate runs one end-to-end interaction with the target site.
	Valuate(ctx context.Context, rec domain.Record) (float64, error)

	// Close tears the browser instance down.
	Close() error
}

// Launcher hands out fresh sessions.
type Launcher interface {
	NewSession(ctx context.Context) (Session, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Observer receives retry events, e.g. for run statistics.
type Observer interface {
	AttemptFinished(rec domain.Record, reason domain.FailureReason, took time.Duration)
	RetryScheduled(rec domain.Record, attempt int, delay time.Duration)
}

// Retrier drives one record to a terminal outcome with browser-level retries.
type Retrier struct {
	launcher Launcher
	strategy RetryStrategy
	classify Classifier
	sleep    SleepFunc
	observer Observer
	log      *slog.Logger
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithSleep replaces the sleep function.
func WithSleep(fn SleepFunc) Option {
	return func(r *Retrier) { r.sleep = fn }
}

// WithClassifier replaces the failure classifier.
func WithClassifier(c Classifier) Option {
	return func(r *Retrier) { r.classify = c }
}

// WithObserver registers an observer for attempt events.
func WithObserver(o Observer) Option {
	return func(r *Retrier) { r.observer = o }
}

// NewRetrier creates a browser-level retrier.
func NewRetrier(launcher Launcher, strategy RetryStrategy, opts ...Option) *Retrier {
	if strategy == nil {
		strategy = DefaultBackoff()
	}
	r := &Retrier{
		launcher: launcher,
		strategy: strategy,
		classify: Classify,
		sleep:    Sleep,
		log:      slog.Default().With("component", "browser-retry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run attempts rec until it succeeds, fails definitively or runs out of attempts.
// A non-nil error means ctx ended and the record must stay pending.
func (r *Retrier) Run(ctx context.Context, rec domain.Record) (domain.Outcome, error) {
	var out domain.Outcome

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		start := time.Now()
		amount, err := r.attempt(ctx, rec)
		took := time.Since(start)
		out.Attempts = attempt + 1

		if err == nil {
			r.observe(rec, "", took)
			r.log.Debug("Attempt succeeded", "plate", rec.Plate, "attempt", out.Attempts, "amount", amount)
			return domain.Outcome{Amount: amount, Attempts: out.Attempts}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}

		reason := r.classify(err)
		out.Reason, out.Err = reason, err
		r.observe(rec, reason, took)

		if !r.strategy.ShouldRetry(reason, attempt) {
			r.log.Info("Giving up on record",
				"plate", rec.Plate, "attempts", out.Attempts, "reason", reason, "error", err)
			return out, nil
		}

		delay := r.strategy.GetDelay(attempt)
		r.log.Warn("Attempt failed, retrying",
			"plate", rec.Plate, "attempt", out.Attempts, "reason", reason, "delay", delay, "error", err)
		metrics.BrowserRetries.Inc()
		if r.observer != nil {
			r.observer.RetryScheduled(rec, attempt, delay)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return out, err
		}
	}
}

// attempt runs one valuation on a fresh session. The session is closed on
// every exit path, and a panic inside the attempt becomes a crash.
func (r *Retrier) attempt(ctx context.Context, rec domain.Record) (amount float64, err error) {
	sess, err := r.launcher.NewSession(ctx)
	if err != nil {
		return 0, domain.NewAttemptError(domain.ReasonCrash, fmt.Errorf("acquire browser session: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			amount = 0
			err = domain.NewAttemptError(domain.ReasonCrash, fmt.Errorf("panic during attempt: %v", p))
		}
		if cerr := sess.Close(); cerr != nil {
			r.log.Warn("Failed to close browser session", "plate", rec.Plate, "error", cerr)
		}
	}()

	return sess.Valuate(ctx, rec)
}

func (r *Retrier) observe(rec domain.Record, reason domain.FailureReason, took time.Duration) {
	result := "success"
	if reason != "" {
		result = string(reason)
	}
	metrics.AttemptsTotal.WithLabelValues(result).Inc()
	metrics.AttemptDuration.WithLabelValues(result).Observe(took.Seconds())
	if r.observer != nil {
		r.observer.AttemptFinished(rec, reason, took)
	}
}
