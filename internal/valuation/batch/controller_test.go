package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/valuator/internal/core/config"
	"github.com/vietddude/valuator/internal/core/domain"
	"github.com/vietddude/valuator/internal/infra/storage/memory"
	"github.com/vietddude/valuator/internal/valuation/recovery"
	"github.com/vietddude/valuator/internal/valuation/recycle"
)

// =============================================================================
// Mock Runner
// =============================================================================

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, rec domain.Record, call int) (domain.Outcome, error)
}

func (r *fakeRunner) Run(ctx context.Context, rec domain.Record) (domain.Outcome, error) {
	r.mu.Lock()
	r.calls = append(r.calls, rec.ID)
	n := len(r.calls)
	r.mu.Unlock()
	if r.fn == nil {
		return domain.Outcome{Amount: 1000, Attempts: 1}, nil
	}
	return r.fn(ctx, rec, n)
}

func (r *fakeRunner) callsFor(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == id {
			n++
		}
	}
	return n
}

func failed(reason domain.FailureReason, attempts int) domain.Outcome {
	return domain.Outcome{
		Reason:   reason,
		Attempts: attempts,
		Err:      domain.NewAttemptError(reason, errors.New("scripted")),
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func records(n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{
			ID:      fmt.Sprintf("r%d", i+1),
			Plate:   fmt.Sprintf("AB%02dCDE", i+1),
			Mileage: 50000,
		}
	}
	return out
}

// testConfig disables pacing so every recorded sleep is a batch backoff.
func testConfig() Config {
	return Config{
		PageSize:            50,
		ConsecutiveFailures: 5,
		Backoff: config.BackoffConfig{
			MaxRetries: 10,
			BaseDelay:  5 * time.Second,
			MaxDelay:   120 * time.Second,
		},
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestController_DrainsQueue(t *testing.T) {
	store := memory.NewMemoryStorage(records(7)...)
	runner := &fakeRunner{fn: func(ctx context.Context, rec domain.Record, call int) (domain.Outcome, error) {
		if call%3 == 0 {
			return failed(domain.ReasonNotFound, 1), nil
		}
		return domain.Outcome{Amount: 500, Attempts: 1}, nil
	}}
	cfg := testConfig()
	cfg.PageSize = 3

	c := NewController(store, runner, cfg, WithSleep((&sleepRecorder{}).sleep))
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if c.State() != StateDone {
		t.Errorf("expected done, got %s", c.State())
	}
	for _, rec := range records(7) {
		if st := store.State(rec.ID); st != "valuated" && st != "failed" {
			t.Errorf("record %s in %q, want exactly one terminal queue", rec.ID, st)
		}
		if n := runner.callsFor(rec.ID); n != 1 {
			t.Errorf("record %s processed %d times", rec.ID, n)
		}
	}
	if summary.Attempted != 7 || summary.Succeeded != 5 || summary.Failed != 2 || summary.Remaining != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.FailureReasons[domain.ReasonNotFound] != 2 {
		t.Errorf("expected 2 not_found, got %v", summary.FailureReasons)
	}
}

func TestController_EmptyQueue(t *testing.T) {
	c := NewController(memory.NewMemoryStorage(), &fakeRunner{}, testConfig())
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if c.State() != StateDone || summary.Attempted != 0 {
		t.Errorf("expected done with nothing attempted, got %s / %+v", c.State(), summary)
	}
}

func TestController_ConsecutiveFailuresRestart(t *testing.T) {
	store := memory.NewMemoryStorage(records(7)...)
	runner := &fakeRunner{fn: func(ctx context.Context, rec domain.Record, call int) (domain.Outcome, error) {
		if call <= 5 {
			return failed(domain.ReasonTimeout, 3), nil
		}
		return domain.Outcome{Amount: 1000, Attempts: 1}, nil
	}}
	sleeps := &sleepRecorder{}
	backoff := &recovery.ExponentialBackoff{
		InitialDelay: 5 * time.Second, MaxDelay: 120 * time.Second, MaxAttempts: 10,
	}

	c := NewController(store, runner, testConfig(), WithSleep(sleeps.sleep), WithBackoff(backoff))
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.BatchRestarts != 1 {
		t.Fatalf("expected exactly one batch restart, got %d", summary.BatchRestarts)
	}
	if len(sleeps.delays) != 1 || sleeps.delays[0] != 5*time.Second {
		t.Errorf("expected one 5s backoff, got %v", sleeps.delays)
	}
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("r%d", i)
		if store.State(id) != "failed" {
			t.Errorf("%s should be failed, got %q", id, store.State(id))
		}
		if n := runner.callsFor(id); n != 1 {
			t.Errorf("%s reprocessed after restart: %d calls", id, n)
		}
	}
	if store.State("r6") != "valuated" || runner.callsFor("r6") != 1 {
		t.Errorf("r6 should be processed once after the restart")
	}
	if c.Status().Last == nil || c.Status().Last.To != StateDone {
		t.Errorf("expected last transition to done, got %+v", c.Status().Last)
	}
}

func TestController_SuccessResetsConsecutiveCounter(t *testing.T) {
	store := memory.NewMemoryStorage(records(9)...)
	// Four failures, one success, four failures: never five in a row.
	runner := &fakeRunner{fn: func(ctx context.Context, rec domain.Record, call int) (domain.Outcome, error) {
		if call == 5 {
			return domain.Outcome{Amount: 1, Attempts: 1}, nil
		}
		return failed(domain.ReasonCrash, 3), nil
	}}
	c := NewController(store, runner, testConfig(), WithSleep((&sleepRecorder{}).sleep))
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.BatchRestarts != 0 {
		t.Errorf("expected no restart, got %d", summary.BatchRestarts)
	}
}

func TestController_AbortsAfterRestartLimit(t *testing.T) {
	store := memory.NewMemoryStorage(records(5)...)
	runner := &fakeRunner{fn: func(ctx context.Context, rec domain.Record, call int) (domain.Outcome, error) {
		return failed(domain.ReasonNavigationError, 3), nil
	}}
	sleeps := &sleepRecorder{}
	cfg := testConfig()
	cfg.ConsecutiveFailures = 1
	cfg.Backoff.MaxRetries = 2
	backoff := &recovery.ExponentialBackoff{InitialDelay: 5 * time.Second, MaxDelay: 120 * time.Second}

	c := NewController(store, runner, cfg, WithSleep(sleeps.sleep), WithBackoff(backoff))
	summary, err := c.Run(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if c.State() != StateAborted {
		t.Errorf("expected aborted, got %s", c.State())
	}
	if summary.BatchRestarts != 2 || summary.Failed != 3 || summary.Remaining != 2 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(sleeps.delays) != len(want) {
		t.Fatalf("expected backoffs %v, got %v", want, sleeps.delays)
	}
	for i := range want {
		if sleeps.delays[i] != want[i] {
			t.Errorf("backoff %d: expected %v, got %v", i, want[i], sleeps.delays[i])
		}
	}
}

func TestController_GatewayErrorIsSystemic(t *testing.T) {
	store := memory.NewMemoryStorage(records(2)...)
	store.Inject(memory.Fault{Op: "fetch", Err: errors.New("connection refused"), Times: 1})
	store.Inject(memory.Fault{Op: "valuated", Err: errors.New("deadlock detected"), Times: 1})
	runner := &fakeRunner{}

	c := NewController(store, runner, testConfig(), WithSleep((&sleepRecorder{}).sleep))
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.BatchRestarts != 2 {
		t.Errorf("expected 2 restarts (fetch + write), got %d", summary.BatchRestarts)
	}
	if store.State("r1") != "valuated" || store.State("r2") != "valuated" {
		t.Errorf("expected both valuated, got %q / %q", store.State("r1"), store.State("r2"))
	}
	// r1's first write failed, so it stayed pending and was fetched again.
	if runner.callsFor("r1") != 2 {
		t.Errorf("expected r1 processed twice, got %d", runner.callsFor("r1"))
	}
	if summary.Succeeded != 2 {
		t.Errorf("expected 2 succeeded, got %d", summary.Succeeded)
	}
}

func TestController_StopFinishesCurrentRecord(t *testing.T) {
	store := memory.NewMemoryStorage(records(4)...)
	var c *Controller
	runner := &fakeRunner{fn: func(ctx context.Context, rec domain.Record, call int) (domain.Outcome, error) {
		if rec.ID == "r2" {
			c.Stop()
		}
		return domain.Outcome{Amount: 10, Attempts: 1}, nil
	}}
	c = NewController(store, runner, testConfig(), WithSleep((&sleepRecorder{}).sleep))

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if c.State() != StateStopped {
		t.Errorf("expected stopped, got %s", c.State())
	}
	if store.State("r2") != "valuated" {
		t.Errorf("current record must be persisted before stopping, got %q", store.State("r2"))
	}
	if store.State("r3") != "pending" || store.State("r4") != "pending" {
		t.Error("records after stop must stay pending")
	}
	if summary.Remaining != 2 {
		t.Errorf("expected 2 remaining, got %d", summary.Remaining)
	}
}

func TestController_StopDuringBackoff(t *testing.T) {
	store := memory.NewMemoryStorage(records(2)...)
	store.Inject(memory.Fault{Op: "fetch", Err: errors.New("timeout"), Times: 1})

	var c *Controller
	sleep := func(ctx context.Context, d time.Duration) error {
		c.Stop()
		<-ctx.Done()
		return ctx.Err()
	}
	c = NewController(store, &fakeRunner{}, testConfig(), WithSleep(sleep))

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if c.State() != StateStopped {
		t.Errorf("expected stopped, got %s", c.State())
	}
}

func TestController_ContextCancelLeavesRecordPending(t *testing.T) {
	store := memory.NewMemoryStorage(records(2)...)
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{fn: func(ctx context.Context, rec domain.Record, call int) (domain.Outcome, error) {
		cancel()
		return domain.Outcome{}, ctx.Err()
	}}

	c := NewController(store, runner, testConfig())
	_, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.State("r1") != "pending" {
		t.Errorf("interrupted record must stay pending, got %q", store.State("r1"))
	}
	counts, _ := store.Counts(context.Background())
	if counts.Failed != 0 || counts.Valuated != 0 {
		t.Errorf("nothing should be persisted, got %+v", counts)
	}
}

type countingTarget struct{ restarts int }

func (t *countingTarget) Restart(ctx context.Context) error {
	t.restarts++
	return nil
}

func TestController_RecyclesEveryThreshold(t *testing.T) {
	store := memory.NewMemoryStorage(records(7)...)
	runner := &fakeRunner{fn: func(ctx context.Context, rec domain.Record, call int) (domain.Outcome, error) {
		if call%2 == 0 {
			return failed(domain.ReasonNotFound, 1), nil
		}
		return domain.Outcome{Amount: 1, Attempts: 1}, nil
	}}
	target := &countingTarget{}
	recycler := recycle.New(config.RecyclingConfig{Threshold: 3}, nil)

	c := NewController(store, runner, testConfig(),
		WithSleep((&sleepRecorder{}).sleep),
		WithRecycler(recycler, target),
	)
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Recycles happen before records 4 and 7.
	if target.restarts != 2 || summary.Recycles != 2 {
		t.Errorf("expected 2 recycles, got target=%d summary=%d", target.restarts, summary.Recycles)
	}
	if recycler.SinceRecycle() != 1 {
		t.Errorf("expected 1 record since last recycle, got %d", recycler.SinceRecycle())
	}
}

func TestController_FailedWriteNotCountedForRecycle(t *testing.T) {
	store := memory.NewMemoryStorage(records(2)...)
	store.Inject(memory.Fault{Op: "valuated", Err: errors.New("deadlock detected"), Times: 1})
	runner := &fakeRunner{}
	recycler := recycle.New(config.RecyclingConfig{Threshold: 100}, nil)

	c := NewController(store, runner, testConfig(),
		WithSleep((&sleepRecorder{}).sleep),
		WithRecycler(recycler, &countingTarget{}),
	)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if runner.callsFor("r1") != 2 {
		t.Fatalf("expected r1 processed twice, got %d", runner.callsFor("r1"))
	}
	if recycler.SinceRecycle() != 2 {
		t.Errorf("expected 2 records counted, got %d", recycler.SinceRecycle())
	}
}

func TestController_PacingBetweenRecords(t *testing.T) {
	store := memory.NewMemoryStorage(records(3)...)
	sleeps := &sleepRecorder{}
	cfg := testConfig()
	cfg.MinDelay = 2 * time.Second
	cfg.MaxDelay = 5 * time.Second

	c := NewController(store, &fakeRunner{}, cfg,
		WithSleep(sleeps.sleep),
		WithRand(func() float64 { return 0.5 }),
	)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := 3500 * time.Millisecond
	if len(sleeps.delays) != 2 || sleeps.delays[0] != want || sleeps.delays[1] != want {
		t.Errorf("expected two %v pauses, got %v", want, sleeps.delays)
	}
}

func TestController_SalvageAdjustment(t *testing.T) {
	rec := domain.Record{ID: "s1", Plate: "CAT5S", Mileage: 40000, SalvageCategory: domain.SalvageCatS}
	store := memory.NewMemoryStorage(rec)
	runner := &fakeRunner{fn: func(ctx context.Context, rec domain.Record, call int) (domain.Outcome, error) {
		return domain.Outcome{Amount: 10000, Attempts: 1}, nil
	}}

	c := NewController(store, runner, testConfig())
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	rows := store.Valuated()
	if len(rows) != 1 {
		t.Fatalf("expected 1 valuated row, got %d", len(rows))
	}
	v := rows[0].Valuation
	if v.Amount != 7000 || v.OriginalAmount == nil || *v.OriginalAmount != 10000 {
		t.Errorf("expected 7000 (orig 10000), got %+v", v)
	}
}

func TestController_RunsOnce(t *testing.T) {
	c := NewController(memory.NewMemoryStorage(), &fakeRunner{}, testConfig())
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if _, err := c.Run(context.Background()); err == nil {
		t.Error("expected error on second Run")
	}
}

// =============================================================================
// End-to-end with the browser-level retrier
// =============================================================================

type scriptedLauncher struct {
	mu     sync.Mutex
	script map[string][]error // per plate; nil entry = success
	amount map[string]float64
	seen   map[string]int
}

func (l *scriptedLauncher) NewSession(ctx context.Context) (recovery.Session, error) {
	return &scriptedSession{l: l}, nil
}

type scriptedSession struct{ l *scriptedLauncher }

func (s *scriptedSession) Valuate(ctx context.Context, rec domain.Record) (float64, error) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	i := s.l.seen[rec.Plate]
	s.l.seen[rec.Plate]++
	steps := s.l.script[rec.Plate]
	if i < len(steps) && steps[i] != nil {
		return 0, steps[i]
	}
	return s.l.amount[rec.Plate], nil
}

func (s *scriptedSession) Close() error { return nil }

func TestController_WithRetrier(t *testing.T) {
	timeout := domain.NewAttemptError(domain.ReasonTimeout, errors.New("result did not appear"))
	launcher := &scriptedLauncher{
		script: map[string][]error{
			"AB12CDE": {timeout, timeout, nil},
			"XY99ZZZ": {domain.ErrCarNotFound},
		},
		amount: map[string]float64{"AB12CDE": 12345.67},
		seen:   map[string]int{},
	}
	store := memory.NewMemoryStorage(
		domain.Record{ID: "a", Plate: "AB12CDE", Mileage: 50000},
		domain.Record{ID: "b", Plate: "XY99ZZZ", Mileage: 30000},
	)

	stats := NewStats("test-run")
	retrySleeps := &sleepRecorder{}
	retrier := recovery.NewRetrier(launcher, recovery.DefaultBackoff(),
		recovery.WithSleep(retrySleeps.sleep),
		recovery.WithObserver(stats),
	)
	c := NewController(store, retrier, testConfig(), WithStats(stats))

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	valuated := store.Valuated()
	if len(valuated) != 1 || valuated[0].Valuation.Amount != 12345.67 {
		t.Errorf("expected AB12CDE valuated at 12345.67, got %+v", valuated)
	}
	failedRows := store.Failed()
	if len(failedRows) != 1 || failedRows[0].Reason != string(domain.ReasonNotFound) {
		t.Errorf("expected XY99ZZZ failed with not_found, got %+v", failedRows)
	}
	if launcher.seen["AB12CDE"] != 3 || launcher.seen["XY99ZZZ"] != 1 {
		t.Errorf("unexpected attempt counts: %v", launcher.seen)
	}
	if len(retrySleeps.delays) != 2 {
		t.Errorf("expected 2 retry sleeps, got %v", retrySleeps.delays)
	}
	if summary.Attempts != 4 || summary.BrowserRetries != 2 || summary.RunID != "test-run" {
		t.Errorf("unexpected summary: %+v", summary)
	}
}
