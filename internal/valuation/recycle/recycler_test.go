package recycle

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/vietddude/valuator/internal/core/config"
)

type fakeSampler struct {
	rss   uint64
	calls int
	err   error
}

func (s *fakeSampler) Sample(ctx context.Context) (UsageSample, error) {
	s.calls++
	if s.err != nil {
		return UsageSample{}, s.err
	}
	return UsageSample{RSSBytes: s.rss, Processes: 1}, nil
}

type fakeTarget struct {
	restarts int
	err      error
}

func (t *fakeTarget) Restart(ctx context.Context) error {
	if t.err != nil {
		return t.err
	}
	t.restarts++
	return nil
}

func TestRecycler_ThresholdExact(t *testing.T) {
	r := New(config.RecyclingConfig{Threshold: 75}, nil)
	target := &fakeTarget{}
	ctx := context.Background()

	processed := 0
	for cycle := 0; cycle < 3; cycle++ {
		for i := 0; i < 75; i++ {
			if trig := r.Due(ctx); trig != TriggerNone {
				t.Fatalf("cycle %d: recycle due early after %d records", cycle, r.SinceRecycle())
			}
			r.Observe()
			processed++
		}
		if trig := r.Due(ctx); trig != TriggerThreshold {
			t.Fatalf("cycle %d: expected threshold trigger after 75 records, got %q", cycle, trig)
		}
		if err := r.Recycle(ctx, target, TriggerThreshold); err != nil {
			t.Fatalf("Recycle failed: %v", err)
		}
		if r.SinceRecycle() != 0 {
			t.Errorf("expected counter reset, got %d", r.SinceRecycle())
		}
	}

	if target.restarts != 3 || r.Recycles() != 3 {
		t.Errorf("expected 3 recycles, got %d/%d", target.restarts, r.Recycles())
	}
}

func TestRecycler_MemoryCeiling(t *testing.T) {
	sampler := &fakeSampler{rss: 100 * 1024 * 1024}
	r := New(config.RecyclingConfig{Threshold: 1000, MaxMemoryMB: 2048, MemoryCheckInterval: 10}, sampler)
	ctx := context.Background()

	// First call samples.
	if trig := r.Due(ctx); trig != TriggerNone {
		t.Fatalf("expected no trigger, got %q", trig)
	}
	if sampler.calls != 1 {
		t.Fatalf("expected first call to sample, got %d samples", sampler.calls)
	}

	sampler.rss = 3 * 1024 * 1024 * 1024
	for i := 0; i < 9; i++ {
		r.Observe()
		if trig := r.Due(ctx); trig != TriggerNone {
			t.Fatalf("memory should not be re-sampled before the interval, got %q", trig)
		}
	}
	r.Observe()
	if trig := r.Due(ctx); trig != TriggerMemory {
		t.Fatalf("expected memory trigger, got %q", trig)
	}
	if got := r.LastSample().MB(); got != 3072 {
		t.Errorf("expected 3072MB sample, got %v", got)
	}
}

func TestRecycler_FailedRecycleKeepsCounters(t *testing.T) {
	r := New(config.RecyclingConfig{Threshold: 2}, nil)
	target := &fakeTarget{err: errors.New("driver unavailable")}
	ctx := context.Background()

	r.Observe()
	r.Observe()
	if err := r.Recycle(ctx, target, r.Due(ctx)); err == nil {
		t.Fatal("expected recycle error")
	}
	if r.SinceRecycle() != 2 {
		t.Errorf("expected counters kept after failure, got %d", r.SinceRecycle())
	}
	if r.Due(ctx) != TriggerThreshold {
		t.Error("recycle should still be due after a failure")
	}
}

func TestRecycler_SamplerErrorIsIgnored(t *testing.T) {
	sampler := &fakeSampler{err: errors.New("permission denied")}
	r := New(config.RecyclingConfig{Threshold: 10, MaxMemoryMB: 1, MemoryCheckInterval: 1}, sampler)

	if trig := r.Due(context.Background()); trig != TriggerNone {
		t.Errorf("expected no trigger on sampler error, got %q", trig)
	}
}

func TestProcessSampler_Self(t *testing.T) {
	s := NewProcessSampler()
	sample, err := s.Sample(context.Background())
	if err != nil {
		t.Skipf("process sampling unavailable on this platform: %v", err)
	}
	if sample.RSSBytes == 0 || sample.Processes < 1 {
		t.Errorf("expected non-empty sample for pid %d, got %+v", os.Getpid(), sample)
	}
}
