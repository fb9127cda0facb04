package recycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/valuator/internal/core/config"
	"github.com/vietddude/valuator/internal/valuation/metrics"
)

// Trigger names why a recycle is due.
type Trigger string

const (
	TriggerNone      Trigger = ""
	TriggerThreshold Trigger = "threshold"
	TriggerMemory    Trigger = "memory"
)

// Target is the long-lived browser context that can be rebuilt.
type Target interface {
	Restart(ctx context.Context) error
}

// Recycler decides when the shared browser process must be replaced.
// It is advisory: a failed recycle never stops processing.
type Recycler struct {
	threshold     int
	maxMemory     uint64
	checkInterval int
	sampler       Sampler

	sinceRecycle int
	sinceSample  int
	sampled      bool
	last         UsageSample
	recycles     int
	log          *slog.Logger
}

// New creates a recycler. A nil sampler disables the memory trigger.
func New(cfg config.RecyclingConfig, sampler Sampler) *Recycler {
	interval := cfg.MemoryCheckInterval
	if interval <= 0 {
		interval = 1
	}
	return &Recycler{
		threshold:     cfg.Threshold,
		maxMemory:     cfg.MaxMemoryMB * 1024 * 1024,
		checkInterval: interval,
		sampler:       sampler,
		log:           slog.Default().With("component", "recycler"),
	}
}

// Observe records one processed record, whatever its outcome.
func (r *Recycler) Observe() {
	r.sinceRecycle++
	r.sinceSample++
}

// SinceRecycle returns the records processed since the last recycle.
func (r *Recycler) SinceRecycle() int {
	return r.sinceRecycle
}

// Recycles returns the number of successful recycles.
func (r *Recycler) Recycles() int {
	return r.recycles
}

// LastSample returns the most recent memory sample.
func (r *Recycler) LastSample() UsageSample {
	return r.last
}

// Due reports whether the browser context should be rebuilt before the next record.
func (r *Recycler) Due(ctx context.Context) Trigger {
	if r.threshold > 0 && r.sinceRecycle >= r.threshold {
		return TriggerThreshold
	}

	if r.sampler == nil || r.maxMemory == 0 {
		return TriggerNone
	}
	if r.sampled && r.sinceSample < r.checkInterval {
		return TriggerNone
	}

	sample, err := r.sampler.Sample(ctx)
	r.sampled = true
	r.sinceSample = 0
	if err != nil {
		r.log.Warn("Failed to sample memory usage", "error", err)
		return TriggerNone
	}
	r.last = sample
	metrics.MemoryUsage.Set(float64(sample.RSSBytes))
	r.log.Debug("Memory usage", "rss_mb", fmt.Sprintf("%.1f", sample.MB()), "processes", sample.Processes)

	if sample.RSSBytes >= r.maxMemory {
		return TriggerMemory
	}
	return TriggerNone
}

// Recycle restarts target. Counters reset only when the restart succeeds, so a
// failed recycle is tried again at the next record boundary.
func (r *Recycler) Recycle(ctx context.Context, target Target, trigger Trigger) error {
	r.log.Info("Recycling browser", "trigger", trigger, "since_recycle", r.sinceRecycle)

	if err := target.Restart(ctx); err != nil {
		metrics.BrowserRecycles.WithLabelValues(string(trigger), "failed").Inc()
		r.log.Warn("Browser recycle failed, continuing with current browser", "error", err)
		return fmt.Errorf("recycle browser: %w", err)
	}

	metrics.BrowserRecycles.WithLabelValues(string(trigger), "ok").Inc()
	r.recycles++
	r.sinceRecycle = 0
	r.sinceSample = 0
	r.sampled = false
	return nil
}
