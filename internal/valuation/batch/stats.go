package batch

import (
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/valuator/internal/core/domain"
)

// Summary is a point-in-time view of run statistics.
type Summary struct {
	RunID          string                       `json:"run_id"`
	StartedAt      time.Time                    `json:"started_at"`
	Runtime        time.Duration                `json:"runtime"`
	Attempted      int                          `json:"attempted"`
	Succeeded      int                          `json:"succeeded"`
	Failed         int                          `json:"failed"`
	Remaining      int                          `json:"remaining"`
	Attempts       int                          `json:"attempts"`
	BrowserRetries int                          `json:"browser_retries"`
	BatchRestarts  int                          `json:"batch_restarts"`
	Recycles       int                          `json:"recycles"`
	FailureReasons map[domain.FailureReason]int `json:"failure_reasons"`
	TotalValue     float64                      `json:"total_value"`
}

// SuccessRate is the percentage of attempted records that were valuated.
func (s Summary) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Attempted) * 100
}

// AvgPerRecord is the mean wall time spent per attempted record.
func (s Summary) AvgPerRecord() time.Duration {
	if s.Attempted == 0 {
		return 0
	}
	return s.Runtime / time.Duration(s.Attempted)
}

// LogArgs renders the summary as slog key/value pairs.
func (s Summary) LogArgs() []any {
	return []any{
		"run_id", s.RunID,
		"attempted", s.Attempted,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"remaining", s.Remaining,
		"browser_retries", s.BrowserRetries,
		"batch_restarts", s.BatchRestarts,
		"recycles", s.Recycles,
		"success_rate", fmt.Sprintf("%.1f%%", s.SuccessRate()),
		"runtime", s.Runtime.Round(time.Second),
		"avg_per_record", s.AvgPerRecord().Round(100 * time.Millisecond),
	}
}

// Stats accumulates run statistics. It is safe for concurrent readers.
// Stats implements recovery.Observer.
type Stats struct {
	mu      sync.RWMutex
	summary Summary
	now     func() time.Time
}

// NewStats creates run statistics starting now.
func NewStats(runID string) *Stats {
	s := &Stats{now: time.Now}
	s.summary = Summary{
		RunID:          runID,
		StartedAt:      s.now(),
		FailureReasons: make(map[domain.FailureReason]int),
	}
	return s
}

// AttemptFinished counts one browser attempt.
func (s *Stats) AttemptFinished(rec domain.Record, reason domain.FailureReason, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Attempts++
}

// RetryScheduled counts one browser-level retry.
func (s *Stats) RetryScheduled(rec domain.Record, attempt int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.BrowserRetries++
}

// RecordValuated counts a record moved to the valuated queue.
func (s *Stats) RecordValuated(v domain.Valuation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Attempted++
	s.summary.Succeeded++
	s.summary.TotalValue += v.Amount
}

// RecordFailed counts a record moved to the failed queue.
func (s *Stats) RecordFailed(reason domain.FailureReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Attempted++
	s.summary.Failed++
	s.summary.FailureReasons[reason]++
}

// BatchRestarted counts one systemic restart.
func (s *Stats) BatchRestarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.BatchRestarts++
}

// Recycled counts one successful browser recycle.
func (s *Stats) Recycled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Recycles++
}

// SetRemaining records the pending queue size.
func (s *Stats) SetRemaining(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Remaining = n
}

// Snapshot returns a copy of the current statistics.
func (s *Stats) Snapshot() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.summary
	out.Runtime = s.now().Sub(out.StartedAt)
	out.FailureReasons = make(map[domain.FailureReason]int, len(s.summary.FailureReasons))
	for k, v := range s.summary.FailureReasons {
		out.FailureReasons[k] = v
	}
	return out
}
