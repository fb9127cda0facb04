package recovery

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/vietddude/valuator/internal/core/config"
	"github.com/vietddude/valuator/internal/core/domain"
)

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay after the given failed attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if another attempt may follow the given failed attempt.
	ShouldRetry(reason domain.FailureReason, attempt int) bool
}

// ExponentialBackoff implements capped exponential backoff with additive jitter.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	// Jitter adds up to this fraction of the exponential delay. Clamped to [0,1]
	// so that delays never decrease from one attempt to the next.
	Jitter float64
	// Rand returns values in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// DefaultBackoff returns the browser-level defaults: 3 attempts, 2s base, 30s cap.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  3,
		Jitter:       0.25,
	}
}

// NewBackoff builds a strategy from a config section.
func NewBackoff(cfg config.BackoffConfig) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		MaxAttempts:  cfg.MaxRetries,
		Jitter:       cfg.Jitter,
	}
}

// GetDelay calculates delay: min(InitialDelay * 2^attempt + jitter, MaxDelay)
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay >= float64(s.MaxDelay) {
		return s.MaxDelay
	}

	jitter := min(max(s.Jitter, 0), 1)
	if jitter > 0 {
		r := rand.Float64
		if s.Rand != nil {
			r = s.Rand
		}
		delay += delay * jitter * r()
	}

	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if the reason is transient and attempts remain.
func (s *ExponentialBackoff) ShouldRetry(reason domain.FailureReason, attempt int) bool {
	if attempt+1 >= s.MaxAttempts {
		return false
	}
	return !reason.Definitive()
}
