package recovery

import (
	"context"
	"errors"

	"github.com/vietddude/valuator/internal/core/domain"
)

// Classifier maps an attempt error to a failure reason.
type Classifier func(err error) domain.FailureReason

// Classify is the default classifier. Errors that carry no reason are treated
// as crashes, which retry like timeouts.
func Classify(err error) domain.FailureReason {
	if reason, ok := domain.ReasonOf(err); ok {
		return reason
	}
	switch {
	case errors.Is(err, domain.ErrCarNotFound):
		return domain.ReasonNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ReasonTimeout
	default:
		return domain.ReasonCrash
	}
}
