package storage

import (
	"context"
	"errors"

	"github.com/vietddude/valuator/internal/core/domain"
)

var (
	// ErrRecordNotPending is returned when a terminal move targets a record that
	// is no longer in the pending queue.
	ErrRecordNotPending = errors.New("record not pending")
)

// RecordRepository is the persistence gateway around the three queues:
// pending (to_valuate), valuated and failed.
type RecordRepository interface {
	// FetchPending returns up to limit pending records in a stable order.
	FetchPending(ctx context.Context, limit int) ([]domain.Record, error)

	// MarkValuated moves a record to the valuated queue (insert + delete, atomic).
	MarkValuated(ctx context.Context, rec domain.Record, v domain.Valuation) error

	// MarkFailed moves a record to the failed queue (insert + delete, atomic).
	MarkFailed(ctx context.Context, rec domain.Record, reason string) error

	// Counts returns the size of each queue.
	Counts(ctx context.Context) (domain.QueueCounts, error)
}
