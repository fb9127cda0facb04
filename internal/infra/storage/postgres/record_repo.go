package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/valuator/internal/core/domain"
	"github.com/vietddude/valuator/internal/infra/storage"
	"github.com/vietddude/valuator/internal/valuation/metrics"
)

// RecordRepo implements storage.RecordRepository using PostgreSQL.
type RecordRepo struct {
	db *DB
}

var _ storage.RecordRepository = (*RecordRepo)(nil)

// NewRecordRepo creates a new PostgreSQL record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// FetchPending returns up to limit pending records.
func (r *RecordRepo) FetchPending(ctx context.Context, limit int) ([]domain.Record, error) {
	query := `
		SELECT unique_id, number_plate, COALESCE(mileage, 0) AS mileage,
			COALESCE(salvage_category, '') AS salvage_category
		FROM to_valuate
		ORDER BY created_at ASC, unique_id ASC
		LIMIT $1
	`
	var records []domain.Record
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		metrics.PersistErrors.WithLabelValues("fetch").Inc()
		return nil, fmt.Errorf("failed to fetch pending records: %w", err)
	}
	return records, nil
}

// MarkValuated moves rec into valid_valuation.
func (r *RecordRepo) MarkValuated(ctx context.Context, rec domain.Record, v domain.Valuation) error {
	err := r.move(ctx, rec.ID, func(u *UnitOfWork) error {
		return u.InsertValuated(ctx, rec, v)
	})
	if err != nil {
		metrics.PersistErrors.WithLabelValues("mark_valuated").Inc()
		return fmt.Errorf("mark valuated %s: %w", rec.ID, err)
	}
	return nil
}

// MarkFailed moves rec into failed_valuations.
func (r *RecordRepo) MarkFailed(ctx context.Context, rec domain.Record, reason string) error {
	err := r.move(ctx, rec.ID, func(u *UnitOfWork) error {
		return u.InsertFailed(ctx, rec, reason)
	})
	if err != nil {
		metrics.PersistErrors.WithLabelValues("mark_failed").Inc()
		return fmt.Errorf("mark failed %s: %w", rec.ID, err)
	}
	return nil
}

func (r *RecordRepo) move(ctx context.Context, id string, insert func(*UnitOfWork) error) error {
	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback() }()

	// A record has at most one outcome.
	if err := uow.ClearTerminal(ctx, id); err != nil {
		return err
	}
	if err := insert(uow); err != nil {
		return err
	}
	deleted, err := uow.DeletePending(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return storage.ErrRecordNotPending
	}
	return uow.Commit()
}

// Counts returns the size of each queue.
func (r *RecordRepo) Counts(ctx context.Context) (domain.QueueCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM to_valuate) AS pending,
			(SELECT COUNT(*) FROM valid_valuation) AS valuated,
			(SELECT COUNT(*) FROM failed_valuations) AS failed
	`
	var counts domain.QueueCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		metrics.PersistErrors.WithLabelValues("counts").Inc()
		return domain.QueueCounts{}, fmt.Errorf("failed to count queues: %w", err)
	}
	return counts, nil
}

// Enqueue inserts records into to_valuate. Ids already pending are skipped;
// ids with an earlier outcome lose it and are valuated again.
func (r *RecordRepo) Enqueue(ctx context.Context, records []domain.Record) (int, error) {
	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = uow.Rollback() }()

	inserted := 0
	for _, rec := range records {
		ok, err := uow.InsertPending(ctx, rec)
		if err != nil {
			return 0, fmt.Errorf("failed to enqueue %s: %w", rec.ID, err)
		}
		if !ok {
			continue
		}
		if err := uow.ClearTerminal(ctx, rec.ID); err != nil {
			return 0, fmt.Errorf("failed to enqueue %s: %w", rec.ID, err)
		}
		inserted++
	}
	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return inserted, nil
}
