package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/valuator/internal/core/domain"
)

// UnitOfWork runs a terminal move (insert into a result table, delete from
// to_valuate) inside one transaction.
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// InsertValuated upserts the record into valid_valuation.
func (u *UnitOfWork) InsertValuated(ctx context.Context, rec domain.Record, v domain.Valuation) error {
	query := `
		INSERT INTO valid_valuation
			(unique_id, number_plate, mileage, salvage_category, valuation, original_valuation, valuated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (unique_id) DO UPDATE SET
			number_plate = EXCLUDED.number_plate,
			mileage = EXCLUDED.mileage,
			salvage_category = EXCLUDED.salvage_category,
			valuation = EXCLUDED.valuation,
			original_valuation = EXCLUDED.original_valuation,
			valuated_at = EXCLUDED.valuated_at
	`
	_, err := u.tx.ExecContext(ctx, query,
		rec.ID, rec.Plate, rec.Mileage, nullString(string(rec.SalvageCategory)), v.Amount, v.OriginalAmount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert valuation: %w", err)
	}
	return nil
}

// InsertFailed upserts the record into failed_valuations.
func (u *UnitOfWork) InsertFailed(ctx context.Context, rec domain.Record, reason string) error {
	query := `
		INSERT INTO failed_valuations
			(unique_id, number_plate, mileage, salvage_category, error_reason, failed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (unique_id) DO UPDATE SET
			number_plate = EXCLUDED.number_plate,
			mileage = EXCLUDED.mileage,
			salvage_category = EXCLUDED.salvage_category,
			error_reason = EXCLUDED.error_reason,
			failed_at = EXCLUDED.failed_at
	`
	_, err := u.tx.ExecContext(ctx, query,
		rec.ID, rec.Plate, rec.Mileage, nullString(string(rec.SalvageCategory)), reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert failure: %w", err)
	}
	return nil
}

// DeletePending removes the record from to_valuate. It reports whether a row
// was deleted.
func (u *UnitOfWork) DeletePending(ctx context.Context, id string) (bool, error) {
	res, err := u.tx.ExecContext(ctx, `DELETE FROM to_valuate WHERE unique_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete pending record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ClearTerminal removes any earlier outcome recorded for id.
func (u *UnitOfWork) ClearTerminal(ctx context.Context, id string) error {
	for _, table := range []string{"valid_valuation", "failed_valuations"} {
		if _, err := u.tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE unique_id = $1`, id); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// InsertPending adds the record to to_valuate. It reports false when the id
// is already pending.
func (u *UnitOfWork) InsertPending(ctx context.Context, rec domain.Record) (bool, error) {
	query := `
		INSERT INTO to_valuate (unique_id, number_plate, mileage, salvage_category, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (unique_id) DO NOTHING
	`
	res, err := u.tx.ExecContext(ctx, query,
		rec.ID, rec.Plate, rec.Mileage, nullString(string(rec.SalvageCategory)),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert pending record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
