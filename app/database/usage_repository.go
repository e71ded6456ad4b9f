package database

import (
	"context"
	"database/sql"
	"fmt"
)

// UsageRepo persists the single usage counter row backing the rate limiter
type UsageRepo struct {
	db *DB
}

var _ UsageRepository = (*UsageRepo)(nil)

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepo {
	return &UsageRepo{db: db}
}

// LoadCounter returns the persisted counter, or nil when the process has
// never recorded usage before.
func (r *UsageRepo) LoadCounter(ctx context.Context) (*UsageCounter, error) {
	var counter UsageCounter

	err := r.db.QueryRowContext(ctx, `
		SELECT minute_units, hour_units, day_units,
		       minute_reset_at, hour_reset_at, day_reset_at, updated_at
		FROM usage_counters
		WHERE id = 1
	`).Scan(
		&counter.MinuteUnits, &counter.HourUnits, &counter.DayUnits,
		&counter.MinuteResetAt, &counter.HourResetAt, &counter.DayResetAt,
		&counter.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage counter: %w", err)
	}

	return &counter, nil
}

func (r *UsageRepo) SaveCounter(ctx context.Context, counter *UsageCounter) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_counters (
			id, minute_units, hour_units, day_units,
			minute_reset_at, hour_reset_at, day_reset_at, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			minute_units = EXCLUDED.minute_units,
			hour_units = EXCLUDED.hour_units,
			day_units = EXCLUDED.day_units,
			minute_reset_at = EXCLUDED.minute_reset_at,
			hour_reset_at = EXCLUDED.hour_reset_at,
			day_reset_at = EXCLUDED.day_reset_at,
			updated_at = NOW()
	`, counter.MinuteUnits, counter.HourUnits, counter.DayUnits,
		counter.MinuteResetAt, counter.HourResetAt, counter.DayResetAt)

	if err != nil {
		return fmt.Errorf("failed to save usage counter: %w", err)
	}

	return nil
}
