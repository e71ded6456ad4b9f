package database

import (
	"context"
	"fmt"
)

// IngestLogRepo appends per-run ingest summaries for auditing
type IngestLogRepo struct {
	db *DB
}

var _ IngestLogRepository = (*IngestLogRepo)(nil)

// NewIngestLogRepository creates a new ingest log repository
func NewIngestLogRepository(db *DB) *IngestLogRepo {
	return &IngestLogRepo{db: db}
}

func (r *IngestLogRepo) AppendLog(ctx context.Context, log IngestLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ingest_logs (source_id, source_name, fetched, new_articles, duplicates, errors, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, log.SourceID, log.SourceName, log.Fetched, log.New, log.Duplicates, log.Errors, log.DurationMs)

	if err != nil {
		return fmt.Errorf("failed to append ingest log: %w", err)
	}

	return nil
}
