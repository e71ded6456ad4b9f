package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SourceRepo handles database operations for sources
type SourceRepo struct {
	db *DB
}

var _ SourceRepository = (*SourceRepo)(nil)

// NewSourceRepository creates a new source repository
func NewSourceRepository(db *DB) *SourceRepo {
	return &SourceRepo{db: db}
}

const sourceColumns = `id, slug, name, url, adapter_kind, adapter_config, is_active, last_crawled_at, created_at, updated_at`

func (r *SourceRepo) GetSource(ctx context.Context, id string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE id = $1
	`, id)

	return scanSource(row)
}

func (r *SourceRepo) GetSourceBySlug(ctx context.Context, slug string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE slug = $1
	`, slug)

	return scanSource(row)
}

func (r *SourceRepo) GetActiveSources(ctx context.Context) ([]Source, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE is_active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get active sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		source, err := scanSourceRow(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return sources, nil
}

// UpsertSource inserts or updates a source definition keyed by slug and
// returns the database ID. last_crawled_at is never touched here.
func (r *SourceRepo) UpsertSource(ctx context.Context, source Source) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sources (slug, name, url, adapter_kind, adapter_config, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			adapter_kind = EXCLUDED.adapter_kind,
			adapter_config = EXCLUDED.adapter_config,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id
	`, source.Slug, source.Name, source.URL, source.AdapterKind, source.AdapterConfig, source.IsActive).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to upsert source: %w", err)
	}

	return id, nil
}

func (r *SourceRepo) UpdateLastCrawled(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sources
		SET last_crawled_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at)

	if err != nil {
		return fmt.Errorf("failed to update last crawled time: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row *sql.Row) (*Source, error) {
	source, err := scanSourceFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return source, nil
}

func scanSourceRow(rows *sql.Rows) (*Source, error) {
	source, err := scanSourceFrom(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan source row: %w", err)
	}
	return source, nil
}

func scanSourceFrom(s rowScanner) (*Source, error) {
	var source Source
	err := s.Scan(
		&source.ID, &source.Slug, &source.Name, &source.URL,
		&source.AdapterKind, &source.AdapterConfig, &source.IsActive,
		&source.LastCrawledAt, &source.CreatedAt, &source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &source, nil
}
