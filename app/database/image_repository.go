package database

import (
	"context"
	"database/sql"
	"fmt"
)

// ImageRepo handles database operations for article images
type ImageRepo struct {
	db *DB
}

var _ ImageRepository = (*ImageRepo)(nil)

// NewImageRepository creates a new image repository
func NewImageRepository(db *DB) *ImageRepo {
	return &ImageRepo{db: db}
}

const imageColumns = `id, article_id, source_url, stored_url, caption, is_cover, created_at`

func (r *ImageRepo) InsertImage(ctx context.Context, image *ArticleImage) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO article_images (article_id, source_url, stored_url, caption, is_cover)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, image.ArticleID, image.SourceURL, image.StoredURL, image.Caption, image.IsCover,
	).Scan(&image.ID, &image.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}

	return nil
}

func (r *ImageRepo) GetImage(ctx context.Context, id string) (*ArticleImage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+imageColumns+`
		FROM article_images
		WHERE id = $1
	`, id)

	image, err := scanImage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return image, nil
}

func (r *ImageRepo) ListImagesByArticle(ctx context.Context, articleID string) ([]ArticleImage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+imageColumns+`
		FROM article_images
		WHERE article_id = $1
		ORDER BY is_cover DESC, created_at
	`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images by article: %w", err)
	}
	defer rows.Close()

	return collectImages(rows)
}

// ListWithoutEmbedding returns images that have no vector in the cross-modal
// space yet, oldest first.
func (r *ImageRepo) ListWithoutEmbedding(ctx context.Context, limit int) ([]ArticleImage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+imageColumns+`
		FROM article_images i
		WHERE NOT EXISTS (
			SELECT 1 FROM image_embeddings e WHERE e.image_id = i.id
		)
		ORDER BY i.created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list images without embedding: %w", err)
	}
	defer rows.Close()

	return collectImages(rows)
}

func collectImages(rows *sql.Rows) ([]ArticleImage, error) {
	var images []ArticleImage
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		images = append(images, *image)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating image rows: %w", err)
	}

	return images, nil
}

func scanImage(s rowScanner) (*ArticleImage, error) {
	var image ArticleImage
	err := s.Scan(
		&image.ID, &image.ArticleID, &image.SourceURL, &image.StoredURL,
		&image.Caption, &image.IsCover, &image.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &image, nil
}
