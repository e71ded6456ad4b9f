package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingRepo handles database operations for both vector spaces. Text
// embeddings (articles) and cross-modal embeddings (images) live in separate
// tables with separate dimensionality and are never mixed in one query.
type EmbeddingRepo struct {
	db *DB
}

var _ EmbeddingRepository = (*EmbeddingRepo)(nil)

const articleResultColumns = `a.id, a.source_id, a.external_id, a.external_url, a.slug, a.title, a.excerpt,
		a.content, a.category, a.tags, a.status, a.cover_image_url, a.published_at, a.created_at, a.updated_at`

const imageResultColumns = `i.id, i.article_id, i.source_url, i.stored_url, i.caption, i.is_cover, i.created_at`

// NewEmbeddingRepository creates a new embedding repository
func NewEmbeddingRepository(db *DB) *EmbeddingRepo {
	return &EmbeddingRepo{db: db}
}

func (r *EmbeddingRepo) GetArticleEmbedding(ctx context.Context, articleID string) (*ArticleEmbedding, error) {
	var emb ArticleEmbedding
	var vec pgvector.Vector

	err := r.db.QueryRowContext(ctx, `
		SELECT article_id, embedding, content_hash, model, token_count, updated_at
		FROM article_embeddings
		WHERE article_id = $1
	`, articleID).Scan(&emb.ArticleID, &vec, &emb.ContentHash, &emb.Model, &emb.TokenCount, &emb.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article embedding: %w", err)
	}

	emb.Embedding = vec.Slice()
	return &emb, nil
}

func (r *EmbeddingRepo) UpsertArticleEmbedding(ctx context.Context, emb ArticleEmbedding) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO article_embeddings (article_id, embedding, content_hash, model, token_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (article_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			content_hash = EXCLUDED.content_hash,
			model = EXCLUDED.model,
			token_count = EXCLUDED.token_count,
			updated_at = NOW()
	`, emb.ArticleID, pgvector.NewVector(emb.Embedding), emb.ContentHash, emb.Model, emb.TokenCount)

	if err != nil {
		return fmt.Errorf("failed to upsert article embedding: %w", err)
	}

	return nil
}

func (r *EmbeddingRepo) SearchArticlesByVector(ctx context.Context, vector []float32, opts ArticleSearchOptions) ([]ArticleSearchResult, error) {
	query := `
		SELECT ` + articleResultColumns + `, 1 - (e.embedding <=> $1) AS similarity
		FROM articles a
		JOIN article_embeddings e ON e.article_id = a.id
		WHERE 1 - (e.embedding <=> $1) > $2`

	args := []interface{}{pgvector.NewVector(vector), opts.Threshold}

	if opts.Category != "" {
		args = append(args, opts.Category)
		query += fmt.Sprintf(" AND a.category = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		query += fmt.Sprintf(" AND a.status = $%d", len(args))
	}

	args = append(args, opts.Limit)
	query += fmt.Sprintf(" ORDER BY similarity DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search articles by vector: %w", err)
	}
	defer rows.Close()

	return collectArticleResults(rows)
}

func (r *EmbeddingRepo) FindSimilarArticles(ctx context.Context, articleID string, limit int) ([]ArticleSearchResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+articleResultColumns+`, 1 - (e.embedding <=> q.embedding) AS similarity
		FROM articles a
		JOIN article_embeddings e ON e.article_id = a.id
		JOIN article_embeddings q ON q.article_id = $1
		WHERE a.id <> $1 AND a.status = $2
		ORDER BY similarity DESC
		LIMIT $3
	`, articleID, StatusPublished, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find similar articles: %w", err)
	}
	defer rows.Close()

	return collectArticleResults(rows)
}

func (r *EmbeddingRepo) GetImageEmbedding(ctx context.Context, imageID string) (*ImageEmbedding, error) {
	var emb ImageEmbedding
	var vec pgvector.Vector

	err := r.db.QueryRowContext(ctx, `
		SELECT image_id, embedding, model, updated_at
		FROM image_embeddings
		WHERE image_id = $1
	`, imageID).Scan(&emb.ImageID, &vec, &emb.Model, &emb.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image embedding: %w", err)
	}

	emb.Embedding = vec.Slice()
	return &emb, nil
}

func (r *EmbeddingRepo) UpsertImageEmbedding(ctx context.Context, emb ImageEmbedding) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO image_embeddings (image_id, embedding, model)
		VALUES ($1, $2, $3)
		ON CONFLICT (image_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			updated_at = NOW()
	`, emb.ImageID, pgvector.NewVector(emb.Embedding), emb.Model)

	if err != nil {
		return fmt.Errorf("failed to upsert image embedding: %w", err)
	}

	return nil
}

func (r *EmbeddingRepo) SearchImagesByVector(ctx context.Context, vector []float32, limit int, threshold float64) ([]ImageSearchResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+imageResultColumns+`, 1 - (e.embedding <=> $1) AS similarity
		FROM article_images i
		JOIN image_embeddings e ON e.image_id = i.id
		WHERE 1 - (e.embedding <=> $1) > $2
		ORDER BY similarity DESC
		LIMIT $3
	`, pgvector.NewVector(vector), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search images by vector: %w", err)
	}
	defer rows.Close()

	return collectImageResults(rows)
}

func (r *EmbeddingRepo) FindSimilarImages(ctx context.Context, imageID string, limit int, threshold float64) ([]ImageSearchResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+imageResultColumns+`, 1 - (e.embedding <=> q.embedding) AS similarity
		FROM article_images i
		JOIN image_embeddings e ON e.image_id = i.id
		JOIN image_embeddings q ON q.image_id = $1
		WHERE i.id <> $1 AND 1 - (e.embedding <=> q.embedding) > $2
		ORDER BY similarity DESC
		LIMIT $3
	`, imageID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find similar images: %w", err)
	}
	defer rows.Close()

	return collectImageResults(rows)
}

func collectArticleResults(rows *sql.Rows) ([]ArticleSearchResult, error) {
	var results []ArticleSearchResult
	for rows.Next() {
		var res ArticleSearchResult
		err := rows.Scan(
			&res.ID, &res.SourceID, &res.ExternalID, &res.ExternalURL,
			&res.Slug, &res.Title, &res.Excerpt, &res.Content,
			&res.Category, pq.Array(&res.Tags), &res.Status,
			&res.CoverImageURL, &res.PublishedAt,
			&res.CreatedAt, &res.UpdatedAt, &res.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article search row: %w", err)
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article search rows: %w", err)
	}

	return results, nil
}

func collectImageResults(rows *sql.Rows) ([]ImageSearchResult, error) {
	var results []ImageSearchResult
	for rows.Next() {
		var res ImageSearchResult
		err := rows.Scan(
			&res.ID, &res.ArticleID, &res.SourceURL, &res.StoredURL,
			&res.Caption, &res.IsCover, &res.CreatedAt, &res.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image search row: %w", err)
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating image search rows: %w", err)
	}

	return results, nil
}
