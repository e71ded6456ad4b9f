package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ArticleRepo handles database operations for articles
type ArticleRepo struct {
	db *DB
}

var _ ArticleRepository = (*ArticleRepo)(nil)

// NewArticleRepository creates a new article repository
func NewArticleRepository(db *DB) *ArticleRepo {
	return &ArticleRepo{db: db}
}

const articleColumns = `id, source_id, external_id, external_url, slug, title, excerpt, content,
		category, tags, authors, status, cover_image_url, published_at, created_at, updated_at`

func (r *ArticleRepo) GetArticle(ctx context.Context, id string) (*Article, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+articleColumns+`
		FROM articles
		WHERE id = $1
	`, id)

	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}

	return article, nil
}

// GetByExternalID looks an article up by the (source_id, external_id)
// dedup key.
func (r *ArticleRepo) GetByExternalID(ctx context.Context, sourceID, externalID string) (*Article, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+articleColumns+`
		FROM articles
		WHERE source_id = $1 AND external_id = $2
	`, sourceID, externalID)

	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article by external id: %w", err)
	}

	return article, nil
}

func (r *ArticleRepo) InsertArticle(ctx context.Context, article *Article) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO articles (
			source_id, external_id, external_url, slug, title, excerpt,
			content, category, tags, authors, status, cover_image_url, published_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`, article.SourceID, article.ExternalID, article.ExternalURL, article.Slug,
		article.Title, article.Excerpt, article.Content, article.Category,
		pq.Array(article.Tags), pq.Array(article.Authors), article.Status,
		article.CoverImageURL, article.PublishedAt,
	).Scan(&article.ID, &article.CreatedAt, &article.UpdatedAt)

	if err != nil {
		return classifyInsertError(err)
	}

	return nil
}

// classifyInsertError maps unique-constraint violations onto the sentinel
// errors the orchestrator branches on. The dedup-key violation covers the
// race where two concurrent crawls of the same source insert one article.
func classifyInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case "articles_source_external_key":
			return ErrDuplicateArticle
		case "articles_slug_key":
			return ErrSlugTaken
		}
	}
	return fmt.Errorf("failed to insert article: %w", err)
}

// UpdateArticleContent overwrites the publishable fields after AI processing.
func (r *ArticleRepo) UpdateArticleContent(ctx context.Context, article *Article) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles
		SET title = $2, excerpt = $3, content = $4, category = $5,
		    tags = $6, status = $7, updated_at = NOW()
		WHERE id = $1
	`, article.ID, article.Title, article.Excerpt, article.Content,
		article.Category, pq.Array(article.Tags), article.Status)

	if err != nil {
		return fmt.Errorf("failed to update article content: %w", err)
	}

	return nil
}

func (r *ArticleRepo) UpdateArticleStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, status)

	if err != nil {
		return fmt.Errorf("failed to update article status: %w", err)
	}

	return nil
}

func (r *ArticleRepo) UpdateCoverImage(ctx context.Context, id, coverURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles
		SET cover_image_url = $2, updated_at = NOW()
		WHERE id = $1
	`, id, coverURL)

	if err != nil {
		return fmt.Errorf("failed to update cover image: %w", err)
	}

	return nil
}

// ListWithoutEmbedding returns articles that are eligible for embedding but
// have no embedding row yet. Articles with an empty title or content are not
// eligible and are skipped here rather than failing later in the pipeline.
func (r *ArticleRepo) ListWithoutEmbedding(ctx context.Context, status string, limit int) ([]Article, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+articleColumns+`
		FROM articles a
		WHERE a.status = $1
		  AND a.title <> ''
		  AND a.content <> ''
		  AND NOT EXISTS (
			SELECT 1 FROM article_embeddings e WHERE e.article_id = a.id
		  )
		ORDER BY a.created_at
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles without embedding: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article row: %w", err)
		}
		articles = append(articles, *article)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article rows: %w", err)
	}

	return articles, nil
}

func scanArticle(s rowScanner) (*Article, error) {
	var article Article
	err := s.Scan(
		&article.ID, &article.SourceID, &article.ExternalID, &article.ExternalURL,
		&article.Slug, &article.Title, &article.Excerpt, &article.Content,
		&article.Category, pq.Array(&article.Tags), pq.Array(&article.Authors), &article.Status,
		&article.CoverImageURL, &article.PublishedAt,
		&article.CreatedAt, &article.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &article, nil
}
