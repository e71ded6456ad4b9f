package database

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateArticle signals an insert that collided with the
// (source_id, external_id) dedup key of an existing article.
var ErrDuplicateArticle = errors.New("duplicate article")

// ErrSlugTaken signals an insert that collided with another article's slug.
var ErrSlugTaken = errors.New("slug already taken")

type SourceRepository interface {
	GetSource(ctx context.Context, id string) (*Source, error)
	GetSourceBySlug(ctx context.Context, slug string) (*Source, error)
	GetActiveSources(ctx context.Context) ([]Source, error)
	UpsertSource(ctx context.Context, source Source) (string, error)
	UpdateLastCrawled(ctx context.Context, id string, at time.Time) error
}

type ArticleRepository interface {
	GetArticle(ctx context.Context, id string) (*Article, error)
	GetByExternalID(ctx context.Context, sourceID, externalID string) (*Article, error)
	// InsertArticle creates the article row. Returns ErrDuplicateArticle when
	// the (source_id, external_id) constraint fires, ErrSlugTaken when the
	// slug constraint fires.
	InsertArticle(ctx context.Context, article *Article) error
	UpdateArticleContent(ctx context.Context, article *Article) error
	UpdateArticleStatus(ctx context.Context, id, status string) error
	UpdateCoverImage(ctx context.Context, id, coverURL string) error
	// ListWithoutEmbedding returns up to limit articles in the given status
	// that have no embedding row and non-empty embedding-relevant fields.
	ListWithoutEmbedding(ctx context.Context, status string, limit int) ([]Article, error)
}

type ImageRepository interface {
	InsertImage(ctx context.Context, image *ArticleImage) error
	GetImage(ctx context.Context, id string) (*ArticleImage, error)
	ListImagesByArticle(ctx context.Context, articleID string) ([]ArticleImage, error)
	ListWithoutEmbedding(ctx context.Context, limit int) ([]ArticleImage, error)
}

type EmbeddingRepository interface {
	GetArticleEmbedding(ctx context.Context, articleID string) (*ArticleEmbedding, error)
	UpsertArticleEmbedding(ctx context.Context, emb ArticleEmbedding) error
	// SearchArticlesByVector ranks stored article vectors by cosine
	// similarity (1 - cosine distance) against the query vector.
	SearchArticlesByVector(ctx context.Context, vector []float32, opts ArticleSearchOptions) ([]ArticleSearchResult, error)
	// FindSimilarArticles ranks against the given article's own stored
	// vector, excluding the article itself, restricted to published articles.
	FindSimilarArticles(ctx context.Context, articleID string, limit int) ([]ArticleSearchResult, error)

	GetImageEmbedding(ctx context.Context, imageID string) (*ImageEmbedding, error)
	UpsertImageEmbedding(ctx context.Context, emb ImageEmbedding) error
	SearchImagesByVector(ctx context.Context, vector []float32, limit int, threshold float64) ([]ImageSearchResult, error)
	FindSimilarImages(ctx context.Context, imageID string, limit int, threshold float64) ([]ImageSearchResult, error)
}

type UsageRepository interface {
	LoadCounter(ctx context.Context) (*UsageCounter, error)
	SaveCounter(ctx context.Context, counter *UsageCounter) error
}

type IngestLogRepository interface {
	AppendLog(ctx context.Context, log IngestLog) error
}
