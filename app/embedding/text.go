package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/inference"
	"github.com/medwire/medwire/app/ratelimit"
)

// TextOptions configure the text embedding service.
type TextOptions struct {
	Model      string
	Dimensions int
	BatchLimit int           // max articles per EmbedMissing run
	BatchDelay time.Duration // pause between consecutive embedding calls
}

// TextService turns article text into vectors in the text embedding space
// and answers similarity queries over it. Every external call goes through
// the rate limiter.
type TextService struct {
	opts       TextOptions
	client     *inference.Client
	limiter    *ratelimit.Limiter
	articles   database.ArticleRepository
	embeddings database.EmbeddingRepository
}

func NewTextService(opts TextOptions, client *inference.Client, limiter *ratelimit.Limiter,
	articles database.ArticleRepository, embeddings database.EmbeddingRepository) *TextService {
	return &TextService{
		opts:       opts,
		client:     client,
		limiter:    limiter,
		articles:   articles,
		embeddings: embeddings,
	}
}

// EmbedArticle computes and stores the vector for one article. Idempotent:
// when the stored content hash matches the current input, no external call
// is made.
func (s *TextService) EmbedArticle(ctx context.Context, articleID string) error {
	article, err := s.articles.GetArticle(ctx, articleID)
	if err != nil {
		return err
	}
	if article == nil {
		return fmt.Errorf("article %s not found", articleID)
	}

	input := buildEmbeddingInput(article)
	hash := hashInput(input)

	existing, err := s.embeddings.GetArticleEmbedding(ctx, articleID)
	if err != nil {
		return err
	}
	if existing != nil && existing.ContentHash == hash {
		slog.Debug("Embedding is fresh, skipping", "article_id", articleID)
		return nil
	}

	vector, units, err := s.embedText(ctx, input)
	if err != nil {
		return err
	}

	err = s.embeddings.UpsertArticleEmbedding(ctx, database.ArticleEmbedding{
		ArticleID:   articleID,
		Embedding:   vector,
		ContentHash: hash,
		Model:       s.opts.Model,
		TokenCount:  int(units),
	})
	if err != nil {
		return err
	}

	if err := s.limiter.Record(ctx, units); err != nil {
		slog.Error("Failed to record usage", "article_id", articleID, "error", err)
	}

	return nil
}

// SearchArticles embeds the query through the same rate-limited path and
// ranks stored article vectors against it.
func (s *TextService) SearchArticles(ctx context.Context, query string, opts database.ArticleSearchOptions) ([]database.ArticleSearchResult, error) {
	vector, units, err := s.embedText(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Record(ctx, units); err != nil {
		slog.Error("Failed to record usage", "error", err)
	}

	return s.embeddings.SearchArticlesByVector(ctx, vector, opts)
}

// FindSimilarArticles ranks against an article's own stored vector.
func (s *TextService) FindSimilarArticles(ctx context.Context, articleID string, limit int) ([]database.ArticleSearchResult, error) {
	return s.embeddings.FindSimilarArticles(ctx, articleID, limit)
}

// EmbedMissing embeds up to the configured page of published articles that
// have no vector yet, one at a time with a fixed delay between calls. The
// delay is deliberate pacing in front of a metered service. Individual
// failures are counted and do not abort the run.
func (s *TextService) EmbedMissing(ctx context.Context) (succeeded, failed int, err error) {
	articles, err := s.articles.ListWithoutEmbedding(ctx, database.StatusPublished, s.opts.BatchLimit)
	if err != nil {
		return 0, 0, err
	}

	for i, article := range articles {
		if i > 0 {
			select {
			case <-ctx.Done():
				return succeeded, failed, ctx.Err()
			case <-time.After(s.opts.BatchDelay):
			}
		}

		if err := s.EmbedArticle(ctx, article.ID); err != nil {
			slog.Error("Failed to embed article", "article_id", article.ID, "error", err)
			failed++
			continue
		}
		succeeded++
	}

	return succeeded, failed, nil
}

// embedText runs the text model on input after clearing the rate limiter.
// Returns the vector together with the unit estimate actually consumed.
func (s *TextService) embedText(ctx context.Context, input string) ([]float32, int64, error) {
	units := estimateUnits(input)

	if err := s.limiter.Check(ctx, units); err != nil {
		return nil, 0, err
	}

	output, err := s.client.Run(ctx, s.opts.Model, map[string]any{"text": input})
	if err != nil {
		return nil, 0, err
	}

	vector, err := inference.DecodeVector(output)
	if err != nil {
		return nil, 0, err
	}

	if s.opts.Dimensions > 0 && len(vector) != s.opts.Dimensions {
		return nil, 0, fmt.Errorf("model returned %d dimensions, expected %d", len(vector), s.opts.Dimensions)
	}

	return vector, units, nil
}

// buildEmbeddingInput composes the model input deterministically. The title
// appears twice for double weight.
func buildEmbeddingInput(article *database.Article) string {
	parts := []string{
		article.Title,
		article.Title,
		article.Category,
		strings.Join(article.Tags, ", "),
		article.Excerpt,
		StripMarkdown(article.Content),
	}

	var nonEmpty []string
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}

	return strings.Join(nonEmpty, "\n\n")
}

func hashInput(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// estimateUnits approximates token usage from input length. Four bytes per
// token tracks the text models closely enough for budgeting.
func estimateUnits(input string) int64 {
	return int64(len(input)/4) + 1
}
