package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/inference"
	"github.com/medwire/medwire/app/ratelimit"
)

type fakeArticleRepo struct {
	articles map[string]*database.Article
	missing  []database.Article
}

func (r *fakeArticleRepo) GetArticle(ctx context.Context, id string) (*database.Article, error) {
	return r.articles[id], nil
}

func (r *fakeArticleRepo) GetByExternalID(ctx context.Context, sourceID, externalID string) (*database.Article, error) {
	return nil, nil
}

func (r *fakeArticleRepo) InsertArticle(ctx context.Context, article *database.Article) error {
	return nil
}

func (r *fakeArticleRepo) UpdateArticleContent(ctx context.Context, article *database.Article) error {
	return nil
}

func (r *fakeArticleRepo) UpdateArticleStatus(ctx context.Context, id, status string) error {
	return nil
}

func (r *fakeArticleRepo) UpdateCoverImage(ctx context.Context, id, coverURL string) error {
	return nil
}

func (r *fakeArticleRepo) ListWithoutEmbedding(ctx context.Context, status string, limit int) ([]database.Article, error) {
	if len(r.missing) > limit {
		return r.missing[:limit], nil
	}
	return r.missing, nil
}

type fakeEmbeddingRepo struct {
	articleEmbeddings map[string]*database.ArticleEmbedding
	upsertCalls       int
	searchedVector    []float32
}

func (r *fakeEmbeddingRepo) GetArticleEmbedding(ctx context.Context, articleID string) (*database.ArticleEmbedding, error) {
	return r.articleEmbeddings[articleID], nil
}

func (r *fakeEmbeddingRepo) UpsertArticleEmbedding(ctx context.Context, emb database.ArticleEmbedding) error {
	if r.articleEmbeddings == nil {
		r.articleEmbeddings = make(map[string]*database.ArticleEmbedding)
	}
	r.upsertCalls++
	r.articleEmbeddings[emb.ArticleID] = &emb
	return nil
}

func (r *fakeEmbeddingRepo) SearchArticlesByVector(ctx context.Context, vector []float32, opts database.ArticleSearchOptions) ([]database.ArticleSearchResult, error) {
	r.searchedVector = vector
	return nil, nil
}

func (r *fakeEmbeddingRepo) FindSimilarArticles(ctx context.Context, articleID string, limit int) ([]database.ArticleSearchResult, error) {
	return nil, nil
}

func (r *fakeEmbeddingRepo) GetImageEmbedding(ctx context.Context, imageID string) (*database.ImageEmbedding, error) {
	return nil, nil
}

func (r *fakeEmbeddingRepo) UpsertImageEmbedding(ctx context.Context, emb database.ImageEmbedding) error {
	return nil
}

func (r *fakeEmbeddingRepo) SearchImagesByVector(ctx context.Context, vector []float32, limit int, threshold float64) ([]database.ImageSearchResult, error) {
	return nil, nil
}

func (r *fakeEmbeddingRepo) FindSimilarImages(ctx context.Context, imageID string, limit int, threshold float64) ([]database.ImageSearchResult, error) {
	return nil, nil
}

func newTestLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.Limits{
		MinuteUnits: 100000,
		HourUnits:   100000,
		DayUnits:    100000,
	}, &fakeUsageRepo{})
}

type fakeUsageRepo struct{}

func (r *fakeUsageRepo) LoadCounter(ctx context.Context) (*database.UsageCounter, error) {
	return nil, nil
}

func (r *fakeUsageRepo) SaveCounter(ctx context.Context, counter *database.UsageCounter) error {
	return nil
}

func newVectorServer(t *testing.T, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Write([]byte(`{"output": [0.1, 0.2, 0.3]}`))
	}))
}

func TestEmbedArticleIsIdempotent(t *testing.T) {
	calls := 0
	server := newVectorServer(t, &calls)
	defer server.Close()

	articles := &fakeArticleRepo{articles: map[string]*database.Article{
		"a1": {ID: "a1", Title: "Title", Content: "Content", Category: "news"},
	}}
	embeddings := &fakeEmbeddingRepo{}

	service := NewTextService(TextOptions{Model: "text-model", Dimensions: 3},
		inference.NewClient(server.URL, "", 5*time.Second), newTestLimiter(), articles, embeddings)

	if err := service.EmbedArticle(context.Background(), "a1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := service.EmbedArticle(context.Background(), "a1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if calls != 1 {
		t.Errorf("Expected exactly 1 external call for unchanged article, got: %d", calls)
	}
	if embeddings.upsertCalls != 1 {
		t.Errorf("Expected exactly 1 upsert, got: %d", embeddings.upsertCalls)
	}
}

func TestEmbedArticleReembedsOnContentChange(t *testing.T) {
	calls := 0
	server := newVectorServer(t, &calls)
	defer server.Close()

	articles := &fakeArticleRepo{articles: map[string]*database.Article{
		"a1": {ID: "a1", Title: "Title", Content: "Content"},
	}}
	embeddings := &fakeEmbeddingRepo{}

	service := NewTextService(TextOptions{Model: "text-model"},
		inference.NewClient(server.URL, "", 5*time.Second), newTestLimiter(), articles, embeddings)

	if err := service.EmbedArticle(context.Background(), "a1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	articles.articles["a1"].Content = "Edited content"
	if err := service.EmbedArticle(context.Background(), "a1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if calls != 2 {
		t.Errorf("Expected 2 external calls after content change, got: %d", calls)
	}
}

func TestEmbedArticleSurfacesRateLimitRejection(t *testing.T) {
	calls := 0
	server := newVectorServer(t, &calls)
	defer server.Close()

	articles := &fakeArticleRepo{articles: map[string]*database.Article{
		"a1": {ID: "a1", Title: "Title", Content: "Content"},
	}}

	limiter := ratelimit.NewLimiter(ratelimit.Limits{MinuteUnits: 1, HourUnits: 1, DayUnits: 1}, &fakeUsageRepo{})
	service := NewTextService(TextOptions{Model: "text-model"},
		inference.NewClient(server.URL, "", 5*time.Second), limiter, articles, &fakeEmbeddingRepo{})

	err := service.EmbedArticle(context.Background(), "a1")

	var limitErr *ratelimit.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Expected LimitError surfaced, got: %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no external call after rejection, got: %d", calls)
	}
}

func TestEmbedMissingCountsFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"output": [0.1, 0.2, 0.3]}`))
	}))
	defer server.Close()

	missing := []database.Article{
		{ID: "a1", Title: "One", Content: "Content"},
		{ID: "a2", Title: "Two", Content: "Content"},
		{ID: "a3", Title: "Three", Content: "Content"},
	}
	articles := &fakeArticleRepo{
		articles: map[string]*database.Article{
			"a1": &missing[0], "a2": &missing[1], "a3": &missing[2],
		},
		missing: missing,
	}

	service := NewTextService(TextOptions{Model: "text-model", BatchLimit: 10, BatchDelay: time.Millisecond},
		inference.NewClient(server.URL, "", 5*time.Second), newTestLimiter(), articles, &fakeEmbeddingRepo{})

	succeeded, failed, err := service.EmbedMissing(context.Background())

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if succeeded != 2 {
		t.Errorf("Expected 2 succeeded, got: %d", succeeded)
	}
	if failed != 1 {
		t.Errorf("Expected 1 failed, got: %d", failed)
	}
}

func TestSearchArticlesEmbedsQuery(t *testing.T) {
	calls := 0
	server := newVectorServer(t, &calls)
	defer server.Close()

	embeddings := &fakeEmbeddingRepo{}
	service := NewTextService(TextOptions{Model: "text-model"},
		inference.NewClient(server.URL, "", 5*time.Second), newTestLimiter(), &fakeArticleRepo{}, embeddings)

	_, err := service.SearchArticles(context.Background(), "radiopharmaceutical trials",
		database.ArticleSearchOptions{Limit: 10, Threshold: 0.5})

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 embedding call for the query, got: %d", calls)
	}
	if len(embeddings.searchedVector) != 3 {
		t.Errorf("Expected query vector passed to repository, got: %v", embeddings.searchedVector)
	}
}
