package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/inference"
	"github.com/medwire/medwire/app/ratelimit"
)

type fakeArticleRepo struct {
	article  *database.Article
	statuses []string
	updated  *database.Article
}

func (r *fakeArticleRepo) GetArticle(ctx context.Context, id string) (*database.Article, error) {
	return r.article, nil
}

func (r *fakeArticleRepo) GetByExternalID(ctx context.Context, sourceID, externalID string) (*database.Article, error) {
	return nil, nil
}

func (r *fakeArticleRepo) InsertArticle(ctx context.Context, article *database.Article) error {
	return nil
}

func (r *fakeArticleRepo) UpdateArticleContent(ctx context.Context, article *database.Article) error {
	copied := *article
	r.updated = &copied
	return nil
}

func (r *fakeArticleRepo) UpdateArticleStatus(ctx context.Context, id, status string) error {
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeArticleRepo) UpdateCoverImage(ctx context.Context, id, coverURL string) error {
	return nil
}

func (r *fakeArticleRepo) ListWithoutEmbedding(ctx context.Context, status string, limit int) ([]database.Article, error) {
	return nil, nil
}

type fakeUsageRepo struct{}

func (r *fakeUsageRepo) LoadCounter(ctx context.Context) (*database.UsageCounter, error) {
	return nil, nil
}

func (r *fakeUsageRepo) SaveCounter(ctx context.Context, counter *database.UsageCounter) error {
	return nil
}

func openLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.Limits{
		MinuteUnits: 100000, HourUnits: 100000, DayUnits: 100000,
	}, &fakeUsageRepo{})
}

func TestProcessTransitionsToDraft(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output": {"title": "Rewritten", "excerpt": "Short.", "content": "Body.", "category": "news", "tags": ["pet"]}}`))
	}))
	defer server.Close()

	repo := &fakeArticleRepo{article: &database.Article{
		ID: "a1", Title: "Raw title", Content: "Raw content", Status: database.StatusIngested,
	}}

	processor := NewProcessor("chat-model", inference.NewClient(server.URL, "", 5*time.Second), openLimiter(), repo)

	if err := processor.Process(context.Background(), "a1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(repo.statuses) != 1 || repo.statuses[0] != database.StatusProcessing {
		t.Errorf("Expected processing status set first, got: %v", repo.statuses)
	}
	if repo.updated == nil {
		t.Fatal("Expected article content updated")
	}
	if repo.updated.Status != database.StatusDraft {
		t.Errorf("Expected draft status, got: %s", repo.updated.Status)
	}
	if repo.updated.Title != "Rewritten" {
		t.Errorf("Expected rewritten title, got: %s", repo.updated.Title)
	}
	if len(repo.updated.Tags) != 1 || repo.updated.Tags[0] != "pet" {
		t.Errorf("Expected tags from model, got: %v", repo.updated.Tags)
	}
}

func TestProcessMarksFailedOnModelError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	repo := &fakeArticleRepo{article: &database.Article{
		ID: "a1", Title: "Raw", Content: "Raw", Status: database.StatusIngested,
	}}

	processor := NewProcessor("chat-model", inference.NewClient(server.URL, "", 5*time.Second), openLimiter(), repo)

	if err := processor.Process(context.Background(), "a1"); err == nil {
		t.Fatal("Expected error from failed model call")
	}

	if len(repo.statuses) != 2 || repo.statuses[1] != database.StatusFailed {
		t.Errorf("Expected failed status after model error, got: %v", repo.statuses)
	}
	if repo.updated != nil {
		t.Error("Expected no content update on failure")
	}
}

func TestDecodeRewriteToleratesCodeFence(t *testing.T) {
	output := []byte(`"` + "```json\\n{\\\"title\\\": \\\"T\\\", \\\"content\\\": \\\"C\\\"}\\n```" + `"`)

	result, err := decodeRewrite(output)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Title != "T" || result.Content != "C" {
		t.Errorf("Expected decoded fields, got: %+v", result)
	}
}
