package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/objstore"
	"github.com/medwire/medwire/app/scraper"
)

type fakeSourceRepo struct {
	sources      map[string]*database.Source
	lastCrawled  map[string]time.Time
	activeOrder  []string
	crawledCalls int
}

func (r *fakeSourceRepo) GetSource(ctx context.Context, id string) (*database.Source, error) {
	return r.sources[id], nil
}

func (r *fakeSourceRepo) GetSourceBySlug(ctx context.Context, slug string) (*database.Source, error) {
	for _, source := range r.sources {
		if source.Slug == slug {
			return source, nil
		}
	}
	return nil, nil
}

func (r *fakeSourceRepo) GetActiveSources(ctx context.Context) ([]database.Source, error) {
	var active []database.Source
	for _, id := range r.activeOrder {
		active = append(active, *r.sources[id])
	}
	return active, nil
}

func (r *fakeSourceRepo) UpsertSource(ctx context.Context, source database.Source) (string, error) {
	return source.ID, nil
}

func (r *fakeSourceRepo) UpdateLastCrawled(ctx context.Context, id string, at time.Time) error {
	if r.lastCrawled == nil {
		r.lastCrawled = make(map[string]time.Time)
	}
	r.crawledCalls++
	r.lastCrawled[id] = at
	return nil
}

type memArticleRepo struct {
	byExternal map[string]*database.Article
	bySlug     map[string]*database.Article
	nextID     int
}

func newMemArticleRepo() *memArticleRepo {
	return &memArticleRepo{
		byExternal: make(map[string]*database.Article),
		bySlug:     make(map[string]*database.Article),
	}
}

func (r *memArticleRepo) externalKey(sourceID, externalID string) string {
	return sourceID + "|" + externalID
}

func (r *memArticleRepo) GetArticle(ctx context.Context, id string) (*database.Article, error) {
	for _, article := range r.bySlug {
		if article.ID == id {
			return article, nil
		}
	}
	return nil, nil
}

func (r *memArticleRepo) GetByExternalID(ctx context.Context, sourceID, externalID string) (*database.Article, error) {
	return r.byExternal[r.externalKey(sourceID, externalID)], nil
}

func (r *memArticleRepo) InsertArticle(ctx context.Context, article *database.Article) error {
	key := r.externalKey(article.SourceID, article.ExternalID)
	if _, exists := r.byExternal[key]; exists {
		return database.ErrDuplicateArticle
	}
	if _, exists := r.bySlug[article.Slug]; exists {
		return database.ErrSlugTaken
	}

	r.nextID++
	article.ID = fmt.Sprintf("article-%d", r.nextID)
	article.CreatedAt = time.Now()

	stored := *article
	r.byExternal[key] = &stored
	r.bySlug[article.Slug] = &stored
	return nil
}

func (r *memArticleRepo) UpdateArticleContent(ctx context.Context, article *database.Article) error {
	return nil
}

func (r *memArticleRepo) UpdateArticleStatus(ctx context.Context, id, status string) error {
	return nil
}

func (r *memArticleRepo) UpdateCoverImage(ctx context.Context, id, coverURL string) error {
	return nil
}

func (r *memArticleRepo) ListWithoutEmbedding(ctx context.Context, status string, limit int) ([]database.Article, error) {
	return nil, nil
}

type memImageRepo struct {
	inserted []database.ArticleImage
	nextID   int
}

func (r *memImageRepo) InsertImage(ctx context.Context, image *database.ArticleImage) error {
	r.nextID++
	image.ID = fmt.Sprintf("image-%d", r.nextID)
	r.inserted = append(r.inserted, *image)
	return nil
}

func (r *memImageRepo) GetImage(ctx context.Context, id string) (*database.ArticleImage, error) {
	return nil, nil
}

func (r *memImageRepo) ListImagesByArticle(ctx context.Context, articleID string) ([]database.ArticleImage, error) {
	return nil, nil
}

func (r *memImageRepo) ListWithoutEmbedding(ctx context.Context, limit int) ([]database.ArticleImage, error) {
	return nil, nil
}

type fakeLogRepo struct {
	logs []database.IngestLog
	err  error
}

func (r *fakeLogRepo) AppendLog(ctx context.Context, log database.IngestLog) error {
	if r.err != nil {
		return r.err
	}
	r.logs = append(r.logs, log)
	return nil
}

type fakeAdapter struct {
	articles []scraper.RawArticle
	err      error
}

func (a *fakeAdapter) Scrape(ctx context.Context) ([]scraper.RawArticle, error) {
	return a.articles, a.err
}

type fakeQueue struct {
	enqueued []string
}

func (q *fakeQueue) EnqueueImageEmbedding(imageID string) {
	q.enqueued = append(q.enqueued, imageID)
}

type fakeProcessor struct {
	processed []string
	failFor   map[string]bool
}

func (p *fakeProcessor) Process(ctx context.Context, articleID string) error {
	if p.failFor[articleID] {
		return errors.New("processing failed")
	}
	p.processed = append(p.processed, articleID)
	return nil
}

type testEnv struct {
	service  *Service
	sources  *fakeSourceRepo
	articles *memArticleRepo
	images   *memImageRepo
	logs     *fakeLogRepo
	queue    *fakeQueue
	adapters map[string]scraper.Adapter
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	store, err := objstore.New(context.Background(), objstore.Config{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	env := &testEnv{
		sources:  &fakeSourceRepo{sources: make(map[string]*database.Source)},
		articles: newMemArticleRepo(),
		images:   &memImageRepo{},
		logs:     &fakeLogRepo{},
		queue:    &fakeQueue{},
		adapters: make(map[string]scraper.Adapter),
	}

	env.service = NewService(opts, env.sources, env.articles, env.images, env.logs, store, nil, env.queue)
	env.service.newAdapter = func(kind, sourceURL string, configData []byte, o scraper.Options) (scraper.Adapter, error) {
		return env.adapters[sourceURL], nil
	}

	return env
}

func (env *testEnv) addSource(id, name, url string, adapter scraper.Adapter) {
	env.sources.sources[id] = &database.Source{
		ID: id, Slug: id, Name: name, URL: url,
		AdapterKind: scraper.KindFeed, IsActive: true,
	}
	env.sources.activeOrder = append(env.sources.activeOrder, id)
	env.adapters[url] = adapter
}

func TestIngestSourceDeduplicatesOnReingest(t *testing.T) {
	raw := []scraper.RawArticle{
		{ExternalID: "ext-1", ExternalURL: "https://example.com/1", Title: "First Article", Content: "Body"},
		{ExternalID: "ext-2", ExternalURL: "https://example.com/2", Title: "Second Article", Content: "Body"},
	}

	env := newTestEnv(t, Options{})
	env.addSource("s1", "Test Source", "https://example.com", &fakeAdapter{articles: raw})

	first, err := env.service.IngestSource(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if first.New != 2 || first.Duplicates != 0 {
		t.Fatalf("Expected 2 new, 0 duplicates, got: %d new, %d duplicates", first.New, first.Duplicates)
	}

	second, err := env.service.IngestSource(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if second.New != 0 {
		t.Errorf("Expected 0 new articles on re-ingest, got: %d", second.New)
	}
	if second.Duplicates != first.New {
		t.Errorf("Expected duplicates equal to first run's new count, got: %d", second.Duplicates)
	}
}

func TestIngestSourceLeavesExistingArticleUnmodified(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.addSource("s1", "Test Source", "https://example.com", &fakeAdapter{articles: []scraper.RawArticle{
		{ExternalID: "ext-1", Title: "Original Title", Content: "Original body"},
	}})

	if _, err := env.service.IngestSource(context.Background(), "s1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Same external id, different content.
	env.adapters["https://example.com"] = &fakeAdapter{articles: []scraper.RawArticle{
		{ExternalID: "ext-1", Title: "Changed Title", Content: "Changed body"},
	}}

	result, err := env.service.IngestSource(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Duplicates != 1 {
		t.Fatalf("Expected 1 duplicate, got: %d", result.Duplicates)
	}

	stored, _ := env.articles.GetByExternalID(context.Background(), "s1", "ext-1")
	if stored.Title != "Original Title" || stored.Content != "Original body" {
		t.Errorf("Expected existing article unmodified, got: %+v", stored)
	}
}

func TestIngestSourceResolvesSlugCollisions(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.addSource("s1", "Test Source", "https://example.com", &fakeAdapter{articles: []scraper.RawArticle{
		{ExternalID: "ext-1", Title: "Same Title", Content: "Body"},
		{ExternalID: "ext-2", Title: "Same Title", Content: "Body"},
	}})

	result, err := env.service.IngestSource(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.New != 2 {
		t.Fatalf("Expected both articles inserted, got: %d new, %d errors", result.New, result.Errors)
	}

	first, _ := env.articles.GetByExternalID(context.Background(), "s1", "ext-1")
	second, _ := env.articles.GetByExternalID(context.Background(), "s1", "ext-2")
	if first.Slug == second.Slug {
		t.Errorf("Expected distinct slugs, both got: %s", first.Slug)
	}
	if first.Slug != "same-title" {
		t.Errorf("Expected base slug for first insert, got: %s", first.Slug)
	}
}

func TestIngestSourceStampsLastCrawledOnAdapterFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.addSource("s1", "Broken Source", "https://example.com", &fakeAdapter{err: errors.New("selector broke")})

	_, err := env.service.IngestSource(context.Background(), "s1")
	if err == nil {
		t.Fatal("Expected adapter error to propagate")
	}
	if _, ok := env.sources.lastCrawled["s1"]; !ok {
		t.Error("Expected last crawled stamped despite adapter failure")
	}
}

func TestIngestSourcePersistsImagesAndEnqueuesEmbedding(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.addSource("s1", "Test Source", "https://example.com", &fakeAdapter{articles: []scraper.RawArticle{
		{
			ExternalID: "ext-1", Title: "With Images", Content: "Body",
			Images: []scraper.RawImage{
				{URL: "https://example.com/cover.jpg", IsCover: true},
				{URL: "https://example.com/inline.jpg"},
			},
		},
	}})

	if _, err := env.service.IngestSource(context.Background(), "s1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(env.images.inserted) != 2 {
		t.Fatalf("Expected 2 images persisted, got: %d", len(env.images.inserted))
	}
	// No object store configured: inline source URL is the fallback.
	if env.images.inserted[0].StoredURL != "" {
		t.Errorf("Expected empty stored URL without object store, got: %s", env.images.inserted[0].StoredURL)
	}
	if len(env.queue.enqueued) != 2 {
		t.Errorf("Expected 2 embedding tasks enqueued, got: %d", len(env.queue.enqueued))
	}
}

func TestIngestSourceSwallowsAuditLogFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.logs.err = errors.New("audit sink down")
	env.addSource("s1", "Test Source", "https://example.com", &fakeAdapter{articles: []scraper.RawArticle{
		{ExternalID: "ext-1", Title: "Article", Content: "Body"},
	}})

	result, err := env.service.IngestSource(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Expected log failure swallowed, got: %v", err)
	}
	if result.New != 1 {
		t.Errorf("Expected 1 new article, got: %d", result.New)
	}
}

func TestIngestAllSourcesIsolatesFailures(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.addSource("s1", "Broken", "https://broken.example", &fakeAdapter{err: errors.New("boom")})
	env.addSource("s2", "Working", "https://working.example", &fakeAdapter{articles: []scraper.RawArticle{
		{ExternalID: "ext-1", Title: "Article", Content: "Body"},
	}})

	results, totalNew, totalDuplicates, err := env.service.IngestAllSources(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected results for both sources, got: %d", len(results))
	}
	if results[0].Err == nil {
		t.Error("Expected error recorded for broken source")
	}
	if results[1].New != 1 {
		t.Errorf("Expected working source to ingest 1 article, got: %d", results[1].New)
	}
	if totalNew != 1 || totalDuplicates != 0 {
		t.Errorf("Expected totals 1/0, got: %d/%d", totalNew, totalDuplicates)
	}
}

func TestIngestSourceProcessesNewArticlesSequentially(t *testing.T) {
	env := newTestEnv(t, Options{ProcessArticles: true, ProcessingDelay: time.Millisecond})
	processor := &fakeProcessor{failFor: map[string]bool{"article-2": true}}
	env.service.processor = processor

	env.addSource("s1", "Test Source", "https://example.com", &fakeAdapter{articles: []scraper.RawArticle{
		{ExternalID: "ext-1", Title: "One", Content: "Body"},
		{ExternalID: "ext-2", Title: "Two", Content: "Body"},
		{ExternalID: "ext-3", Title: "Three", Content: "Body"},
	}})

	result, err := env.service.IngestSource(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.New != 3 {
		t.Fatalf("Expected 3 new articles, got: %d", result.New)
	}

	// article-2 failed but did not block article-3.
	if len(processor.processed) != 2 {
		t.Errorf("Expected 2 processed articles, got: %v", processor.processed)
	}
}
