package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/objstore"
	"github.com/medwire/medwire/app/scraper"
)

const slugSuffixAttempts = 3

// ArticleProcessor is the external collaborator that rewrites a raw
// ingested article into publishable copy and generates its cover.
type ArticleProcessor interface {
	Process(ctx context.Context, articleID string) error
}

// ImageEmbedQueue accepts fire-and-forget requests to compute an image's
// cross-modal embedding. Ingestion never waits on the result.
type ImageEmbedQueue interface {
	EnqueueImageEmbedding(imageID string)
}

// Result summarizes one source's ingest run.
type Result struct {
	SourceID   string
	SourceName string
	Fetched    int
	New        int
	Duplicates int
	Errors     int
	Duration   time.Duration
	Err        error // set when the adapter itself failed
}

// Options configure the orchestrator.
type Options struct {
	UserAgent       string
	ArticleDelay    time.Duration // delay between per-article browser visits
	ProcessArticles bool
	ProcessingDelay time.Duration // delay between sequential processing calls
}

// Service orchestrates crawling: it drives adapters, deduplicates their
// output, persists new articles and images, and triggers downstream
// processing. Safe to invoke concurrently for disjoint sources; races on
// the same source resolve through database uniqueness constraints.
type Service struct {
	opts       Options
	sources    database.SourceRepository
	articles   database.ArticleRepository
	images     database.ImageRepository
	logs       database.IngestLogRepository
	store      *objstore.Store
	processor  ArticleProcessor
	imageQueue ImageEmbedQueue
	httpClient *http.Client
	newAdapter func(kind, sourceURL string, configData []byte, opts scraper.Options) (scraper.Adapter, error)
}

func NewService(opts Options, sources database.SourceRepository, articles database.ArticleRepository,
	images database.ImageRepository, logs database.IngestLogRepository, store *objstore.Store,
	processor ArticleProcessor, imageQueue ImageEmbedQueue) *Service {
	return &Service{
		opts:       opts,
		sources:    sources,
		articles:   articles,
		images:     images,
		logs:       logs,
		store:      store,
		processor:  processor,
		imageQueue: imageQueue,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		newAdapter: scraper.New,
	}
}

// SetImageQueue wires the embedding handoff after construction. The queue
// is owned by the scheduler, which is built after the ingest service.
func (s *Service) SetImageQueue(queue ImageEmbedQueue) {
	s.imageQueue = queue
}

// IngestSource crawls one source and persists whatever is new. The source's
// last-crawled time is stamped unconditionally, even when some articles
// failed.
func (s *Service) IngestSource(ctx context.Context, sourceID string) (*Result, error) {
	started := time.Now()

	source, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("source %s not found", sourceID)
	}

	result := &Result{SourceID: source.ID, SourceName: source.Name}

	adapter, err := s.newAdapter(source.AdapterKind, source.URL, source.AdapterConfig, scraper.Options{
		UserAgent:  s.opts.UserAgent,
		VisitDelay: s.opts.ArticleDelay,
	})
	if err != nil {
		return nil, err
	}

	rawArticles, err := adapter.Scrape(ctx)
	if err != nil {
		s.stampLastCrawled(ctx, source.ID)
		return nil, fmt.Errorf("failed to scrape source %s: %w", source.Name, err)
	}

	result.Fetched = len(rawArticles)

	var newArticleIDs []string
	for _, raw := range rawArticles {
		article, err := s.persistArticle(ctx, source, raw)
		if err != nil {
			if errors.Is(err, database.ErrDuplicateArticle) {
				result.Duplicates++
				continue
			}
			slog.Error("Failed to persist article",
				"source", source.Name, "external_id", raw.ExternalID, "error", err)
			result.Errors++
			continue
		}

		s.persistImages(ctx, article, raw.Images)
		newArticleIDs = append(newArticleIDs, article.ID)
		result.New++
	}

	s.stampLastCrawled(ctx, source.ID)

	if s.opts.ProcessArticles && s.processor != nil {
		s.processSequentially(ctx, source.Name, newArticleIDs)
	}

	result.Duration = time.Since(started)
	s.appendRunLog(ctx, result)

	slog.Info("Source ingested",
		"source", source.Name,
		"fetched", result.Fetched,
		"new", result.New,
		"duplicates", result.Duplicates,
		"errors", result.Errors,
		"duration", result.Duration)

	return result, nil
}

// IngestAllSources crawls every active source sequentially, isolating
// failures per source. Returns one result per source plus aggregate totals.
func (s *Service) IngestAllSources(ctx context.Context) ([]Result, int, int, error) {
	sources, err := s.sources.GetActiveSources(ctx)
	if err != nil {
		return nil, 0, 0, err
	}

	var results []Result
	totalNew, totalDuplicates := 0, 0

	for _, source := range sources {
		result, err := s.IngestSource(ctx, source.ID)
		if err != nil {
			slog.Error("Source ingest failed", "source", source.Name, "error", err)
			results = append(results, Result{
				SourceID:   source.ID,
				SourceName: source.Name,
				Err:        err,
			})
			continue
		}

		results = append(results, *result)
		totalNew += result.New
		totalDuplicates += result.Duplicates
	}

	return results, totalNew, totalDuplicates, nil
}

// persistArticle deduplicates on the (source_id, external_id) key and
// inserts under the slug uniqueness constraint, escalating through numeric
// suffixes to a time-based one. A dedup-key violation during insert is the
// concurrent-crawl race and counts as a duplicate.
func (s *Service) persistArticle(ctx context.Context, source *database.Source, raw scraper.RawArticle) (*database.Article, error) {
	existing, err := s.articles.GetByExternalID(ctx, source.ID, raw.ExternalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, database.ErrDuplicateArticle
	}

	article := &database.Article{
		SourceID:    source.ID,
		ExternalID:  raw.ExternalID,
		ExternalURL: raw.ExternalURL,
		Title:       raw.Title,
		Excerpt:     raw.Excerpt,
		Content:     raw.Content,
		Authors:     raw.Authors,
		Status:      database.StatusIngested,
		PublishedAt: raw.PublishedAt,
	}

	base := Slugify(raw.Title)
	if base == "" {
		base = Slugify(raw.ExternalID)
	}
	if base == "" {
		base = "article"
	}

	for attempt := 0; ; attempt++ {
		switch {
		case attempt == 0:
			article.Slug = base
		case attempt <= slugSuffixAttempts:
			article.Slug = fmt.Sprintf("%s-%d", base, attempt+1)
		default:
			article.Slug = base + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
		}

		err := s.articles.InsertArticle(ctx, article)
		if err == nil {
			return article, nil
		}
		if errors.Is(err, database.ErrSlugTaken) && attempt <= slugSuffixAttempts {
			continue
		}
		return nil, err
	}
}

// persistImages stores a new article's images and hands each off for
// asynchronous embedding. Failures are logged, never fatal to ingestion.
func (s *Service) persistImages(ctx context.Context, article *database.Article, rawImages []scraper.RawImage) {
	for _, raw := range rawImages {
		image := &database.ArticleImage{
			ArticleID: article.ID,
			SourceURL: raw.URL,
			Caption:   raw.Caption,
			IsCover:   raw.IsCover,
		}

		if s.store.IsConfigured() {
			storedURL, err := s.storeImage(ctx, raw.URL)
			if err != nil {
				slog.Warn("Failed to store image, keeping inline reference",
					"article_id", article.ID, "url", raw.URL, "error", err)
			} else {
				image.StoredURL = storedURL
			}
		}

		if err := s.images.InsertImage(ctx, image); err != nil {
			slog.Error("Failed to persist image", "article_id", article.ID, "error", err)
			continue
		}

		if raw.IsCover {
			if err := s.articles.UpdateCoverImage(ctx, article.ID, image.BestURL()); err != nil {
				slog.Error("Failed to set cover image", "article_id", article.ID, "error", err)
			}
		}

		if s.imageQueue != nil {
			s.imageQueue.EnqueueImageEmbedding(image.ID)
		}
	}
}

func (s *Service) storeImage(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return s.store.Store(ctx, data, resp.Header.Get("Content-Type"))
}

// processSequentially drives new articles through the external processing
// collaborator one at a time with a fixed inter-call delay. The pacing is a
// deliberate throttle in front of a paid, rate-limited service.
func (s *Service) processSequentially(ctx context.Context, sourceName string, articleIDs []string) {
	for i, id := range articleIDs {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.opts.ProcessingDelay):
			}
		}

		if err := s.processor.Process(ctx, id); err != nil {
			slog.Error("Failed to process article", "source", sourceName, "article_id", id, "error", err)
		}
	}
}

func (s *Service) stampLastCrawled(ctx context.Context, sourceID string) {
	if err := s.sources.UpdateLastCrawled(ctx, sourceID, time.Now().UTC()); err != nil {
		slog.Error("Failed to stamp last crawled time", "source_id", sourceID, "error", err)
	}
}

// appendRunLog emits the run summary to the audit log. Fire-and-forget:
// a logging failure never fails the ingest call.
func (s *Service) appendRunLog(ctx context.Context, result *Result) {
	err := s.logs.AppendLog(ctx, database.IngestLog{
		SourceID:   result.SourceID,
		SourceName: result.SourceName,
		Fetched:    result.Fetched,
		New:        result.New,
		Duplicates: result.Duplicates,
		Errors:     result.Errors,
		DurationMs: result.Duration.Milliseconds(),
	})
	if err != nil {
		slog.Warn("Failed to append ingest log", "source", result.SourceName, "error", err)
	}
}
