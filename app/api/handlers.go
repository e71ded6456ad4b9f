package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/embedding"
	"github.com/medwire/medwire/app/ingest"
	"github.com/medwire/medwire/app/ratelimit"
	"github.com/medwire/medwire/app/sources"
	"github.com/medwire/medwire/app/tasks"
)

func NewHandler(sourceRepo database.SourceRepository, loader *sources.Loader,
	textService *embedding.TextService, imageService *embedding.ImageService,
	ingestService *ingest.Service, scheduler tasks.TaskSchedulerInterface, version string) *Handler {
	return &Handler{
		sourceRepo:    sourceRepo,
		loader:        loader,
		textService:   textService,
		imageService:  imageService,
		ingestService: ingestService,
		scheduler:     scheduler,
		version:       version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
	}

	if activeSources, err := h.sourceRepo.GetActiveSources(c.Request.Context()); err == nil {
		health["active_sources"] = len(activeSources)
	}

	health["loaded_definitions"] = len(h.loader.GetDefinitions())

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	activeSources, err := h.sourceRepo.GetActiveSources(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "get_active_sources", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	sourceStats := make([]map[string]interface{}, 0, len(activeSources))
	for _, source := range activeSources {
		sourceStats = append(sourceStats, map[string]interface{}{
			"slug":            source.Slug,
			"name":            source.Name,
			"kind":            source.AdapterKind,
			"last_crawled_at": source.LastCrawledAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": sourceStats,
	})
}

// TriggerIngest enqueues an ingest run for one source, or for every active
// source when no slug is given.
func (h *Handler) TriggerIngest(c *gin.Context) {
	slug := c.Param("slug")

	if slug != "" {
		source, err := h.sourceRepo.GetSourceBySlug(c.Request.Context(), slug)
		if err != nil {
			slog.Error("Database error", "operation", "get_source", "source", slug, "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		if source == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
			return
		}

		task := tasks.NewIngestSourceTask(source.ID, source.Slug, h.ingestService)
		if err := h.scheduler.EnqueueTask(task); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"enqueued": []string{source.Slug}})
		return
	}

	activeSources, err := h.sourceRepo.GetActiveSources(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "get_active_sources", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	var enqueued []string
	for _, source := range activeSources {
		task := tasks.NewIngestSourceTask(source.ID, source.Slug, h.ingestService)
		if err := h.scheduler.EnqueueTask(task); err != nil {
			slog.Warn("Failed to enqueue IngestSourceTask", "source", source.Slug, "error", err)
			continue
		}
		enqueued = append(enqueued, source.Slug)
	}

	c.JSON(http.StatusAccepted, gin.H{"enqueued": enqueued})
}

// SearchArticles runs a semantic text search over the article vectors.
func (h *Handler) SearchArticles(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
		return
	}

	opts := database.ArticleSearchOptions{
		Limit:     queryInt(c, "limit", defaultSearchLimit),
		Threshold: queryFloat(c, "threshold", defaultSearchThreshold),
		Category:  c.Query("category"),
		Status:    c.Query("status"),
	}
	if opts.Limit > maxSearchLimit {
		opts.Limit = maxSearchLimit
	}

	results, err := h.textService.SearchArticles(c.Request.Context(), query, opts)
	if err != nil {
		h.renderSearchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"count":   len(results),
		"results": articleResults(results),
	})
}

// SearchImages runs a cross-modal text query over the image vectors.
func (h *Handler) SearchImages(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
		return
	}

	limit := queryInt(c, "limit", defaultSearchLimit)
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	threshold := queryFloat(c, "threshold", defaultSearchThreshold)

	results, err := h.imageService.SearchImagesByText(c.Request.Context(), query, limit, threshold)
	if err != nil {
		h.renderSearchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"count":   len(results),
		"results": imageResults(results),
	})
}

func (h *Handler) GetSimilarArticles(c *gin.Context) {
	articleID := c.Param("id")
	limit := queryInt(c, "limit", defaultSearchLimit)
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results, err := h.textService.FindSimilarArticles(c.Request.Context(), articleID, limit)
	if err != nil {
		slog.Error("Similarity query failed", "article_id", articleID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(results),
		"results": articleResults(results),
	})
}

func (h *Handler) GetSimilarImages(c *gin.Context) {
	imageID := c.Param("id")
	limit := queryInt(c, "limit", defaultSearchLimit)
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	threshold := queryFloat(c, "threshold", defaultSearchThreshold)

	results, err := h.imageService.FindSimilarImages(c.Request.Context(), imageID, limit, threshold)
	if err != nil {
		slog.Error("Similarity query failed", "image_id", imageID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(results),
		"results": imageResults(results),
	})
}

func (h *Handler) renderSearchError(c *gin.Context, err error) {
	var limitErr *ratelimit.LimitError
	if errors.As(err, &limitErr) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": limitErr.Error(), "ceiling": limitErr.Ceiling})
		return
	}

	slog.Error("Search failed", "error", err)
	c.Status(http.StatusInternalServerError)
}

func articleResults(results []database.ArticleSearchResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]interface{}{
			"id":           r.ID,
			"slug":         r.Slug,
			"title":        r.Title,
			"excerpt":      r.Excerpt,
			"category":     r.Category,
			"tags":         r.Tags,
			"status":       r.Status,
			"cover_image":  r.CoverImageURL,
			"published_at": r.PublishedAt,
			"similarity":   r.Similarity,
		})
	}
	return out
}

func imageResults(results []database.ImageSearchResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]interface{}{
			"id":         r.ID,
			"article_id": r.ArticleID,
			"url":        r.BestURL(),
			"caption":    r.Caption,
			"is_cover":   r.IsCover,
			"similarity": r.Similarity,
		})
	}
	return out
}

func queryInt(c *gin.Context, name string, fallback int) int {
	if value, err := strconv.Atoi(c.Query(name)); err == nil && value > 0 {
		return value
	}
	return fallback
}

func queryFloat(c *gin.Context, name string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(c.Query(name), 64); err == nil && value >= 0 {
		return value
	}
	return fallback
}
