package database

import (
	"time"
)

// Article status lifecycle. The orchestrator owns the transition from
// ingested onward; scheduled/published/archived are set by operators.
const (
	StatusIngested   = "ingested"
	StatusProcessing = "processing"
	StatusDraft      = "draft"
	StatusFailed     = "failed"
	StatusScheduled  = "scheduled"
	StatusPublished  = "published"
	StatusArchived   = "archived"
)

// Source adapter kinds
const (
	AdapterKindFeed    = "feed"
	AdapterKindBrowser = "browser"
)

type Source struct {
	ID            string // Database UUID
	Slug          string // Configuration source identifier derived from filename
	Name          string
	URL           string
	AdapterKind   string // "feed" or "browser"
	AdapterConfig []byte // JSON adapter configuration (selectors, feed URL, limits)
	IsActive      bool
	LastCrawledAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Article struct {
	ID            string
	SourceID      string
	ExternalID    string
	ExternalURL   string
	Slug          string
	Title         string
	Excerpt       string
	Content       string
	Category      string
	Tags          []string
	Authors       []string
	Status        string
	CoverImageURL string
	PublishedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ArticleImage struct {
	ID        string
	ArticleID string
	SourceURL string
	StoredURL string // Permanent object storage URL; empty when no store is configured
	Caption   string
	IsCover   bool
	CreatedAt time.Time
}

// BestURL prefers the permanently stored copy over the original source URL.
func (i ArticleImage) BestURL() string {
	if i.StoredURL != "" {
		return i.StoredURL
	}
	return i.SourceURL
}

type ArticleEmbedding struct {
	ArticleID   string
	Embedding   []float32
	ContentHash string
	Model       string
	TokenCount  int
	UpdatedAt   time.Time
}

type ImageEmbedding struct {
	ImageID   string
	Embedding []float32
	Model     string
	UpdatedAt time.Time
}

// UsageCounter holds the rolling inference usage windows. A single row
// (id = 1) backs the in-process rate limiter across restarts.
type UsageCounter struct {
	MinuteUnits   int64
	HourUnits     int64
	DayUnits      int64
	MinuteResetAt time.Time
	HourResetAt   time.Time
	DayResetAt    time.Time
	UpdatedAt     time.Time
}

type IngestLog struct {
	ID         string
	SourceID   string
	SourceName string
	Fetched    int
	New        int
	Duplicates int
	Errors     int
	DurationMs int64
	CreatedAt  time.Time
}

type ArticleSearchResult struct {
	Article
	Similarity float64
}

type ImageSearchResult struct {
	ArticleImage
	Similarity float64
}

// ArticleSearchOptions narrows vector similarity searches over articles.
type ArticleSearchOptions struct {
	Limit     int
	Threshold float64
	Category  string // Empty means no category filter
	Status    string // Empty means no status filter
}
