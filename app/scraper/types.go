package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Source adapter kinds. Matches the adapter_kind column on sources.
const (
	KindFeed    = "feed"
	KindBrowser = "browser"
)

// RawImage is an image reference discovered during a crawl.
type RawImage struct {
	URL     string
	Caption string
	IsCover bool
}

// RawArticle is the transient output of one adapter run. It is never
// persisted as-is; the orchestrator decides what becomes durable.
type RawArticle struct {
	ExternalID  string
	ExternalURL string
	Title       string
	Content     string
	Excerpt     string
	PublishedAt *time.Time
	Authors     []string
	Images      []RawImage
	Metadata    map[string]string
}

// Config is the adapter configuration stored as JSON on each source.
// Feed sources use FeedURL only; browser sources use the selector set.
type Config struct {
	FeedURL string `json:"feed_url"`

	ListSelector    string `json:"list_selector"`
	ReadySelector   string `json:"ready_selector"`
	LinkSelector    string `json:"link_selector"`
	TitleSelector   string `json:"title_selector"`
	ExcerptSelector string `json:"excerpt_selector"`
	ContentSelector string `json:"content_selector"`
	DateSelector    string `json:"date_selector"`
	AuthorSelector  string `json:"author_selector"`
	ImageSelector   string `json:"image_selector"`

	ListOnly    bool `json:"list_only"`
	AutoScroll  bool `json:"auto_scroll"`
	MaxArticles int  `json:"max_articles"`
	VisitDelay  int  `json:"visit_delay"` // seconds between per-article page visits
	Timeout     int  `json:"timeout"`     // seconds

	// Localized month names mapped to their English equivalents, used when
	// locale-neutral date parsing fails.
	MonthNames map[string]string `json:"month_names"`
}

// Options carry process-level settings shared by all adapters.
type Options struct {
	UserAgent  string
	VisitDelay time.Duration // default inter-request delay for browser adapters
}

// Adapter fetches and normalizes articles from one external publisher.
// Implementations never touch the database.
type Adapter interface {
	Scrape(ctx context.Context) ([]RawArticle, error)
}

// New dispatches a source's configured kind to the concrete adapter. The
// kind set is closed; unknown kinds are configuration errors.
func New(kind, sourceURL string, configData []byte, opts Options) (Adapter, error) {
	var config Config
	if len(configData) > 0 {
		if err := json.Unmarshal(configData, &config); err != nil {
			return nil, fmt.Errorf("failed to parse adapter config: %w", err)
		}
	}

	switch kind {
	case KindFeed:
		return NewFeedAdapter(sourceURL, config, opts), nil
	case KindBrowser:
		return NewBrowserAdapter(sourceURL, config, opts), nil
	default:
		return nil, fmt.Errorf("unknown adapter kind: %q", kind)
	}
}

// resolveURL makes ref absolute against base. Returns ref unchanged when
// either side fails to parse.
func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
