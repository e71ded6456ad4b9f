package scraper

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

const defaultFeedTimeout = 30 // seconds

// FeedAdapter parses a syndication feed into raw articles. On gofeed
// failure it retries with a permissive tag-soup pass over the raw bytes
// before giving up.
type FeedAdapter struct {
	feedURL    string
	config     Config
	userAgent  string
	httpClient *http.Client
	parser     *gofeed.Parser
	sanitizer  *bluemonday.Policy
	stripper   *bluemonday.Policy
}

var _ Adapter = (*FeedAdapter)(nil)

func NewFeedAdapter(sourceURL string, config Config, opts Options) *FeedAdapter {
	feedURL := cmp.Or(config.FeedURL, sourceURL)

	return &FeedAdapter{
		feedURL:    feedURL,
		config:     config,
		userAgent:  opts.UserAgent,
		httpClient: &http.Client{},
		parser:     gofeed.NewParser(),
		sanitizer:  bluemonday.UGCPolicy(),
		stripper:   bluemonday.StrictPolicy(),
	}
}

func (a *FeedAdapter) Scrape(ctx context.Context) ([]RawArticle, error) {
	data, err := a.fetch(ctx, a.feedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	feed, err := a.parser.Parse(bytes.NewReader(data))
	if err != nil {
		slog.Warn("Feed parse failed, trying tag-soup fallback", "url", a.feedURL, "error", err)
		articles, fallbackErr := a.parseTagSoup(data)
		if fallbackErr != nil {
			return nil, fmt.Errorf("failed to parse feed: %w", err)
		}
		return articles, nil
	}

	articles := make([]RawArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		articles = append(articles, a.normalizeItem(item))
	}

	return articles, nil
}

func (a *FeedAdapter) normalizeItem(item *gofeed.Item) RawArticle {
	article := RawArticle{
		ExternalID:  cmp.Or(item.GUID, item.Link),
		ExternalURL: item.Link,
		Title:       strings.TrimSpace(item.Title),
		Excerpt:     strings.TrimSpace(a.stripper.Sanitize(item.Description)),
	}

	content := cmp.Or(item.Content, item.Description)
	article.Content = strings.TrimSpace(a.sanitizer.Sanitize(content))

	if item.PublishedParsed != nil {
		t := *item.PublishedParsed
		article.PublishedAt = &t
	} else if item.UpdatedParsed != nil {
		t := *item.UpdatedParsed
		article.PublishedAt = &t
	}

	for _, author := range item.Authors {
		if author != nil && author.Name != "" {
			article.Authors = append(article.Authors, author.Name)
		}
	}

	article.Images = a.collectImages(item, content)

	return article
}

// collectImages gathers image references from enclosures, media extensions
// and inline markup, in that order. The first discovered image becomes the
// cover; duplicate URLs are skipped.
func (a *FeedAdapter) collectImages(item *gofeed.Item, content string) []RawImage {
	var images []RawImage
	seen := make(map[string]bool)

	add := func(rawURL, caption string) {
		rawURL = strings.TrimSpace(rawURL)
		if rawURL == "" || seen[rawURL] {
			return
		}
		seen[rawURL] = true
		images = append(images, RawImage{
			URL:     resolveURL(item.Link, rawURL),
			Caption: caption,
			IsCover: len(images) == 0,
		})
	}

	for _, enclosure := range item.Enclosures {
		if enclosure != nil && strings.HasPrefix(enclosure.Type, "image/") {
			add(enclosure.URL, "")
		}
	}

	if item.Image != nil {
		add(item.Image.URL, item.Image.Title)
	}

	for _, ns := range []string{"media"} {
		for _, ext := range item.Extensions[ns]["content"] {
			if url := ext.Attrs["url"]; url != "" {
				add(url, ext.Attrs["title"])
			}
		}
		for _, ext := range item.Extensions[ns]["thumbnail"] {
			add(ext.Attrs["url"], "")
		}
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
		doc.Find("img").Each(func(_ int, s *goquery.Selection) {
			src, _ := s.Attr("src")
			alt, _ := s.Attr("alt")
			add(src, alt)
		})
	}

	return images
}

// parseTagSoup recovers items from feeds too malformed for gofeed. It runs
// the raw bytes through an HTML parser and picks out item/entry elements.
func (a *FeedAdapter) parseTagSoup(data []byte) ([]RawArticle, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed bytes: %w", err)
	}

	var articles []RawArticle
	doc.Find("item, entry").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("title").First().Text())
		guid := strings.TrimSpace(s.Find("guid, id").First().Text())
		// The HTML parser treats <link> as a void element, so its text ends
		// up as a sibling node. Fall back to the guid when it looks like a URL.
		link := strings.TrimSpace(s.Find("link").First().AttrOr("href", ""))
		if link == "" && strings.HasPrefix(guid, "http") {
			link = guid
		}
		description := strings.TrimSpace(s.Find("description, summary").First().Text())

		if title == "" && link == "" {
			return
		}

		articles = append(articles, RawArticle{
			ExternalID:  cmp.Or(guid, link, title),
			ExternalURL: link,
			Title:       title,
			Excerpt:     strings.TrimSpace(a.stripper.Sanitize(description)),
			Content:     strings.TrimSpace(a.sanitizer.Sanitize(description)),
		})
	})

	if len(articles) == 0 {
		return nil, fmt.Errorf("no items recovered from feed bytes")
	}

	return articles, nil
}

func (a *FeedAdapter) fetch(ctx context.Context, url string) ([]byte, error) {
	timeout := a.config.Timeout
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
