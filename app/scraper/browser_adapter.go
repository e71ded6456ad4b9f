package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const (
	defaultBrowserTimeout  = 60 // seconds, whole page render
	readySelectorTimeout   = 10 * time.Second
	defaultMaxArticles     = 20
	externalIDMaxLength    = 80
	autoScrollSteps        = 5
	autoScrollStepInterval = 500 * time.Millisecond
)

// Genitive month names as they appear in published dates on Russian sites.
// Configurable per source; these are the defaults.
var defaultMonthNames = map[string]string{
	"января":   "january",
	"февраля":  "february",
	"марта":    "march",
	"апреля":   "april",
	"мая":      "may",
	"июня":     "june",
	"июля":     "july",
	"августа":  "august",
	"сентября": "september",
	"октября":  "october",
	"ноября":   "november",
	"декабря":  "december",
}

// Elements that never carry article content. Removed before sanitization.
const nonContentSelectors = `script, style, noscript, iframe, form, nav, header, footer, aside,
	.nav, .menu, .sidebar, .ads, .advertisement, .banner, .social, .share, .comments, .related`

// BrowserAdapter drives a headless browser against sites without feeds,
// extracting articles through configured CSS selectors.
type BrowserAdapter struct {
	listingURL string
	config     Config
	userAgent  string
	visitDelay time.Duration
	sanitizer  *bluemonday.Policy
	monthNames map[string]string
}

var _ Adapter = (*BrowserAdapter)(nil)

func NewBrowserAdapter(sourceURL string, config Config, opts Options) *BrowserAdapter {
	visitDelay := opts.VisitDelay
	if config.VisitDelay > 0 {
		visitDelay = time.Duration(config.VisitDelay) * time.Second
	}

	monthNames := config.MonthNames
	if len(monthNames) == 0 {
		monthNames = defaultMonthNames
	}

	return &BrowserAdapter{
		listingURL: sourceURL,
		config:     config,
		userAgent:  opts.UserAgent,
		visitDelay: visitDelay,
		sanitizer:  bluemonday.UGCPolicy(),
		monthNames: monthNames,
	}
}

func (a *BrowserAdapter) Scrape(ctx context.Context) ([]RawArticle, error) {
	html, err := a.render(ctx, a.listingURL)
	if err != nil {
		return nil, fmt.Errorf("failed to render listing page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}

	if a.config.ListOnly {
		return a.extractFromListing(doc), nil
	}

	return a.visitArticles(ctx, doc)
}

// extractFromListing pulls complete article data straight from the listing
// page, for sites where per-article pages are unnecessary or inaccessible.
func (a *BrowserAdapter) extractFromListing(doc *goquery.Document) []RawArticle {
	var articles []RawArticle
	limit := a.maxArticles()

	doc.Find(a.config.ListSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(articles) >= limit {
			return false
		}

		link := a.extractLink(s)
		title := strings.TrimSpace(s.Find(a.config.TitleSelector).First().Text())
		if link == "" || title == "" {
			return true
		}

		article := RawArticle{
			ExternalID:  externalIDFromURL(link),
			ExternalURL: link,
			Title:       title,
			Excerpt:     strings.TrimSpace(s.Find(a.config.ExcerptSelector).First().Text()),
			PublishedAt: a.parseDate(s.Find(a.config.DateSelector).First().Text()),
		}

		if a.config.ContentSelector != "" {
			article.Content = a.cleanContent(s.Find(a.config.ContentSelector).First())
		}

		article.Images = a.extractImages(s, link)
		articles = append(articles, article)
		return true
	})

	return articles
}

// visitArticles collects a bounded number of article links from the listing
// and renders each page individually with a fixed inter-request delay.
func (a *BrowserAdapter) visitArticles(ctx context.Context, doc *goquery.Document) ([]RawArticle, error) {
	links := a.collectLinks(doc)

	var articles []RawArticle
	for i, link := range links {
		if i > 0 {
			select {
			case <-ctx.Done():
				return articles, ctx.Err()
			case <-time.After(a.visitDelay):
			}
		}

		article, err := a.scrapeArticlePage(ctx, link)
		if err != nil {
			slog.Warn("Failed to scrape article page", "url", link, "error", err)
			continue
		}

		articles = append(articles, *article)
	}

	return articles, nil
}

func (a *BrowserAdapter) collectLinks(doc *goquery.Document) []string {
	limit := a.maxArticles()
	seen := make(map[string]bool)
	var links []string

	scope := doc.Selection
	if a.config.ListSelector != "" {
		scope = doc.Find(a.config.ListSelector)
	}

	scope.Find(a.linkSelector()).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(links) >= limit {
			return false
		}
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		link := resolveURL(a.listingURL, strings.TrimSpace(href))
		if link == "" || seen[link] {
			return true
		}
		seen[link] = true
		links = append(links, link)
		return true
	})

	return links
}

func (a *BrowserAdapter) scrapeArticlePage(ctx context.Context, pageURL string) (*RawArticle, error) {
	html, err := a.render(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse article page: %w", err)
	}

	article := &RawArticle{
		ExternalID:  externalIDFromURL(pageURL),
		ExternalURL: pageURL,
		Title:       strings.TrimSpace(doc.Find(a.config.TitleSelector).First().Text()),
		Excerpt:     strings.TrimSpace(doc.Find(a.config.ExcerptSelector).First().Text()),
		PublishedAt: a.parseDate(doc.Find(a.config.DateSelector).First().Text()),
	}

	if a.config.AuthorSelector != "" {
		doc.Find(a.config.AuthorSelector).Each(func(_ int, s *goquery.Selection) {
			if name := strings.TrimSpace(s.Text()); name != "" {
				article.Authors = append(article.Authors, name)
			}
		})
	}

	if a.config.ContentSelector != "" {
		article.Content = a.cleanContent(doc.Find(a.config.ContentSelector).First())
	}

	if article.Content == "" {
		article.Content = a.extractReadable(html, pageURL)
	}

	article.Images = a.extractImages(doc.Selection, pageURL)

	if article.Title == "" {
		return nil, fmt.Errorf("no title found at %s", pageURL)
	}

	return article, nil
}

// render navigates the headless browser to a page and returns the rendered
// HTML. A missing ready selector is a soft failure: the page is used as-is
// after the wait times out.
func (a *BrowserAdapter) render(ctx context.Context, pageURL string) (string, error) {
	timeout := a.config.Timeout
	if timeout <= 0 {
		timeout = defaultBrowserTimeout
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(a.userAgent),
		chromedp.Flag("disable-gpu", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, time.Duration(timeout)*time.Second)
	defer cancelTimeout()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(pageURL)); err != nil {
		return "", fmt.Errorf("failed to navigate: %w", err)
	}

	if a.config.ReadySelector != "" {
		waitCtx, cancelWait := context.WithTimeout(browserCtx, readySelectorTimeout)
		err := chromedp.Run(waitCtx, chromedp.WaitVisible(a.config.ReadySelector, chromedp.ByQuery))
		cancelWait()
		if err != nil {
			slog.Warn("Ready selector did not appear, continuing with current page state",
				"url", pageURL, "selector", a.config.ReadySelector)
		}
	}

	if a.config.AutoScroll {
		for i := 0; i < autoScrollSteps; i++ {
			err := chromedp.Run(browserCtx,
				chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
				chromedp.Sleep(autoScrollStepInterval),
			)
			if err != nil {
				break
			}
		}
	}

	var html string
	if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture page HTML: %w", err)
	}

	return html, nil
}

// cleanContent strips non-content elements from a selection and sanitizes
// the remaining markup.
func (a *BrowserAdapter) cleanContent(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}

	clone := s.Clone()
	clone.Find(nonContentSelectors).Remove()

	html, err := clone.Html()
	if err != nil {
		return ""
	}

	return strings.TrimSpace(a.sanitizer.Sanitize(html))
}

func (a *BrowserAdapter) extractReadable(html, pageURL string) string {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		parsedURL = nil
	}

	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err != nil || article.Content == "" {
		return ""
	}

	return strings.TrimSpace(a.sanitizer.Sanitize(article.Content))
}

func (a *BrowserAdapter) extractImages(s *goquery.Selection, pageURL string) []RawImage {
	selector := a.config.ImageSelector
	if selector == "" {
		return nil
	}

	var images []RawImage
	seen := make(map[string]bool)

	s.Find(selector).Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok {
			src = img.AttrOr("data-src", "")
		}
		src = strings.TrimSpace(src)
		if src == "" || seen[src] {
			return
		}
		seen[src] = true
		images = append(images, RawImage{
			URL:     resolveURL(pageURL, src),
			Caption: img.AttrOr("alt", ""),
			IsCover: len(images) == 0,
		})
	})

	return images
}

// parseDate accepts locale-neutral formats first, then retries with the
// configured localized month names substituted. Returns nil rather than an
// error when the text is unparseable.
func (a *BrowserAdapter) parseDate(text string) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if t, err := dateparse.ParseAny(text); err == nil {
		return &t
	}

	lowered := strings.ToLower(text)
	for localized, english := range a.monthNames {
		lowered = strings.ReplaceAll(lowered, localized, english)
	}

	if t, err := dateparse.ParseAny(lowered); err == nil {
		return &t
	}

	return nil
}

func (a *BrowserAdapter) maxArticles() int {
	if a.config.MaxArticles > 0 {
		return a.config.MaxArticles
	}
	return defaultMaxArticles
}

func (a *BrowserAdapter) linkSelector() string {
	if a.config.LinkSelector != "" {
		return a.config.LinkSelector
	}
	return "a"
}

func (a *BrowserAdapter) extractLink(s *goquery.Selection) string {
	link := s.Find(a.linkSelector()).First().AttrOr("href", "")
	if link == "" {
		link = s.AttrOr("href", "")
	}
	if link == "" {
		return ""
	}
	return resolveURL(a.listingURL, strings.TrimSpace(link))
}

var nonIDChars = regexp.MustCompile(`[^a-z0-9]+`)

// externalIDFromURL derives a stable identifier from an article URL so the
// same article maps to the same id across runs.
func externalIDFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	path := rawURL
	if err == nil && parsed.Path != "" {
		path = parsed.Path
	}

	id := strings.ToLower(path)
	id = nonIDChars.ReplaceAllString(id, "-")
	id = strings.Trim(id, "-")

	if len(id) > externalIDMaxLength {
		id = strings.Trim(id[:externalIDMaxLength], "-")
	}

	return id
}
