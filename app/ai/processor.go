package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/inference"
	"github.com/medwire/medwire/app/ratelimit"
)

const rewritePrompt = `Rewrite the following news article into clean publishable copy.
Respond with a JSON object: {"title": "...", "excerpt": "...", "content": "...",
"category": "...", "tags": ["..."]}. Keep the language of the original.
Content must be markdown. The excerpt is one or two sentences.`

// Processor turns a raw ingested article into publishable copy through the
// chat model. It owns the ingested -> processing -> draft/failed status
// transitions.
type Processor struct {
	model    string
	client   *inference.Client
	limiter  *ratelimit.Limiter
	articles database.ArticleRepository
}

func NewProcessor(model string, client *inference.Client, limiter *ratelimit.Limiter,
	articles database.ArticleRepository) *Processor {
	return &Processor{
		model:    model,
		client:   client,
		limiter:  limiter,
		articles: articles,
	}
}

func (p *Processor) Process(ctx context.Context, articleID string) error {
	article, err := p.articles.GetArticle(ctx, articleID)
	if err != nil {
		return err
	}
	if article == nil {
		return fmt.Errorf("article %s not found", articleID)
	}

	if err := p.articles.UpdateArticleStatus(ctx, articleID, database.StatusProcessing); err != nil {
		return err
	}

	rewritten, err := p.rewrite(ctx, article)
	if err != nil {
		if statusErr := p.articles.UpdateArticleStatus(ctx, articleID, database.StatusFailed); statusErr != nil {
			slog.Error("Failed to mark article as failed", "article_id", articleID, "error", statusErr)
		}
		return fmt.Errorf("failed to process article %s: %w", articleID, err)
	}

	article.Title = rewritten.Title
	article.Excerpt = rewritten.Excerpt
	article.Content = rewritten.Content
	article.Category = rewritten.Category
	article.Tags = rewritten.Tags
	article.Status = database.StatusDraft

	return p.articles.UpdateArticleContent(ctx, article)
}

type rewriteResult struct {
	Title    string   `json:"title"`
	Excerpt  string   `json:"excerpt"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

func (p *Processor) rewrite(ctx context.Context, article *database.Article) (*rewriteResult, error) {
	input := article.Title + "\n\n" + article.Content
	units := int64(len(input)/4) + 1

	if err := p.limiter.Check(ctx, units); err != nil {
		return nil, err
	}

	output, err := p.client.Run(ctx, p.model, map[string]any{
		"prompt": rewritePrompt,
		"text":   input,
	})
	if err != nil {
		return nil, err
	}

	if err := p.limiter.Record(ctx, units); err != nil {
		slog.Error("Failed to record usage", "article_id", article.ID, "error", err)
	}

	result, err := decodeRewrite(output)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// decodeRewrite tolerates the model wrapping its JSON in a string or code
// fence, which chat models do routinely.
func decodeRewrite(output json.RawMessage) (*rewriteResult, error) {
	raw := string(output)

	var asString string
	if err := json.Unmarshal(output, &asString); err == nil {
		raw = asString
	}

	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var result rewriteResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &result); err != nil {
		return nil, fmt.Errorf("failed to decode rewrite output: %w", err)
	}

	if result.Title == "" || result.Content == "" {
		return nil, fmt.Errorf("rewrite output is missing title or content")
	}

	return &result, nil
}
