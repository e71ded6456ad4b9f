package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medwire/medwire/app/embedding"
)

type EmbedArticlesTask struct {
	Task
	textService *embedding.TextService
}

func NewEmbedArticlesTask(textService *embedding.TextService) *EmbedArticlesTask {
	return &EmbedArticlesTask{
		Task:        NewTask(TaskTypeEmbedArticles, "all"),
		textService: textService,
	}
}

func (t *EmbedArticlesTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	succeeded, failed, err := t.textService.EmbedMissing(ctx)
	if err != nil {
		slog.Error("Task failed", "type", "EmbedArticles", "error", err)
		return fmt.Errorf("failed to embed missing articles: %w", err)
	}

	slog.Info("Task completed",
		"type", "EmbedArticles",
		"duration", t.GetDuration(),
		"succeeded", succeeded,
		"failed", failed)

	return nil
}
