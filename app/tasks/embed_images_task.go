package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medwire/medwire/app/embedding"
)

// EmbedImagesTask sweeps up images that never got a vector, typically
// because their fire-and-forget task was lost to a restart.
type EmbedImagesTask struct {
	Task
	imageService *embedding.ImageService
	batchSize    int
}

func NewEmbedImagesTask(imageService *embedding.ImageService, batchSize int) *EmbedImagesTask {
	return &EmbedImagesTask{
		Task:         NewTask(TaskTypeEmbedImages, "all"),
		imageService: imageService,
		batchSize:    batchSize,
	}
}

func (t *EmbedImagesTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	succeeded, failed, err := t.imageService.EmbedAll(ctx, t.batchSize)
	if err != nil {
		slog.Error("Task failed", "type", "EmbedImages", "error", err)
		return fmt.Errorf("failed to embed images: %w", err)
	}

	slog.Info("Task completed",
		"type", "EmbedImages",
		"duration", t.GetDuration(),
		"succeeded", succeeded,
		"failed", failed)

	return nil
}
