package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medwire/medwire/app/embedding"
)

// EmbedImageTask computes the cross-modal vector for a single image. This
// is the fire-and-forget handoff target used during ingestion.
type EmbedImageTask struct {
	Task
	imageID      string
	imageService *embedding.ImageService
}

func NewEmbedImageTask(imageID string, imageService *embedding.ImageService) *EmbedImageTask {
	return &EmbedImageTask{
		Task:         NewTask(TaskTypeEmbedImage, imageID),
		imageID:      imageID,
		imageService: imageService,
	}
}

func (t *EmbedImageTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := t.imageService.EmbedImage(ctx, t.imageID); err != nil {
		slog.Error("Task failed", "type", "EmbedImage", "image_id", t.imageID, "error", err)
		return fmt.Errorf("failed to embed image: %w", err)
	}

	slog.Info("Task completed",
		"type", "EmbedImage",
		"image_id", t.imageID,
		"duration", t.GetDuration())

	return nil
}
