package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medwire/medwire/app/ingest"
)

type IngestSourceTask struct {
	Task
	sourceID      string
	ingestService *ingest.Service
}

func NewIngestSourceTask(sourceID, sourceSlug string, ingestService *ingest.Service) *IngestSourceTask {
	return &IngestSourceTask{
		Task:          NewTask(TaskTypeIngestSource, sourceSlug),
		sourceID:      sourceID,
		ingestService: ingestService,
	}
}

func (t *IngestSourceTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.ingestService.IngestSource(ctx, t.sourceID)
	if err != nil {
		slog.Error("Task failed", "type", "IngestSource", "source", t.Subject, "error", err)
		return fmt.Errorf("failed to ingest source: %w", err)
	}

	slog.Info("Task completed",
		"type", "IngestSource",
		"source", t.Subject,
		"duration", t.GetDuration(),
		"fetched", result.Fetched,
		"new", result.New,
		"duplicates", result.Duplicates,
		"errors", result.Errors)

	return nil
}
