package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/sources"
)

type SyncSourcesTask struct {
	Task
	loader     *sources.Loader
	sourceRepo database.SourceRepository
}

func NewSyncSourcesTask(loader *sources.Loader, sourceRepo database.SourceRepository) *SyncSourcesTask {
	return &SyncSourcesTask{
		Task:       NewTask(TaskTypeSyncSources, "all"),
		loader:     loader,
		sourceRepo: sourceRepo,
	}
}

func (t *SyncSourcesTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := sources.Sync(ctx, t.loader, t.sourceRepo); err != nil {
		slog.Error("Task failed", "type", "SyncSources", "error", err)
		return fmt.Errorf("failed to sync source definitions: %w", err)
	}

	slog.Info("Task completed",
		"type", "SyncSources",
		"duration", t.GetDuration())

	return nil
}
