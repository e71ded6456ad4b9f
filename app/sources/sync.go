package sources

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medwire/medwire/app/database"
)

// Sync upserts every loaded definition into the sources table, keyed by
// slug. Database-only fields such as last_crawled_at are left alone, so
// re-running sync never disturbs crawl state.
func Sync(ctx context.Context, loader *Loader, repo database.SourceRepository) error {
	definitions := loader.GetDefinitions()

	for slug, definition := range definitions {
		configJSON, err := definition.AdapterConfigJSON()
		if err != nil {
			return fmt.Errorf("failed to serialize adapter config for %s: %w", slug, err)
		}

		id, err := repo.UpsertSource(ctx, database.Source{
			Slug:          slug,
			Name:          definition.Name,
			URL:           definition.URL,
			AdapterKind:   definition.Kind,
			AdapterConfig: configJSON,
			IsActive:      definition.Active,
		})
		if err != nil {
			return fmt.Errorf("failed to sync source %s: %w", slug, err)
		}

		slog.Debug("Source synced", "source", slug, "id", id)
	}

	slog.Info("Source definitions synced", "count", len(definitions))
	return nil
}
