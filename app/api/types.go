package api

import (
	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/embedding"
	"github.com/medwire/medwire/app/ingest"
	"github.com/medwire/medwire/app/sources"
	"github.com/medwire/medwire/app/tasks"
)

type Handler struct {
	sourceRepo    database.SourceRepository
	loader        *sources.Loader
	textService   *embedding.TextService
	imageService  *embedding.ImageService
	ingestService *ingest.Service
	scheduler     tasks.TaskSchedulerInterface
	version       string
}

const (
	defaultSearchLimit     = 10
	defaultSearchThreshold = 0.5
	maxSearchLimit         = 100
)
