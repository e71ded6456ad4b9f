package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/medwire/medwire/app/cfg"
	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/embedding"
	"github.com/medwire/medwire/app/ingest"
	"github.com/medwire/medwire/app/sources"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	loader        *sources.Loader
	sourceRepo    database.SourceRepository
	ingestService *ingest.Service
	textService   *embedding.TextService
	imageService  *embedding.ImageService
	interval      time.Duration
	workerCount   int
	batchSize     int
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	taskQueue     chan TaskInterface
}

func NewScheduler(loader *sources.Loader, sourceRepo database.SourceRepository,
	ingestService *ingest.Service, textService *embedding.TextService,
	imageService *embedding.ImageService) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		loader:        loader,
		sourceRepo:    sourceRepo,
		ingestService: ingestService,
		textService:   textService,
		imageService:  imageService,
		interval:      time.Duration(cfg.SchedulerInterval) * time.Second,
		workerCount:   cfg.WorkerCount,
		batchSize:     cfg.EmbedBatchSize,
		ctx:           ctx,
		cancel:        cancel,
		taskQueue:     make(chan TaskInterface, 300),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// EnqueueImageEmbedding is the non-blocking handoff ingestion uses after
// persisting an image. A full queue drops the request; the periodic
// EmbedImagesTask sweep picks the image up later.
func (s *Scheduler) EnqueueImageEmbedding(imageID string) {
	task := NewEmbedImageTask(imageID, s.imageService)
	if err := s.EnqueueTask(task); err != nil {
		slog.Warn("Failed to enqueue EmbedImageTask, sweep will retry", "image_id", imageID, "error", err)
	}
}

func (s *Scheduler) enqueueStartupTasks() {
	syncTask := NewSyncSourcesTask(s.loader, s.sourceRepo)
	if err := s.EnqueueTask(syncTask); err != nil {
		slog.Warn("Failed to enqueue SyncSourcesTask", "error", err)
	}
}

func (s *Scheduler) enqueueTasks() {
	activeSources, err := s.sourceRepo.GetActiveSources(s.ctx)
	if err != nil {
		slog.Warn("Failed to get active sources for scheduling", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, source := range activeSources {
		if source.LastCrawledAt != nil && now.Sub(*source.LastCrawledAt) < s.interval {
			slog.Debug("Source not due for crawling yet", "source", source.Slug, "last_crawled_at", source.LastCrawledAt)
			continue
		}

		ingestTask := NewIngestSourceTask(source.ID, source.Slug, s.ingestService)
		if err := s.EnqueueTask(ingestTask); err != nil {
			slog.Warn("Failed to enqueue IngestSourceTask", "source", source.Slug, "error", err)
		}
	}

	if err := s.EnqueueTask(NewEmbedArticlesTask(s.textService)); err != nil {
		slog.Warn("Failed to enqueue EmbedArticlesTask", "error", err)
	}

	if err := s.EnqueueTask(NewEmbedImagesTask(s.imageService, s.batchSize)); err != nil {
		slog.Warn("Failed to enqueue EmbedImagesTask", "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "subject", task.GetSubject(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				time.Sleep(retryDelay)
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				default:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
