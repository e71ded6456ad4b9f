package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medwire/medwire/app/ai"
	"github.com/medwire/medwire/app/api"
	"github.com/medwire/medwire/app/cfg"
	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/embedding"
	"github.com/medwire/medwire/app/inference"
	"github.com/medwire/medwire/app/ingest"
	"github.com/medwire/medwire/app/objstore"
	"github.com/medwire/medwire/app/ratelimit"
	"github.com/medwire/medwire/app/sources"
	"github.com/medwire/medwire/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	if appCfg.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	log.Println("Starting MedWire server...")

	log.Println("Connecting to database...")
	db, err := database.NewConnection(
		appCfg.DBHost, appCfg.DBPort, appCfg.DBUser,
		appCfg.DBPassword, appCfg.DBName)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		log.Fatal("Failed to run migrations: ", err)
	}
	log.Printf("Database ready (schema version %d, dirty: %v)", version, dirty)

	// Repositories
	sourceRepo := database.NewSourceRepository(db)
	articleRepo := database.NewArticleRepository(db)
	imageRepo := database.NewImageRepository(db)
	embeddingRepo := database.NewEmbeddingRepository(db)
	usageRepo := database.NewUsageRepository(db)
	logRepo := database.NewIngestLogRepository(db)

	// Source definitions
	log.Printf("Loading source definitions from %s...", appCfg.SourcesDir)
	loader := sources.NewLoader(appCfg.SourcesDir)
	if err := loader.Run(); err != nil {
		log.Fatal("Failed to load source definitions: ", err)
	}
	log.Printf("Loaded %d source definitions", len(loader.GetDefinitions()))

	// Object storage
	storeCtx, cancelStore := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := objstore.New(storeCtx, objstore.Config{
		Endpoint:      appCfg.S3Endpoint,
		AccessKey:     appCfg.S3AccessKey,
		SecretKey:     appCfg.S3SecretKey,
		Bucket:        appCfg.S3Bucket,
		PublicBaseURL: appCfg.S3PublicBaseURL,
	})
	cancelStore()
	if err != nil {
		log.Fatal("Failed to connect to object storage: ", err)
	}
	if store.IsConfigured() {
		log.Println("Object storage connected")
	} else {
		log.Println("Object storage not configured, images kept as inline references")
	}

	// Inference, rate limiting and embedding services
	inferenceClient := inference.NewClient(appCfg.InferenceEndpoint, appCfg.InferenceToken,
		time.Duration(appCfg.InferenceTimeout)*time.Second)

	limiter := ratelimit.NewLimiter(ratelimit.Limits{
		MinuteUnits:  appCfg.MinuteLimit,
		HourUnits:    appCfg.HourLimit,
		DayUnits:     appCfg.DayLimit,
		DailyCostCap: appCfg.DailyCostCap,
		CostPerUnit:  appCfg.CostPerUnit,
	}, usageRepo)

	textService := embedding.NewTextService(embedding.TextOptions{
		Model:      appCfg.TextModel,
		Dimensions: appCfg.TextDimensions,
		BatchLimit: appCfg.EmbedBatchSize,
		BatchDelay: time.Duration(appCfg.EmbedBatchDelay) * time.Second,
	}, inferenceClient, limiter, articleRepo, embeddingRepo)

	imageService := embedding.NewImageService(embedding.ImageOptions{
		Model:      appCfg.ImageModel,
		Dimensions: appCfg.ImageDimensions,
	}, inferenceClient, imageRepo, embeddingRepo)

	processor := ai.NewProcessor(appCfg.ChatModel, inferenceClient, limiter, articleRepo)

	// Ingest orchestration
	ingestService := ingest.NewService(ingest.Options{
		UserAgent:       appCfg.UserAgent,
		ArticleDelay:    time.Duration(appCfg.ArticleVisitDelay) * time.Second,
		ProcessArticles: appCfg.ProcessArticles,
		ProcessingDelay: time.Duration(appCfg.ProcessingDelay) * time.Second,
	}, sourceRepo, articleRepo, imageRepo, logRepo, store, processor, nil)

	// Background scheduler owns the task queue the ingest service hands
	// image embedding requests to.
	log.Printf("Starting background scheduler with %d workers...", appCfg.WorkerCount)
	scheduler := tasks.NewScheduler(loader, sourceRepo, ingestService, textService, imageService)
	ingestService.SetImageQueue(scheduler)
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP server
	log.Println("Initializing HTTP server...")
	apiHandler := api.NewHandler(sourceRepo, loader, textService, imageService,
		ingestService, scheduler, appCfg.Version)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on port %s", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Println("MedWire server started successfully!")

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
	case err := <-serverErrChan:
		log.Printf("Server error: %v", err)
	}

	log.Println("Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	} else {
		log.Println("HTTP server stopped")
	}

	log.Println("MedWire server shutdown complete")
}
