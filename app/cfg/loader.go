package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBHost     string `long:"db-host" env:"DB_HOST" default:"localhost" description:"Database host"`
	DBPort     string `long:"db-port" env:"DB_PORT" default:"5432" description:"Database port"`
	DBUser     string `long:"db-user" env:"DB_USER" default:"medwire_user" description:"Database user"`
	DBPassword string `long:"db-password" env:"DB_PASSWORD" default:"medwire_password" description:"Database password (required)" required:"true"`
	DBName     string `long:"db-name" env:"DB_NAME" default:"medwire" description:"Database name"`

	// Inference provider configuration
	InferenceEndpoint string `long:"inference-endpoint" env:"INFERENCE_ENDPOINT" default:"https://api.replicate.com/v1" description:"Base URL of the external model inference provider"`
	InferenceToken    string `long:"inference-token" env:"INFERENCE_TOKEN" description:"API token for the inference provider"`
	InferenceTimeout  int    `long:"inference-timeout" env:"INFERENCE_TIMEOUT" default:"30" description:"Per-call inference timeout in seconds"`
	TextModel         string `long:"text-model" env:"TEXT_EMBEDDING_MODEL" default:"openai/text-embedding-3-small" description:"Model used for article text embeddings"`
	TextDimensions    int    `long:"text-dimensions" env:"TEXT_EMBEDDING_DIMENSIONS" default:"1536" description:"Dimensionality of the text embedding space"`
	ImageModel        string `long:"image-model" env:"IMAGE_EMBEDDING_MODEL" default:"krthr/clip-embeddings" description:"Model used for cross-modal image embeddings"`
	ImageDimensions   int    `long:"image-dimensions" env:"IMAGE_EMBEDDING_DIMENSIONS" default:"768" description:"Dimensionality of the image embedding space"`
	ChatModel         string `long:"chat-model" env:"CHAT_MODEL" default:"anthropic/claude-3.5-sonnet" description:"Model used for article rewriting"`

	// Usage limits for paid inference calls
	MinuteLimit  int64   `long:"minute-limit" env:"USAGE_MINUTE_LIMIT" default:"1000" description:"Maximum inference units per minute"`
	HourLimit    int64   `long:"hour-limit" env:"USAGE_HOUR_LIMIT" default:"10000" description:"Maximum inference units per hour"`
	DayLimit     int64   `long:"day-limit" env:"USAGE_DAY_LIMIT" default:"100000" description:"Maximum inference units per day"`
	DailyCostCap float64 `long:"daily-cost-cap" env:"USAGE_DAILY_COST_CAP" default:"5.0" description:"Maximum estimated daily spend in USD"`
	CostPerUnit  float64 `long:"cost-per-unit" env:"USAGE_COST_PER_UNIT" default:"0.00002" description:"Estimated cost in USD per inference unit"`

	// Object storage configuration
	S3Endpoint      string `long:"s3-endpoint" env:"S3_ENDPOINT" description:"Object storage endpoint (leave empty to disable permanent image storage)"`
	S3AccessKey     string `long:"s3-access-key" env:"S3_ACCESS_KEY" description:"Object storage access key"`
	S3SecretKey     string `long:"s3-secret-key" env:"S3_SECRET_KEY" description:"Object storage secret key"`
	S3Bucket        string `long:"s3-bucket" env:"S3_BUCKET" default:"medwire-media" description:"Object storage bucket for article images"`
	S3PublicBaseURL string `long:"s3-public-base-url" env:"S3_PUBLIC_BASE_URL" description:"Public base URL for stored objects"`

	// Application configuration
	SourcesDir        string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source definition files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for ingest and embedding tasks"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Scheduler interval in seconds"`
	ProcessArticles   bool   `long:"process-articles" env:"PROCESS_ARTICLES" description:"Send newly ingested articles to the AI processing step"`
	ProcessingDelay   int    `long:"processing-delay" env:"PROCESSING_DELAY" default:"5" description:"Delay in seconds between sequential article processing calls"`
	EmbedBatchDelay   int    `long:"embed-batch-delay" env:"EMBED_BATCH_DELAY" default:"1" description:"Delay in seconds between batch embedding calls"`
	EmbedBatchSize    int    `long:"embed-batch-size" env:"EMBED_BATCH_SIZE" default:"20" description:"Maximum articles or images embedded per batch run"`
	ArticleVisitDelay int    `long:"article-visit-delay" env:"ARTICLE_VISIT_DELAY" default:"2" description:"Delay in seconds between per-article page visits"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Medwire/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Europe/Moscow)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBHost:            raw.DBHost,
		DBPort:            raw.DBPort,
		DBUser:            raw.DBUser,
		DBPassword:        raw.DBPassword,
		DBName:            raw.DBName,
		InferenceEndpoint: raw.InferenceEndpoint,
		InferenceToken:    raw.InferenceToken,
		InferenceTimeout:  raw.InferenceTimeout,
		TextModel:         raw.TextModel,
		TextDimensions:    raw.TextDimensions,
		ImageModel:        raw.ImageModel,
		ImageDimensions:   raw.ImageDimensions,
		ChatModel:         raw.ChatModel,
		MinuteLimit:       raw.MinuteLimit,
		HourLimit:         raw.HourLimit,
		DayLimit:          raw.DayLimit,
		DailyCostCap:      raw.DailyCostCap,
		CostPerUnit:       raw.CostPerUnit,
		S3Endpoint:        raw.S3Endpoint,
		S3AccessKey:       raw.S3AccessKey,
		S3SecretKey:       raw.S3SecretKey,
		S3Bucket:          raw.S3Bucket,
		S3PublicBaseURL:   raw.S3PublicBaseURL,
		SourcesDir:        raw.SourcesDir,
		Port:              raw.Port,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		ProcessArticles:   raw.ProcessArticles,
		ProcessingDelay:   raw.ProcessingDelay,
		EmbedBatchDelay:   raw.EmbedBatchDelay,
		EmbedBatchSize:    raw.EmbedBatchSize,
		ArticleVisitDelay: raw.ArticleVisitDelay,
		APIAccessKey:      raw.APIAccessKey,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
