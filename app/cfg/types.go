package cfg

type Cfg struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Inference provider configuration
	InferenceEndpoint string
	InferenceToken    string
	InferenceTimeout  int
	TextModel         string
	TextDimensions    int
	ImageModel        string
	ImageDimensions   int
	ChatModel         string

	// Usage limits for paid inference calls
	MinuteLimit  int64
	HourLimit    int64
	DayLimit     int64
	DailyCostCap float64
	CostPerUnit  float64

	// Object storage configuration
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string

	// Application configuration
	SourcesDir        string
	Port              string
	WorkerCount       int
	SchedulerInterval int
	ProcessArticles   bool
	ProcessingDelay   int
	EmbedBatchDelay   int
	EmbedBatchSize    int
	ArticleVisitDelay int
	APIAccessKey      string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
