package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	DB DBConfig

	// Trigger surface. An empty secret disables the trigger routes.
	TriggerSecret   string `env:"TRIGGER_SECRET"`
	PlannerSchedule string `env:"PLANNER_SCHEDULE"`
	WorkerSchedule  string `env:"WORKER_SCHEDULE"`

	Worker     WorkerConfig
	Publishing PublishingConfig
	Languages  LanguageConfig
	Planner    PlannerConfig

	Gemini     GeminiConfig
	CMS        CMSConfig
	Webhook    WebhookConfig
	S3         S3Config
	OpenSearch OpenSearchConfig
	Redis      RedisConfig
	Postmark   PostmarkConfig

	// Rate limiting: maximum adapter calls per second per auxiliary channel
	ChannelRateLimit int `env:"CHANNEL_RATE_LIMIT" envDefault:"5"`
}

// DBConfig tunes the pgx pool, startup retries and migrations.
type DBConfig struct {
	URL               string        `env:"DATABASE_URL,required,notEmpty"`
	MaxConns          int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns          int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	HealthCheckPeriod time.Duration `env:"DB_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`

	// The database often starts alongside the service; connecting is
	// retried with a linearly growing pause.
	ConnectAttempts int           `env:"DB_CONNECT_ATTEMPTS" envDefault:"5"`
	ConnectBackoff  time.Duration `env:"DB_CONNECT_BACKOFF" envDefault:"2s"`

	MigrationsPath  string `env:"MIGRATIONS_PATH" envDefault:"file://migrations"`
	MigrationsTable string `env:"MIGRATIONS_TABLE" envDefault:"schema_migrations"`
}

// WorkerConfig bounds a batch run and drives retry policy.
type WorkerConfig struct {
	BatchSize        int           `env:"WORKER_BATCH_SIZE" envDefault:"5"`
	TimeBudget       time.Duration `env:"WORKER_TIME_BUDGET" envDefault:"4m"`
	MaxExecutionTime time.Duration `env:"WORKER_MAX_EXECUTION_TIME" envDefault:"9m"`
	Concurrency      int           `env:"WORKER_CONCURRENCY" envDefault:"1"`
	LockTTL          time.Duration `env:"LOCK_TTL" envDefault:"15m"`
	MaxAttempts      int           `env:"MAX_ATTEMPTS" envDefault:"3"`

	// Retry backoff durations: index 0 = first retry delay, etc.
	RetryBackoff []time.Duration `env:"RETRY_BACKOFF" envSeparator:"," envDefault:"5m,15m,1h"`
}

// PublishingConfig controls the quality gate and the distribution fan-out.
type PublishingConfig struct {
	AutoPublish          bool          `env:"AUTO_PUBLISH" envDefault:"false"`
	AutoPublishThreshold int           `env:"AUTO_PUBLISH_THRESHOLD" envDefault:"75"`
	DistributionChannels []string      `env:"DISTRIBUTION_CHANNELS" envSeparator:","`
	ReviewNotifyTimeout  time.Duration `env:"REVIEW_NOTIFY_TIMEOUT" envDefault:"10s"`
}

// LanguageConfig carries the operator and host language settings consumed by
// the language resolver.
type LanguageConfig struct {
	Default   LanguageList `env:"DEFAULT_LANGUAGES"`
	Supported LanguageList `env:"SUPPORTED_LANGUAGES"`

	// HostLanguages is the active multilingual configuration of the
	// publishing host. Empty means no multilingual setup is active.
	HostLanguages LanguageList `env:"HOST_LANGUAGES"`
	HostLocale    string       `env:"HOST_LOCALE"`
}

// PlannerConfig holds planning inputs that are not per-context.
type PlannerConfig struct {
	Timezone     string `env:"PLANNER_TIMEZONE" envDefault:"UTC"`
	ContextsFile string `env:"CONTEXTS_FILE"`
	PoliciesFile string `env:"POLICIES_FILE"`
}

// Location resolves Timezone, falling back to UTC.
func (p PlannerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type GeminiConfig struct {
	APIKey       string        `env:"GEMINI_API_KEY"`
	Model        string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	CostPerToken float64       `env:"GEMINI_COST_PER_TOKEN" envDefault:"0.0000004"`
	Timeout      time.Duration `env:"GEMINI_TIMEOUT" envDefault:"2m"`
}

type CMSConfig struct {
	BaseURL string        `env:"CMS_BASE_URL"`
	Token   string        `env:"CMS_TOKEN"`
	Timeout time.Duration `env:"CMS_TIMEOUT" envDefault:"30s"`
}

type WebhookConfig struct {
	URL     string        `env:"WEBHOOK_URL"`
	Secret  string        `env:"WEBHOOK_SECRET"`
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
}

type S3Config struct {
	Bucket         string `env:"S3_BUCKET"`
	Region         string `env:"S3_REGION"`
	AccessKeyID    string `env:"S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"S3_SECRET_KEY"`
	Endpoint       string `env:"S3_ENDPOINT"`
	Prefix         string `env:"S3_PREFIX" envDefault:"distribution/"`
	ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`
}

type OpenSearchConfig struct {
	Addresses []string `env:"OPENSEARCH_ADDRESSES" envSeparator:","`
	Username  string   `env:"OPENSEARCH_USERNAME"`
	Password  string   `env:"OPENSEARCH_PASSWORD"`
	Index     string   `env:"OPENSEARCH_INDEX" envDefault:"content"`
}

type RedisConfig struct {
	URL    string `env:"REDIS_URL"`
	Stream string `env:"REDIS_STREAM" envDefault:"content:published"`
	MaxLen int64  `env:"REDIS_STREAM_MAXLEN" envDefault:"10000"`
}

type PostmarkConfig struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	From         string `env:"REVIEW_NOTIFY_FROM"`
	To           string `env:"REVIEW_NOTIFY_TO"`
}

// Load reads an optional .env file and parses the environment into Config.
func Load() (*Config, error) {
	// A missing .env file is fine; real deployments use the process environment.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	w := c.Worker
	switch {
	case w.BatchSize <= 0:
		return fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	case w.Concurrency <= 0:
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	case w.MaxAttempts <= 0:
		return fmt.Errorf("MAX_ATTEMPTS must be positive")
	case w.TimeBudget <= 0 || w.MaxExecutionTime <= 0:
		return fmt.Errorf("worker time limits must be positive")
	case w.TimeBudget > w.MaxExecutionTime:
		return fmt.Errorf("WORKER_TIME_BUDGET (%s) exceeds WORKER_MAX_EXECUTION_TIME (%s)", w.TimeBudget, w.MaxExecutionTime)
	case len(w.RetryBackoff) == 0:
		return fmt.Errorf("RETRY_BACKOFF needs at least one duration")
	}
	if t := c.Publishing.AutoPublishThreshold; t < 0 || t > 100 {
		return fmt.Errorf("AUTO_PUBLISH_THRESHOLD must be within 0..100, got %d", t)
	}
	return nil
}
