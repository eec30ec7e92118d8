// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// Target platform for account selection and download naming.
	Platform string `env:"PLATFORM" envDefault:"pixverse"`

	// Filesystem layout
	DataDir      string `env:"DATA_DIR" envDefault:"data"`
	DBPath       string `env:"DB_PATH" envDefault:"data/db/pipeline.db"`
	UploadsDir   string `env:"UPLOADS_DIR" envDefault:"data/uploads"`
	DownloadsDir string `env:"DOWNLOADS_DIR" envDefault:"data/downloads"`

	// Remote video-generation API
	VideoAPIBaseURL string        `env:"VIDEO_API_BASE_URL" envDefault:"https://api.example.com"`
	VideoAPITimeout time.Duration `env:"VIDEO_API_TIMEOUT" envDefault:"60s"`
	WatermarkAPIURL string        `env:"WATERMARK_API_URL"`

	// Account password sealing key (32 bytes, hex or raw). Empty disables
	// encryption (dev only).
	AccountSecretKey string `env:"ACCOUNT_SECRET_KEY"`

	// Optional Redis for the submit rate limiter; empty disables it.
	RedisURL         string `env:"REDIS_URL"`
	SubmitRatePerMin int    `env:"SUBMIT_RATE_PER_MIN" envDefault:"30"`

	// TaskBus queue capacities
	GenerateQueueSize int `env:"GENERATE_QUEUE_SIZE" envDefault:"64"`
	PollQueueSize     int `env:"POLL_QUEUE_SIZE" envDefault:"256"`
	DownloadQueueSize int `env:"DOWNLOAD_QUEUE_SIZE" envDefault:"32"`

	// Worker fleet sizes
	GeneratorWorkers  int `env:"GENERATOR_WORKERS" envDefault:"20"`
	PollerWorkers     int `env:"POLLER_WORKERS" envDefault:"20"`
	DownloaderWorkers int `env:"DOWNLOADER_WORKERS" envDefault:"5"`

	// Retry / poll policy
	MaxRetryCount       int           `env:"MAX_RETRY_COUNT" envDefault:"5"`
	MaxTransientRetries int           `env:"MAX_TRANSIENT_RETRIES" envDefault:"3"`
	MaxNoAccountRetries int           `env:"MAX_NO_ACCOUNT_RETRIES" envDefault:"3"`
	MaxPollCount        int           `env:"MAX_POLL_COUNT" envDefault:"60"`
	PollWaitTimeout     time.Duration `env:"POLL_WAIT_TIMEOUT" envDefault:"30s"`
	PollSleepMin        time.Duration `env:"POLL_SLEEP_MIN" envDefault:"15s"`
	PollSleepMax        time.Duration `env:"POLL_SLEEP_MAX" envDefault:"30s"`
	NoAccountSleep      time.Duration `env:"NO_ACCOUNT_SLEEP" envDefault:"10s"`
	HeavyLoadSleep      time.Duration `env:"HEAVY_LOAD_SLEEP" envDefault:"15s"`
	AccountSwitchSleep  time.Duration `env:"ACCOUNT_SWITCH_SLEEP" envDefault:"5s"`
	TransientSleep      time.Duration `env:"TRANSIENT_SLEEP" envDefault:"10s"`

	// Maintenance
	StaleJobCutoff       time.Duration `env:"STALE_JOB_CUTOFF" envDefault:"15m"`
	StaleSweepInterval   time.Duration `env:"STALE_SWEEP_INTERVAL" envDefault:"5m"`
	CreditsRefreshEvery  time.Duration `env:"CREDITS_REFRESH_EVERY" envDefault:"30m"`
	MinDownloadBytes     int64         `env:"MIN_DOWNLOAD_BYTES" envDefault:"10000"`
	WorkerShutdownGrace  time.Duration `env:"WORKER_SHUTDOWN_GRACE" envDefault:"30s"`

	// HTTP server
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	MaxUploadMB           int64         `env:"MAX_UPLOAD_MB" envDefault:"10"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Observability
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-video-pipeline"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
