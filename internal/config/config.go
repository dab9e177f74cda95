package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// QueueConfig configures job queue policy.
type QueueConfig struct {
	StuckTimeoutMinutes int `yaml:"stuck_timeout_minutes" mapstructure:"stuck_timeout_minutes"`
	MaxAttempts         int `yaml:"max_attempts" mapstructure:"max_attempts"`
	DefaultPriority     int `yaml:"default_priority" mapstructure:"default_priority"`
	RetentionDays       int `yaml:"retention_days" mapstructure:"retention_days"`
}

// StuckTimeout returns the processing age after which a job counts as stuck.
func (c QueueConfig) StuckTimeout() time.Duration {
	return time.Duration(c.StuckTimeoutMinutes) * time.Minute
}

// WorkerConfig configures the extraction worker.
type WorkerConfig struct {
	Concurrency           int `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalSecs      int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	ExtractionTimeoutSecs int `yaml:"extraction_timeout_secs" mapstructure:"extraction_timeout_secs"`
	RequestsPerMinute     int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	RetryInitialBackoffMs int `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
}

// StorageConfig configures document blob storage.
type StorageConfig struct {
	Driver                string `yaml:"driver" mapstructure:"driver"`
	LocalDir              string `yaml:"local_dir" mapstructure:"local_dir"`
	AzureConnectionString string `yaml:"azure_connection_string" mapstructure:"azure_connection_string"`
	AzureContainer        string `yaml:"azure_container" mapstructure:"azure_container"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key              string  `yaml:"key" mapstructure:"key"`
	Model            string  `yaml:"model" mapstructure:"model"`
	MaxTokens        int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxDocumentChars int     `yaml:"max_document_chars" mapstructure:"max_document_chars"`
	InputPerMTok     float64 `yaml:"input_per_mtok" mapstructure:"input_per_mtok"`
	OutputPerMTok    float64 `yaml:"output_per_mtok" mapstructure:"output_per_mtok"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures queue health checks and alerting.
type MonitoringConfig struct {
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewBacklogThreshold int     `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("THERAPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("queue.stuck_timeout_minutes", 60)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.default_priority", 5)
	v.SetDefault("queue.retention_days", 30)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.poll_interval_secs", 5)
	v.SetDefault("worker.extraction_timeout_secs", 600)
	v.SetDefault("worker.requests_per_minute", 30)
	v.SetDefault("worker.retry_initial_backoff_ms", 30000)
	v.SetDefault("worker.retry_max_backoff_ms", 900000)
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_dir", "data/documents")
	v.SetDefault("storage.azure_connection_string", "")
	v.SetDefault("storage.azure_container", "documents")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.max_document_chars", 400000)
	v.SetDefault("anthropic.input_per_mtok", 3.0)
	v.SetDefault("anthropic.output_per_mtok", 15.0)
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.review_backlog_threshold", 50)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks required fields and bounds for the given run mode
// ("serve", "worker", "monitor", or "cli").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Queue.StuckTimeoutMinutes <= 0 {
		errs = append(errs, "queue.stuck_timeout_minutes must be > 0")
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, "queue.max_attempts must be > 0")
	}
	if c.Queue.DefaultPriority < 1 || c.Queue.DefaultPriority > 10 {
		errs = append(errs, "queue.default_priority must be between 1 and 10")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.validateStorage()...)
	case "worker":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 32 {
			errs = append(errs, "worker.concurrency must be between 1 and 32")
		}
		if c.Worker.ExtractionTimeoutSecs <= 0 {
			errs = append(errs, "worker.extraction_timeout_secs must be > 0")
		}
		if c.Worker.PollIntervalSecs <= 0 {
			errs = append(errs, "worker.poll_interval_secs must be > 0")
		}
		errs = append(errs, c.validateStorage()...)
	case "monitor":
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	case "cli":
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStorage() []string {
	switch c.Storage.Driver {
	case "local":
		if c.Storage.LocalDir == "" {
			return []string{"storage.local_dir is required"}
		}
	case "azure":
		var errs []string
		if c.Storage.AzureConnectionString == "" {
			errs = append(errs, "storage.azure_connection_string is required")
		}
		if c.Storage.AzureContainer == "" {
			errs = append(errs, "storage.azure_container is required")
		}
		return errs
	default:
		return []string{fmt.Sprintf("storage.driver %q is not supported", c.Storage.Driver)}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
