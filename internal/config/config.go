package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds all application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Archive   ArchiveConfig   `yaml:"archive" mapstructure:"archive"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the persistence layer.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// AnthropicConfig configures the language-model extractor. An empty Key
// disables it and documents are processed with patterns only.
type AnthropicConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Model          string  `yaml:"model" mapstructure:"model"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature    float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPromptChars int     `yaml:"max_prompt_chars" mapstructure:"max_prompt_chars"`
}

// ExtractConfig configures PDF text extraction.
type ExtractConfig struct {
	MaxFileBytes           int64   `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
	PdfToTextPath          string  `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	UsePdfToText           bool    `yaml:"use_pdftotext" mapstructure:"use_pdftotext"`
	TempDir                string  `yaml:"temp_dir" mapstructure:"temp_dir"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold"`
}

// ArchiveConfig configures where source PDFs are kept.
type ArchiveConfig struct {
	Driver   string      `yaml:"driver" mapstructure:"driver"` // "none", "local", or "minio"
	LocalDir string      `yaml:"local_dir" mapstructure:"local_dir"`
	Minio    MinioConfig `yaml:"minio" mapstructure:"minio"`
}

// MinioConfig configures an S3-compatible object store.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// BatchConfig configures multi-document runs.
type BatchConfig struct {
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	RetryAttempts   int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// PricingConfig holds per-model token prices in USD per million tokens.
type PricingConfig struct {
	Anthropic map[string]ModelPrice `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPrice is the input and output price of one model.
type ModelPrice struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// AIEnabled reports whether a model key is configured.
func (c *Config) AIEnabled() bool {
	return c.Anthropic.Key != ""
}

// Load reads configuration from an optional .env file, an optional
// config.yaml and the environment.
func Load() (*Config, error) {
	// Variables already exported win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONTRACTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "contracts.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2000)
	v.SetDefault("anthropic.temperature", 0.1)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.max_prompt_chars", 8000)
	v.SetDefault("extract.max_file_bytes", 10*1024*1024)
	v.SetDefault("extract.pdftotext_path", "pdftotext")
	v.SetDefault("extract.use_pdftotext", false)
	v.SetDefault("extract.temp_dir", "")
	v.SetDefault("extract.low_confidence_threshold", 60.0)
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("archive.minio.bucket", "contracts")
	v.SetDefault("archive.minio.endpoint", "")
	v.SetDefault("archive.minio.access_key", "")
	v.SetDefault("archive.minio.secret_key", "")
	v.SetDefault("archive.minio.use_ssl", false)
	v.SetDefault("batch.concurrency", 1)
	v.SetDefault("batch.rate_limit_per_sec", 0.0)
	v.SetDefault("batch.retry_attempts", 1)
	v.SetDefault("pricing.anthropic", map[string]any{
		"claude-haiku-4-5-20251001":  map[string]any{"input": 1.00, "output": 5.00},
		"claude-sonnet-4-5-20250929": map[string]any{"input": 3.00, "output": 15.00},
		"claude-opus-4-6":            map[string]any{"input": 15.00, "output": 75.00},
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

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

// Validate checks the settings a command mode depends on. Modes are
// "process", "serve" and "store".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if mode == "process" || mode == "serve" {
		if c.Extract.MaxFileBytes <= 0 {
			problems = append(problems, "extract.max_file_bytes must be positive")
		}
		if c.Anthropic.Key != "" {
			if c.Anthropic.Model == "" {
				problems = append(problems, "anthropic.model is required when anthropic.key is set")
			}
			if c.Anthropic.TimeoutSecs <= 0 {
				problems = append(problems, "anthropic.timeout_secs must be positive")
			}
		}
		switch c.Archive.Driver {
		case "", "none", "local":
		case "minio":
			if c.Archive.Minio.Endpoint == "" {
				problems = append(problems, "archive.minio.endpoint is required for the minio driver")
			}
			if c.Archive.Minio.Bucket == "" {
				problems = append(problems, "archive.minio.bucket is required for the minio driver")
			}
		default:
			problems = append(problems, "archive.driver must be none, local or minio")
		}
		if c.Batch.Concurrency < 1 {
			problems = append(problems, "batch.concurrency must be at least 1")
		}
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
