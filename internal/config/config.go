// Package config loads service and CLI configuration from an optional YAML
// file, applies environment overrides and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dvloznov/statement-pipeline/internal/domain"
)

const (
	EnvConfigPath = "STATEMENTS_CONFIG"

	EnvPort           = "STATEMENTS_PORT"
	EnvAPIKey         = "STATEMENTS_API_KEY"
	EnvOCRURL         = "STATEMENTS_OCR_URL"
	EnvOCRTimeout     = "STATEMENTS_OCR_TIMEOUT"
	EnvLLMModel       = "STATEMENTS_LLM_MODEL"
	EnvLLMTimeout     = "STATEMENTS_LLM_TIMEOUT"
	EnvCategorize     = "STATEMENTS_CATEGORIZE"
	EnvMaxSearchCalls = "STATEMENTS_MAX_SEARCH_CALLS"
	EnvSink           = "STATEMENTS_SINK"
	EnvBQProject      = "STATEMENTS_BQ_PROJECT"
	EnvBQDataset      = "STATEMENTS_BQ_DATASET"
	EnvBQTable        = "STATEMENTS_BQ_TABLE"
	EnvPGDSN          = "STATEMENTS_PG_DSN"
	EnvBucket         = "GCS_BUCKET"
	EnvJobWorkers     = "STATEMENTS_JOB_WORKERS"
	EnvJobMaxRetries  = "STATEMENTS_JOB_MAX_RETRIES"
	EnvLogLevel       = "STATEMENTS_LOG_LEVEL"
	EnvLogFormat      = "STATEMENTS_LOG_FORMAT"
)

// Sink kinds.
const (
	SinkMemory   = "memory"
	SinkBigQuery = "bigquery"
	SinkPostgres = "postgres"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	OCR        OCRConfig         `yaml:"ocr"`
	LLM        LLMConfig         `yaml:"llm"`
	Categorize CategorizeConfig  `yaml:"categorize"`
	Sink       SinkConfig        `yaml:"sink"`
	Storage    StorageConfig     `yaml:"storage"`
	Jobs       JobsConfig        `yaml:"jobs"`
	Log        LogConfig         `yaml:"log"`
	Categories []domain.Category `yaml:"categories"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int    `yaml:"port"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	// RequestTimeout bounds one synchronous pipeline invocation.
	RequestTimeout string `yaml:"request_timeout"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	APIKey         string `yaml:"api_key"`
}

// OCRConfig points at the OCR service.
type OCRConfig struct {
	URL         string   `yaml:"url"`
	Timeout     string   `yaml:"timeout"`
	ResultPaths []string `yaml:"result_paths"`
}

// LLMConfig configures the Gemini oracle.
type LLMConfig struct {
	Model       string   `yaml:"model"`
	Timeout     string   `yaml:"timeout"`
	Temperature *float32 `yaml:"temperature"`
	MaxTurns    int      `yaml:"max_turns"`
}

// CategorizeConfig configures the categorization stage.
type CategorizeConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	MaxSearchCalls *int   `yaml:"max_search_calls"`
	Currency       string `yaml:"currency"`
}

// SinkConfig selects and configures persistence.
type SinkConfig struct {
	Kind     string         `yaml:"kind"`
	Timeout  string         `yaml:"timeout"`
	BigQuery BigQueryConfig `yaml:"bigquery"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// BigQueryConfig names the transactions table.
type BigQueryConfig struct {
	Project     string `yaml:"project"`
	Dataset     string `yaml:"dataset"`
	Table       string `yaml:"table"`
	CreateTable bool   `yaml:"create_table"`
}

// PostgresConfig holds the connection string and pool size.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// StorageConfig configures statement archival.
type StorageConfig struct {
	Bucket string `yaml:"bucket"`
}

// JobsConfig sizes the async queue.
type JobsConfig struct {
	Buffer       int    `yaml:"buffer"`
	Workers      int    `yaml:"workers"`
	MaxRetries   *int   `yaml:"max_retries"`
	RetryBackoff string `yaml:"retry_backoff"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path (or $STATEMENTS_CONFIG) when set and finalizes the result.
// With no file, defaults and environment variables provide everything.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML without finalizing. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize() error {
	c.loadDefaults()
	if err := c.loadEnv(); err != nil {
		return err
	}
	return c.validate()
}

func (c *Config) loadDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	setDefault(&c.Server.ReadTimeout, "30s")
	setDefault(&c.Server.WriteTimeout, "5m")
	setDefault(&c.Server.ShutdownTimeout, "30s")
	setDefault(&c.Server.RequestTimeout, "5m")
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 32 << 20
	}

	setDefault(&c.OCR.URL, "http://localhost:8866")
	setDefault(&c.OCR.Timeout, "60s")

	setDefault(&c.LLM.Model, "gemini-2.5-flash")
	setDefault(&c.LLM.Timeout, "2m")
	if c.LLM.MaxTurns == 0 {
		c.LLM.MaxTurns = 8
	}

	if c.Categorize.Enabled == nil {
		enabled := true
		c.Categorize.Enabled = &enabled
	}
	if c.Categorize.MaxSearchCalls == nil {
		n := 5
		c.Categorize.MaxSearchCalls = &n
	}
	setDefault(&c.Categorize.Currency, domain.DefaultCurrency)

	setDefault(&c.Sink.Kind, SinkMemory)
	setDefault(&c.Sink.Timeout, "30s")
	setDefault(&c.Sink.BigQuery.Dataset, "finance")
	setDefault(&c.Sink.BigQuery.Table, "transactions")

	if c.Jobs.Buffer == 0 {
		c.Jobs.Buffer = 100
	}
	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = 4
	}
	if c.Jobs.MaxRetries == nil {
		n := 3
		c.Jobs.MaxRetries = &n
	}
	setDefault(&c.Jobs.RetryBackoff, "2s")

	setDefault(&c.Log.Level, "info")
	setDefault(&c.Log.Format, "console")

	if len(c.Categories) == 0 {
		c.Categories = domain.DefaultCategories()
	}
}

func (c *Config) loadEnv() error {
	setFromEnv(&c.Server.APIKey, EnvAPIKey)
	setFromEnv(&c.OCR.URL, EnvOCRURL)
	setFromEnv(&c.OCR.Timeout, EnvOCRTimeout)
	setFromEnv(&c.LLM.Model, EnvLLMModel)
	setFromEnv(&c.LLM.Timeout, EnvLLMTimeout)
	setFromEnv(&c.Sink.Kind, EnvSink)
	setFromEnv(&c.Sink.BigQuery.Project, EnvBQProject)
	setFromEnv(&c.Sink.BigQuery.Dataset, EnvBQDataset)
	setFromEnv(&c.Sink.BigQuery.Table, EnvBQTable)
	setFromEnv(&c.Sink.Postgres.DSN, EnvPGDSN)
	setFromEnv(&c.Storage.Bucket, EnvBucket)
	setFromEnv(&c.Log.Level, EnvLogLevel)
	setFromEnv(&c.Log.Format, EnvLogFormat)

	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv(EnvCategorize); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCategorize, err)
		}
		c.Categorize.Enabled = &enabled
	}
	if v := os.Getenv(EnvMaxSearchCalls); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxSearchCalls, err)
		}
		c.Categorize.MaxSearchCalls = &n
	}
	if v := os.Getenv(EnvJobWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvJobWorkers, err)
		}
		c.Jobs.Workers = n
	}
	if v := os.Getenv(EnvJobMaxRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvJobMaxRetries, err)
		}
		c.Jobs.MaxRetries = &n
	}
	return nil
}

func (c *Config) validate() error {
	durations := map[string]string{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"server.request_timeout":  c.Server.RequestTimeout,
		"ocr.timeout":             c.OCR.Timeout,
		"llm.timeout":             c.LLM.Timeout,
		"sink.timeout":            c.Sink.Timeout,
		"jobs.retry_backoff":      c.Jobs.RetryBackoff,
	}
	for name, v := range durations {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", name)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if *c.Categorize.MaxSearchCalls < 0 {
		return fmt.Errorf("categorize.max_search_calls must not be negative")
	}
	if *c.Jobs.MaxRetries < 0 {
		return fmt.Errorf("jobs.max_retries must not be negative")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be positive")
	}

	switch c.Sink.Kind {
	case SinkMemory:
	case SinkBigQuery:
		if c.Sink.BigQuery.Project == "" {
			return fmt.Errorf("sink.bigquery.project is required for the bigquery sink")
		}
	case SinkPostgres:
		if c.Sink.Postgres.DSN == "" {
			return fmt.Errorf("sink.postgres.dsn is required for the postgres sink")
		}
	default:
		return fmt.Errorf("unknown sink.kind %q", c.Sink.Kind)
	}

	seen := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			return fmt.Errorf("categories: empty category name")
		}
		key := strings.ToUpper(name)
		if seen[key] {
			return fmt.Errorf("categories: duplicate category %q", name)
		}
		seen[key] = true
	}
	return nil
}

// CategorySet returns the configured categories with Other always present.
func (c *Config) CategorySet() domain.CategorySet {
	return domain.NewCategorySet(c.Categories)
}

// CategorizeEnabled reports whether the categorization stage runs.
func (c *Config) CategorizeEnabled() bool {
	return c.Categorize.Enabled == nil || *c.Categorize.Enabled
}

// Duration parses a validated duration field.
func Duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setFromEnv(field *string, key string) {
	if v := os.Getenv(key); v != "" {
		*field = v
	}
}
