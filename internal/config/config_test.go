package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-pipeline/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, SinkMemory, cfg.Sink.Kind)
	assert.Equal(t, 60*time.Second, Duration(cfg.OCR.Timeout))
	assert.True(t, cfg.CategorizeEnabled())
	assert.Equal(t, 5, *cfg.Categorize.MaxSearchCalls)
	assert.Equal(t, 3, *cfg.Jobs.MaxRetries)
	assert.Equal(t, domain.DefaultCurrency, cfg.Categorize.Currency)
	assert.Len(t, cfg.Categories, len(domain.DefaultCategories()))
	assert.True(t, cfg.CategorySet().Contains(domain.OtherCategory))
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
ocr:
  url: http://ocr:8866
  result_paths: ["$.data.texts"]
categorize:
  enabled: false
  max_search_calls: 0
sink:
  kind: postgres
  postgres:
    dsn: postgres://u:p@db/statements
jobs:
  max_retries: 0
categories:
  - name: Groceries
    description: Supermarkets
  - name: Rent
    description: Housing
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://ocr:8866", cfg.OCR.URL)
	assert.Equal(t, []string{"$.data.texts"}, cfg.OCR.ResultPaths)
	assert.False(t, cfg.CategorizeEnabled())
	assert.Equal(t, 0, *cfg.Categorize.MaxSearchCalls)
	assert.Equal(t, 0, *cfg.Jobs.MaxRetries)
	assert.Equal(t, SinkPostgres, cfg.Sink.Kind)

	set := cfg.CategorySet()
	assert.True(t, set.Contains("Groceries"))
	assert.True(t, set.Contains(domain.OtherCategory))
	assert.False(t, set.Contains("Food"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvPort, "7000")
	t.Setenv(EnvOCRURL, "http://env-ocr")
	t.Setenv(EnvSink, SinkBigQuery)
	t.Setenv(EnvBQProject, "proj")
	t.Setenv(EnvCategorize, "false")
	t.Setenv(EnvJobMaxRetries, "1")
	t.Setenv(EnvBucket, "archive")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "http://env-ocr", cfg.OCR.URL)
	assert.Equal(t, SinkBigQuery, cfg.Sink.Kind)
	assert.Equal(t, "proj", cfg.Sink.BigQuery.Project)
	assert.False(t, cfg.CategorizeEnabled())
	assert.Equal(t, 1, *cfg.Jobs.MaxRetries)
	assert.Equal(t, "archive", cfg.Storage.Bucket)
}

func TestFinalize_Validation(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{"bad duration", "ocr:\n  timeout: soon\n", "ocr.timeout"},
		{"unknown sink", "sink:\n  kind: s3\n", "unknown sink.kind"},
		{"bigquery without project", "sink:\n  kind: bigquery\n", "sink.bigquery.project"},
		{"postgres without dsn", "sink:\n  kind: postgres\n", "sink.postgres.dsn"},
		{"negative search budget", "categorize:\n  max_search_calls: -1\n", "max_search_calls"},
		{"duplicate category", "categories:\n  - name: Food\n  - name: food\n", "duplicate category"},
		{"empty category", "categories:\n  - name: ' '\n", "empty category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			err = cfg.Finalize()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("sink:\n  knd: memory\n"))
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Finalize())
}
