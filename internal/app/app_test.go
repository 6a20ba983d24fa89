package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-pipeline/internal/config"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/extract"
	"github.com/dvloznov/statement-pipeline/internal/infra/memory"
	"github.com/dvloznov/statement-pipeline/internal/pipeline"
)

func TestOpenSink(t *testing.T) {
	cfg := &config.Config{Sink: config.SinkConfig{Kind: config.SinkMemory}}
	sink, err := OpenSink(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &memory.Sink{}, sink)

	cfg.Sink.Kind = "s3"
	sink, err = OpenSink(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, sink)

	cfg.Sink.Kind = config.SinkPostgres
	sink, err = OpenSink(context.Background(), cfg)
	assert.Error(t, err, "empty dsn")
	assert.Nil(t, sink)
}

// slowExtractor blocks until its context is done.
type slowExtractor struct{}

func (slowExtractor) Extract(ctx context.Context, _ extract.Document) (domain.Batch, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProcess_RequestTimeout(t *testing.T) {
	d, err := pipeline.NewDriver(pipeline.Deps{Extractor: slowExtractor{}, Sink: memory.NewSink()})
	require.NoError(t, err)
	a := &App{Driver: d, requestTimeout: 20 * time.Millisecond, log: zerolog.Nop()}

	path := filepath.Join(t.TempDir(), "s.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,amount\n2024-01-01,1\n"), 0o600))

	state, err := a.Process(context.Background(), pipeline.Input{FilePath: path})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.StatusFailed, state.Status)
}

func TestClose_PartialApp(t *testing.T) {
	a := &App{Sink: memory.NewSink(), OCR: NewOCRClient(&config.Config{}), log: zerolog.Nop()}
	assert.NoError(t, a.Close())
	assert.NoError(t, (&App{log: zerolog.Nop()}).Close())
}
