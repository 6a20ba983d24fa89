// Package app builds the process-scoped clients and the pipeline driver from
// configuration. Both binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvloznov/statement-pipeline/internal/categorize"
	"github.com/dvloznov/statement-pipeline/internal/config"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/extract"
	"github.com/dvloznov/statement-pipeline/internal/gcsuploader"
	infraBQ "github.com/dvloznov/statement-pipeline/internal/infra/bigquery"
	"github.com/dvloznov/statement-pipeline/internal/infra/memory"
	"github.com/dvloznov/statement-pipeline/internal/infra/postgres"
	"github.com/dvloznov/statement-pipeline/internal/ocr"
	"github.com/dvloznov/statement-pipeline/internal/oracle"
	"github.com/dvloznov/statement-pipeline/internal/pipeline"
)

// App holds every long-lived client. Create it once at start-up and Close it
// at shutdown.
type App struct {
	Config     *config.Config
	Categories domain.CategorySet
	OCR        *ocr.Client
	GenAI      *genai.Client
	Sink       domain.Sink
	// Uploader is nil when no bucket is configured.
	Uploader *gcsuploader.Uploader
	Driver   *pipeline.Driver

	requestTimeout time.Duration
	log            zerolog.Logger
}

// New builds the App. On error everything created so far is released.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{
		Config:         cfg,
		Categories:     cfg.CategorySet(),
		requestTimeout: config.Duration(cfg.Server.RequestTimeout),
		log:            log,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.OCR = NewOCRClient(cfg)

	a.GenAI, err = oracle.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	a.Sink, err = OpenSink(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.Bucket != "" {
		a.Uploader, err = gcsuploader.NewUploader(ctx, cfg.Storage.Bucket)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn().Msg("No GCS bucket configured - statement archival is disabled")
	}

	gemini := oracle.NewGemini(a.GenAI, oracle.GeminiConfig{
		Model:       cfg.LLM.Model,
		Timeout:     config.Duration(cfg.LLM.Timeout),
		Temperature: cfg.LLM.Temperature,
		MaxTurns:    cfg.LLM.MaxTurns,
	})

	deps := pipeline.Deps{
		OCR:         a.OCR,
		Extractor:   extract.New(gemini, a.Categories, a.OCR),
		Sink:        a.Sink,
		SaveTimeout: config.Duration(cfg.Sink.Timeout),
	}
	if cfg.CategorizeEnabled() {
		searcher := oracle.NewGroundedSearcher(a.GenAI, cfg.LLM.Model, config.Duration(cfg.LLM.Timeout))
		deps.Categorizer = categorize.New(gemini, a.Categories, searcher, categorize.Config{
			MaxSearchCalls: *cfg.Categorize.MaxSearchCalls,
			Currency:       cfg.Categorize.Currency,
		})
	}

	a.Driver, err = pipeline.NewDriver(deps)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewOCRClient creates the OCR client from configuration.
func NewOCRClient(cfg *config.Config) *ocr.Client {
	return ocr.NewClient(ocr.Config{
		BaseURL:     cfg.OCR.URL,
		Timeout:     config.Duration(cfg.OCR.Timeout),
		ResultPaths: cfg.OCR.ResultPaths,
	})
}

// OpenSink opens the configured persistence sink.
func OpenSink(ctx context.Context, cfg *config.Config) (domain.Sink, error) {
	switch cfg.Sink.Kind {
	case config.SinkBigQuery:
		sink, err := infraBQ.NewSink(ctx, infraBQ.Config{
			ProjectID:   cfg.Sink.BigQuery.Project,
			DatasetID:   cfg.Sink.BigQuery.Dataset,
			TableID:     cfg.Sink.BigQuery.Table,
			CreateTable: cfg.Sink.BigQuery.CreateTable,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	case config.SinkPostgres:
		sink, err := postgres.Open(ctx, postgres.Config{
			DSN:          cfg.Sink.Postgres.DSN,
			MaxOpenConns: cfg.Sink.Postgres.MaxOpenConns,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	case config.SinkMemory:
		return memory.NewSink(), nil
	}
	return nil, fmt.Errorf("OpenSink: unknown sink kind %q", cfg.Sink.Kind)
}

// Process runs the driver bounded by the configured request timeout.
func (a *App) Process(ctx context.Context, in pipeline.Input) (*domain.ProcessingState, error) {
	if a.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.requestTimeout)
		defer cancel()
	}
	return a.Driver.Process(ctx, in)
}

// Close releases every client that was created.
func (a *App) Close() error {
	var errs []error
	if a.Uploader != nil {
		errs = append(errs, a.Uploader.Close())
	}
	if a.Sink != nil {
		errs = append(errs, a.Sink.Close())
	}
	if a.OCR != nil {
		a.OCR.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error().Err(err).Msg("Failed to release clients")
		return err
	}
	return nil
}
