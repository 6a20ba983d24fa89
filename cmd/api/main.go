package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/statement-pipeline/internal/api/handlers"
	"github.com/dvloznov/statement-pipeline/internal/api/middleware"
	"github.com/dvloznov/statement-pipeline/internal/app"
	"github.com/dvloznov/statement-pipeline/internal/config"
	"github.com/dvloznov/statement-pipeline/internal/jobs"
	"github.com/dvloznov/statement-pipeline/internal/jobs/inmemory"
	"github.com/dvloznov/statement-pipeline/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (or set STATEMENTS_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewWithConfig(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithContext(context.Background(), log)

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize clients")
	}
	defer application.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(inmemory.Config{
		BufferSize:   cfg.Jobs.Buffer,
		Workers:      cfg.Jobs.Workers,
		MaxRetries:   *cfg.Jobs.MaxRetries,
		RetryBackoff: config.Duration(cfg.Jobs.RetryBackoff),
		OnFinish: func(job *jobs.ProcessDocumentJob) {
			if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to remove upload")
			}
		},
	}, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, handlers.ProcessJob(application)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	var archiver handlers.Archiver
	if application.Uploader != nil {
		archiver = application.Uploader
	}

	router := handlers.NewRouter(handlers.Handlers{
		Process:      handlers.NewProcessHandler(application, jobQueue, jobStore, archiver, cfg.Server.MaxUploadBytes, log),
		Jobs:         handlers.NewJobsHandler(jobStore, log),
		Transactions: handlers.NewTransactionsHandler(application.Sink, log),
		Health:       handlers.NewHealthHandler(application.OCR, log),
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(cfg.Server.APIKey)(router),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout),
		IdleTimeout:  config.Duration(cfg.Server.ReadTimeout) * 2,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("sink", cfg.Sink.Kind).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop accepting jobs and wait for in-flight ones before cancelling them.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
