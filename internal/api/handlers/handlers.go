package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-pipeline/internal/api/middleware"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/jobs"
	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/dvloznov/statement-pipeline/internal/pipeline"
	"github.com/dvloznov/statement-pipeline/internal/tools"
)

// DefaultMaxUploadBytes caps multipart uploads.
const DefaultMaxUploadBytes = 32 << 20

// Processor runs the pipeline for one stored upload.
type Processor interface {
	Process(ctx context.Context, in pipeline.Input) (*domain.ProcessingState, error)
}

// Archiver copies an upload to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, filePath, sourceFile, requestID string) (string, error)
}

// TransactionView is one transaction in a processing response.
type TransactionView struct {
	Date        string      `json:"date"`
	Merchant    string      `json:"merchant"`
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Category    string      `json:"category"`
}

// ProcessResponse is the body of POST /process.
type ProcessResponse struct {
	Success          bool              `json:"success"`
	Message          string            `json:"message"`
	Transactions     []TransactionView `json:"transactions"`
	TransactionCount int               `json:"transaction_count"`
}

// NewTransactionViews renders a batch in order.
func NewTransactionViews(batch domain.Batch) []TransactionView {
	out := make([]TransactionView, 0, len(batch))
	for _, t := range batch {
		out = append(out, TransactionView{
			Date:        t.TransactionDate.String(),
			Merchant:    t.Merchant,
			Description: t.Description,
			Amount:      json.Number(t.Amount.String()),
			Category:    t.Category,
		})
	}
	return out
}

// ProcessHandler accepts statement uploads.
type ProcessHandler struct {
	processor      Processor
	publisher      jobs.Publisher
	store          jobs.JobStore
	archiver       Archiver
	maxUploadBytes int64
	log            zerolog.Logger
}

// NewProcessHandler creates a process handler. publisher, store and archiver
// may be nil, which disables async jobs and archival.
func NewProcessHandler(processor Processor, publisher jobs.Publisher, store jobs.JobStore, archiver Archiver, maxUploadBytes int64, log zerolog.Logger) *ProcessHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &ProcessHandler{
		processor:      processor,
		publisher:      publisher,
		store:          store,
		archiver:       archiver,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

// upload is a multipart file stored on local disk.
type upload struct {
	path       string
	sourceFile string
}

func (u *upload) remove() {
	_ = os.Remove(u.path)
}

// Process handles POST /process and returns the saved batch.
func (h *ProcessHandler) Process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	requestID := middleware.GetRequestID(ctx)

	up, status, err := h.receive(w, r)
	if err != nil {
		writeFailure(w, status, err.Error())
		return
	}
	defer up.remove()

	h.archive(ctx, up, requestID)

	state, err := h.processor.Process(ctx, pipeline.Input{
		RequestID:  requestID,
		FilePath:   up.path,
		SourceFile: up.sourceFile,
	})
	if err != nil {
		status, message := classify(err)
		log.Error().Err(err).Int("status", status).Msg("Statement processing failed")
		writeFailure(w, status, message)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, ProcessResponse{
		Success:          true,
		Message:          fmt.Sprintf("Processed %d transactions from %s", len(state.Transactions), up.sourceFile),
		Transactions:     NewTransactionViews(state.Transactions),
		TransactionCount: len(state.Transactions),
	})
}

// Enqueue handles POST /process/jobs. The X-Request-ID header keys the job;
// resubmitting an id returns the existing job instead of processing again.
func (h *ProcessHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil || h.store == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Async processing is disabled")
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)
	requestID := middleware.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if existing, err := h.store.GetJob(ctx, requestID); err == nil {
		middleware.WriteJSON(w, http.StatusOK, existing)
		return
	}

	up, status, err := h.receive(w, r)
	if err != nil {
		middleware.WriteError(w, status, err.Error())
		return
	}

	h.archive(ctx, up, requestID)

	job := &jobs.ProcessDocumentJob{
		JobID:      requestID,
		FilePath:   up.path,
		SourceFile: up.sourceFile,
	}
	accepted := map[string]string{"job_id": job.JobID}
	if err := h.publisher.PublishProcessDocument(ctx, job); err != nil {
		up.remove()
		if errors.Is(err, jobs.ErrJobExists) {
			if existing, getErr := h.store.GetJob(ctx, requestID); getErr == nil {
				middleware.WriteJSON(w, http.StatusOK, existing)
				return
			}
		}
		log.Error().Err(err).Msg("Failed to enqueue processing job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue processing job")
		return
	}

	accepted["status"] = string(job.Status)
	log.Info().Str("job_id", accepted["job_id"]).Str("file", up.sourceFile).Msg("Processing job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, accepted)
}

// receive validates the multipart file and stores it in a temp file. The
// extension is checked before anything is written.
func (h *ProcessHandler) receive(w http.ResponseWriter, r *http.Request) (*upload, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("file too large")
		}
		return nil, http.StatusBadRequest, fmt.Errorf("invalid multipart form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("file is required")
	}
	defer file.Close()

	sourceFile := filepath.Base(header.Filename)
	ext, err := tools.Extension(sourceFile)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	if ext == tools.ExtPDF {
		pages, err := api.PageCount(file, nil)
		if err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("invalid PDF document")
		}
		h.log.Debug().Int("pages", pages).Str("file", sourceFile).Msg("PDF upload")
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, http.StatusInternalServerError, fmt.Errorf("failed to read upload")
		}
	}

	tmp, err := os.CreateTemp("", "upload-*"+ext)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create temp file")
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to store upload")
	}
	up := &upload{path: tmp.Name(), sourceFile: sourceFile}

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		up.remove()
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to store upload")
	}
	if err := tmp.Close(); err != nil {
		up.remove()
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to store upload")
	}
	return up, http.StatusOK, nil
}

// archive is best effort; a failed upload never blocks processing.
func (h *ProcessHandler) archive(ctx context.Context, up *upload, requestID string) {
	if h.archiver == nil {
		return
	}
	log := logger.FromContext(ctx)
	uri, err := h.archiver.Archive(ctx, up.path, up.sourceFile, requestID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to archive statement")
		return
	}
	log.Info().Str("gcs_uri", uri).Msg("Statement archived")
}

// classify maps a pipeline error to a status and a short message that never
// carries upstream bodies.
func classify(err error) (int, string) {
	var fe *domain.FormatError
	switch {
	case errors.Is(err, domain.ErrUnsupportedFileType):
		return http.StatusBadRequest, "Unsupported file type"
	case errors.As(err, &fe):
		return http.StatusBadRequest, "File could not be parsed as a statement"
	case errors.Is(err, domain.ErrExtractionFailed):
		return http.StatusInternalServerError, "No transactions could be extracted"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Processing timed out"
	}
	return http.StatusInternalServerError, "Failed to process statement"
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	middleware.WriteJSON(w, status, ProcessResponse{
		Success:      false,
		Message:      message,
		Transactions: []TransactionView{},
	})
}

// ProcessJob returns the queue handler that runs one job through processor.
func ProcessJob(processor Processor) jobs.JobHandler {
	return func(ctx context.Context, job *jobs.ProcessDocumentJob) error {
		state, err := processor.Process(ctx, pipeline.Input{
			RequestID:  job.JobID,
			FilePath:   job.FilePath,
			SourceFile: job.SourceFile,
		})
		if err != nil {
			return err
		}
		job.Transactions = state.Transactions.Clone()
		return nil
	}
}

// TransactionsHandler serves saved transactions.
type TransactionsHandler struct {
	sink domain.Sink
	log  zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(sink domain.Sink, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{sink: sink, log: log}
}

// ListTransactions handles GET /transactions?source_file=&limit=
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ListFilter{SourceFile: query.Get("source_file")}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	rows, err := h.sink.List(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": rows,
		"count":        len(rows),
	})
}

// HealthChecker probes a dependency.
type HealthChecker interface {
	Health(ctx context.Context) (string, error)
}

// HealthHandler reports service health including the OCR service.
type HealthHandler struct {
	ocr HealthChecker
	log zerolog.Logger
}

// NewHealthHandler creates a health handler. ocr may be nil.
func NewHealthHandler(ocr HealthChecker, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{ocr: ocr, log: log}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "healthy"}
	if h.ocr == nil {
		middleware.WriteJSON(w, http.StatusOK, body)
		return
	}

	status, err := h.ocr.Health(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("OCR service health check failed")
		body["status"] = "degraded"
		body["ocr"] = "unavailable"
		middleware.WriteJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["ocr"] = status
	middleware.WriteJSON(w, http.StatusOK, body)
}
