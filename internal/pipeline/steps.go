package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/extract"
	"github.com/dvloznov/statement-pipeline/internal/tools"
)

// Extractor is the extraction stage as seen by the driver.
type Extractor interface {
	Extract(ctx context.Context, doc extract.Document) (domain.Batch, error)
}

// Categorizer is the categorization stage. It never fails; on any problem it
// returns the batch unchanged.
type Categorizer interface {
	Categorize(ctx context.Context, batch domain.Batch) domain.Batch
}

// LoadStep turns the input file into document text.
type LoadStep struct {
	OCR tools.DocumentSender
}

func (s *LoadStep) Name() string { return "load" }

func (s *LoadStep) Execute(ctx context.Context, state domain.ProcessingState) (domain.Delta, error) {
	loader, err := tools.ForFile(state.FilePath, s.OCR)
	if err != nil {
		return domain.Delta{}, err
	}
	text, err := loader.Load(ctx)
	if err != nil {
		return domain.Delta{}, err
	}
	return domain.Delta{DocumentText: &text, Status: domain.StatusLoaded}, nil
}

// ExtractStep produces the candidate batch from the loaded text.
type ExtractStep struct {
	Extractor Extractor
}

func (s *ExtractStep) Name() string { return "extract" }

func (s *ExtractStep) Execute(ctx context.Context, state domain.ProcessingState) (domain.Delta, error) {
	batch, err := s.Extractor.Extract(ctx, extract.Document{
		Path: state.FilePath,
		Name: state.SourceFile,
		Text: state.DocumentText,
	})
	if err != nil {
		return domain.Delta{}, err
	}
	return domain.Delta{Transactions: &batch, Status: domain.StatusExtracted}, nil
}

// CategorizeStep refines categories. It cannot fail the pipeline.
type CategorizeStep struct {
	Categorizer Categorizer
}

func (s *CategorizeStep) Name() string { return "categorize" }

func (s *CategorizeStep) Execute(ctx context.Context, state domain.ProcessingState) (domain.Delta, error) {
	batch := s.Categorizer.Categorize(ctx, state.Transactions)
	if len(batch) != len(state.Transactions) {
		// Keep the extracted batch rather than save a reshaped one.
		batch = state.Transactions
	}
	return domain.Delta{Transactions: &batch, Status: domain.StatusCategorized}, nil
}

// SaveStep appends the final batch to the sink.
type SaveStep struct {
	Sink    domain.Sink
	Timeout time.Duration
}

func (s *SaveStep) Name() string { return "save" }

func (s *SaveStep) Execute(ctx context.Context, state domain.ProcessingState) (domain.Delta, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	tag := domain.Tagging{SourceFile: state.SourceFile, RequestID: state.RequestID}
	if err := s.Sink.Save(ctx, state.Transactions, tag); err != nil {
		return domain.Delta{}, fmt.Errorf("saving %d transactions: %w", len(state.Transactions), err)
	}
	return domain.Delta{Status: domain.StatusSaved}, nil
}
