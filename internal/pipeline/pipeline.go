// Package pipeline drives one statement through load, extract, categorize and
// save as a forward-only state machine.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/dvloznov/statement-pipeline/internal/tools"
)

// PipelineStep is one stage of the state machine. It reads a snapshot of the
// state and returns the delta to merge, including the new status.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state domain.ProcessingState) (domain.Delta, error)
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially. The first error, a cancelled context or
// an illegal transition moves state to failed and aborts the run.
func (p *Pipeline) Execute(ctx context.Context, state *domain.ProcessingState) error {
	log := logger.FromContext(ctx)

	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			state.Fail()
			return fmt.Errorf("pipeline step %d (%s) cancelled: %w", i+1, step.Name(), err)
		}

		start := time.Now()
		delta, err := step.Execute(ctx, state.Snapshot())
		if err == nil {
			err = state.Apply(delta)
		}
		if err != nil {
			state.Fail()
			log.Error().Err(err).
				Str("stage", step.Name()).
				Dur("duration", time.Since(start)).
				Msg("pipeline stage failed")
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}

		log.Info().
			Str("stage", step.Name()).
			Str("status", string(state.Status)).
			Int("transactions", len(state.Transactions)).
			Dur("duration", time.Since(start)).
			Msg("pipeline stage completed")
	}
	return nil
}

// Deps are the collaborators of a Driver. They are constructed once per
// process and shared by every invocation.
type Deps struct {
	// OCR backs the PDF loader. Nil disables PDF input.
	OCR       tools.DocumentSender
	Extractor Extractor
	// Categorizer is optional; nil moves extracted batches straight to save.
	Categorizer Categorizer
	Sink        domain.Sink
	// SaveTimeout bounds the persistence write. Zero leaves it to ctx.
	SaveTimeout time.Duration
}

// Driver runs the statement pipeline for one document per call.
type Driver struct {
	pipeline       *Pipeline
	skipCategorize bool
}

// NewDriver builds the standard pipeline: load, extract, categorize (when
// configured) and save.
func NewDriver(deps Deps) (*Driver, error) {
	if deps.Extractor == nil {
		return nil, fmt.Errorf("NewDriver: extractor is required")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("NewDriver: sink is required")
	}

	steps := []PipelineStep{
		&LoadStep{OCR: deps.OCR},
		&ExtractStep{Extractor: deps.Extractor},
	}
	if deps.Categorizer != nil {
		steps = append(steps, &CategorizeStep{Categorizer: deps.Categorizer})
	}
	steps = append(steps, &SaveStep{Sink: deps.Sink, Timeout: deps.SaveTimeout})

	return &Driver{pipeline: NewPipeline(steps...), skipCategorize: deps.Categorizer == nil}, nil
}

// Input identifies one document to process.
type Input struct {
	RequestID string
	FilePath  string
	// SourceFile tags saved rows; empty means the base name of FilePath.
	SourceFile string
}

// Process runs one invocation. Unsupported file types are rejected before any
// state is created. On failure the returned state is in StatusFailed and must
// not be reused.
func (d *Driver) Process(ctx context.Context, in Input) (*domain.ProcessingState, error) {
	if _, err := tools.Extension(in.FilePath); err != nil {
		return nil, err
	}

	requestID := in.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	sourceFile := in.SourceFile
	if sourceFile == "" {
		sourceFile = filepath.Base(in.FilePath)
	}

	ctx = logger.WithRequest(ctx, requestID, sourceFile)
	log := logger.FromContext(ctx)

	state := domain.NewProcessingState(requestID, in.FilePath, sourceFile)
	state.SkipCategorize = d.skipCategorize
	start := time.Now()
	if err := d.pipeline.Execute(ctx, state); err != nil {
		return state, err
	}

	log.Info().
		Int("transactions", len(state.Transactions)).
		Dur("duration", time.Since(start)).
		Msg("statement processed")
	return state, nil
}
