package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-pipeline/internal/categorize"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/extract"
	"github.com/dvloznov/statement-pipeline/internal/infra/memory"
	"github.com/dvloznov/statement-pipeline/internal/layout"
	"github.com/dvloznov/statement-pipeline/internal/ocr"
	"github.com/dvloznov/statement-pipeline/internal/oracle"
	"github.com/dvloznov/statement-pipeline/internal/pipeline"
)

// MockExtractor is a mock implementation of pipeline.Extractor.
type MockExtractor struct {
	ExtractFunc func(ctx context.Context, doc extract.Document) (domain.Batch, error)
	Docs        []extract.Document
}

func (m *MockExtractor) Extract(ctx context.Context, doc extract.Document) (domain.Batch, error) {
	m.Docs = append(m.Docs, doc)
	return m.ExtractFunc(ctx, doc)
}

// MockCategorizer is a mock implementation of pipeline.Categorizer.
type MockCategorizer struct {
	CategorizeFunc func(ctx context.Context, batch domain.Batch) domain.Batch
	Calls          int
}

func (m *MockCategorizer) Categorize(ctx context.Context, batch domain.Batch) domain.Batch {
	m.Calls++
	return m.CategorizeFunc(ctx, batch)
}

// MockSender is a mock OCR client.
type MockSender struct {
	SendDocumentFunc func(ctx context.Context, path string) (*ocr.Result, error)
}

func (m *MockSender) SendDocument(ctx context.Context, path string) (*ocr.Result, error) {
	return m.SendDocumentFunc(ctx, path)
}

// MockOracle is a mock implementation of oracle.Oracle.
type MockOracle struct {
	GenerateFunc func(ctx context.Context, req oracle.Request) (oracle.Result, error)
}

func (m *MockOracle) Generate(ctx context.Context, req oracle.Request) (oracle.Result, error) {
	return m.GenerateFunc(ctx, req)
}

func sampleBatch() domain.Batch {
	return domain.Batch{{
		TransactionDate: civil.Date{Year: 2024, Month: 1, Day: 15},
		Merchant:        "Grocery Store",
		Description:     "Grocery Store",
		Amount:          decimal.RequireFromString("-85.50"),
		Category:        "Other",
		SourceFile:      "statement.csv",
	}}
}

func fixedExtractor() *MockExtractor {
	return &MockExtractor{ExtractFunc: func(context.Context, extract.Document) (domain.Batch, error) {
		return sampleBatch(), nil
	}}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const sampleCSV = "date,description,amount\n2024-01-15,Grocery Store,-85.50\n"

func TestDriver_ProcessCSV(t *testing.T) {
	sink := memory.NewSink()
	extractor := fixedExtractor()
	categorizer := &MockCategorizer{CategorizeFunc: func(_ context.Context, b domain.Batch) domain.Batch {
		out := b.Clone()
		out[0].Category = "Food"
		return out
	}}

	d, err := pipeline.NewDriver(pipeline.Deps{Extractor: extractor, Categorizer: categorizer, Sink: sink})
	require.NoError(t, err)

	path := writeFile(t, "statement.csv", sampleCSV)
	state, err := d.Process(context.Background(), pipeline.Input{RequestID: "req-1", FilePath: path})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSaved, state.Status)
	assert.Equal(t, "req-1", state.RequestID)
	assert.Equal(t, "statement.csv", state.SourceFile)
	assert.Contains(t, state.DocumentText, "Grocery Store")
	require.Len(t, state.Transactions, 1)
	assert.Equal(t, "Food", state.Transactions[0].Category)

	require.Len(t, extractor.Docs, 1)
	assert.Equal(t, state.DocumentText, extractor.Docs[0].Text)
	assert.Equal(t, 1, categorizer.Calls)

	rows, err := sink.List(context.Background(), domain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Food", rows[0].Category)
	assert.Equal(t, "req-1", rows[0].RequestID)
	assert.Equal(t, "statement.csv", rows[0].SourceFile)
}

func TestDriver_ProcessPDFUsesOCR(t *testing.T) {
	box := layout.Rect(0, 0, 50, 10)
	sender := &MockSender{SendDocumentFunc: func(_ context.Context, path string) (*ocr.Result, error) {
		return &ocr.Result{Segments: []ocr.Segment{{Text: "Coffee", Box: &box, Confidence: 0.9}}}, nil
	}}
	d, err := pipeline.NewDriver(pipeline.Deps{OCR: sender, Extractor: fixedExtractor(), Sink: memory.NewSink()})
	require.NoError(t, err)

	path := writeFile(t, "statement.pdf", "%PDF-1.4")
	state, err := d.Process(context.Background(), pipeline.Input{FilePath: path, SourceFile: "march.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "Coffee", state.DocumentText)
	assert.Equal(t, "march.pdf", state.SourceFile)
	assert.NotEmpty(t, state.RequestID)
}

func TestDriver_UnsupportedFileTypeRejectedBeforeWork(t *testing.T) {
	extractor := fixedExtractor()
	sink := memory.NewSink()
	d, err := pipeline.NewDriver(pipeline.Deps{Extractor: extractor, Sink: sink})
	require.NoError(t, err)

	state, err := d.Process(context.Background(), pipeline.Input{FilePath: "/tmp/statement.xlsx"})
	require.Error(t, err)
	assert.Nil(t, state)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFileType)
	assert.True(t, domain.IsClientError(err))
	assert.Empty(t, extractor.Docs)
	assert.Equal(t, 0, sink.Len())
}

func TestDriver_ExtractionFailureAbortsWithoutSaving(t *testing.T) {
	sink := memory.NewSink()
	extractor := &MockExtractor{ExtractFunc: func(context.Context, extract.Document) (domain.Batch, error) {
		return nil, fmt.Errorf("Extract: %w: no structured response from model", domain.ErrExtractionFailed)
	}}
	categorizer := &MockCategorizer{CategorizeFunc: func(_ context.Context, b domain.Batch) domain.Batch { return b }}
	d, err := pipeline.NewDriver(pipeline.Deps{Extractor: extractor, Categorizer: categorizer, Sink: sink})
	require.NoError(t, err)

	state, err := d.Process(context.Background(), pipeline.Input{FilePath: writeFile(t, "s.csv", sampleCSV)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
	assert.Contains(t, err.Error(), "pipeline step 2 (extract) failed")
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.Equal(t, 0, categorizer.Calls)
	assert.Equal(t, 0, sink.Len())
}

func TestDriver_LoadFormatError(t *testing.T) {
	extractor := fixedExtractor()
	d, err := pipeline.NewDriver(pipeline.Deps{Extractor: extractor, Sink: memory.NewSink()})
	require.NoError(t, err)

	state, err := d.Process(context.Background(), pipeline.Input{FilePath: writeFile(t, "empty.csv", "")})
	require.Error(t, err)
	var fe *domain.FormatError
	assert.ErrorAs(t, err, &fe)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.Empty(t, extractor.Docs)
}

func TestDriver_OCRTransportErrorIsRetryable(t *testing.T) {
	sender := &MockSender{SendDocumentFunc: func(context.Context, string) (*ocr.Result, error) {
		return nil, &domain.TransportError{Op: "ocr.SendDocument", Err: errors.New("connection refused")}
	}}
	d, err := pipeline.NewDriver(pipeline.Deps{OCR: sender, Extractor: fixedExtractor(), Sink: memory.NewSink()})
	require.NoError(t, err)

	_, err = d.Process(context.Background(), pipeline.Input{FilePath: writeFile(t, "s.pdf", "%PDF")})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestDriver_PersistenceError(t *testing.T) {
	sink := memory.NewSink()
	sink.SaveErr = errors.New("disk full")
	d, err := pipeline.NewDriver(pipeline.Deps{Extractor: fixedExtractor(), Sink: sink})
	require.NoError(t, err)

	state, err := d.Process(context.Background(), pipeline.Input{FilePath: writeFile(t, "s.csv", sampleCSV)})
	require.Error(t, err)
	var pe *domain.PersistenceError
	assert.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "(save)")
	assert.Equal(t, domain.StatusFailed, state.Status)
}

func TestDriver_CancelledContext(t *testing.T) {
	sink := memory.NewSink()
	extractor := fixedExtractor()
	d, err := pipeline.NewDriver(pipeline.Deps{Extractor: extractor, Sink: sink})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state, err := d.Process(ctx, pipeline.Input{FilePath: writeFile(t, "s.csv", sampleCSV)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.Empty(t, extractor.Docs)
	assert.Equal(t, 0, sink.Len())
}

func TestDriver_CategorizerReshapeIgnored(t *testing.T) {
	categorizer := &MockCategorizer{CategorizeFunc: func(context.Context, domain.Batch) domain.Batch {
		return domain.Batch{}
	}}
	d, err := pipeline.NewDriver(pipeline.Deps{Extractor: fixedExtractor(), Categorizer: categorizer, Sink: memory.NewSink()})
	require.NoError(t, err)

	state, err := d.Process(context.Background(), pipeline.Input{FilePath: writeFile(t, "s.csv", sampleCSV)})
	require.NoError(t, err)
	assert.Equal(t, sampleBatch(), state.Transactions)
}

func TestNewDriver_RequiresDeps(t *testing.T) {
	_, err := pipeline.NewDriver(pipeline.Deps{Sink: memory.NewSink()})
	assert.Error(t, err)
	_, err = pipeline.NewDriver(pipeline.Deps{Extractor: fixedExtractor()})
	assert.Error(t, err)
}

// skipStep jumps straight to saved.
type skipStep struct{}

func (skipStep) Name() string { return "skip" }

func (skipStep) Execute(context.Context, domain.ProcessingState) (domain.Delta, error) {
	return domain.Delta{Status: domain.StatusSaved}, nil
}

func TestPipeline_IllegalTransition(t *testing.T) {
	state := domain.NewProcessingState("r", "f.csv", "f.csv")
	err := pipeline.NewPipeline(skipStep{}).Execute(context.Background(), state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal status transition")
	assert.Equal(t, domain.StatusFailed, state.Status)
}

// statusStep moves the state to a fixed status.
type statusStep domain.Status

func (s statusStep) Name() string { return string(s) }

func (s statusStep) Execute(context.Context, domain.ProcessingState) (domain.Delta, error) {
	return domain.Delta{Status: domain.Status(s)}, nil
}

func TestPipeline_SaveWithoutCategorizeNeedsSkip(t *testing.T) {
	steps := []pipeline.PipelineStep{
		statusStep(domain.StatusLoaded),
		statusStep(domain.StatusExtracted),
		statusStep(domain.StatusSaved),
	}

	state := domain.NewProcessingState("r", "f.csv", "f.csv")
	err := pipeline.NewPipeline(steps...).Execute(context.Background(), state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "categorization is enabled")
	assert.Equal(t, domain.StatusFailed, state.Status)

	state = domain.NewProcessingState("r", "f.csv", "f.csv")
	state.SkipCategorize = true
	require.NoError(t, pipeline.NewPipeline(steps...).Execute(context.Background(), state))
	assert.Equal(t, domain.StatusSaved, state.Status)
}

// mutatingStep writes into its snapshot; the driver's state must not change.
type mutatingStep struct{}

func (mutatingStep) Name() string { return "mutate" }

func (mutatingStep) Execute(_ context.Context, s domain.ProcessingState) (domain.Delta, error) {
	s.Transactions[0].Amount = decimal.NewFromInt(1)
	return domain.Delta{Status: domain.StatusFailed}, nil
}

func TestPipeline_StepsSeeSnapshots(t *testing.T) {
	state := domain.NewProcessingState("r", "f.csv", "f.csv")
	state.Transactions = sampleBatch()
	require.NoError(t, pipeline.NewPipeline(mutatingStep{}).Execute(context.Background(), state))
	assert.Equal(t, "-85.5", state.Transactions[0].Amount.String())
}

func TestDriver_EndToEndWithStages(t *testing.T) {
	extractOracle := &MockOracle{GenerateFunc: func(context.Context, oracle.Request) (oracle.Result, error) {
		return oracle.Some(json.RawMessage(`{"transactions":[{"transaction_date":"2024-01-15","merchant":"Grocery Store","description":"Grocery Store","amount":-85.50,"category":"Food"}]}`)), nil
	}}
	silentOracle := &MockOracle{GenerateFunc: func(context.Context, oracle.Request) (oracle.Result, error) {
		return oracle.None, nil
	}}
	categories := domain.NewCategorySet(domain.DefaultCategories())
	sink := memory.NewSink()

	d, err := pipeline.NewDriver(pipeline.Deps{
		Extractor:   extract.New(extractOracle, categories, nil),
		Categorizer: categorize.New(silentOracle, categories, nil, categorize.Config{}),
		Sink:        sink,
	})
	require.NoError(t, err)

	state, err := d.Process(context.Background(), pipeline.Input{FilePath: writeFile(t, "jan.csv", sampleCSV)})
	require.NoError(t, err)
	require.Len(t, state.Transactions, 1)
	tx := state.Transactions[0]
	assert.True(t, decimal.RequireFromString("-85.50").Equal(tx.Amount))
	assert.Equal(t, "Grocery Store", tx.Merchant)
	assert.Equal(t, "Food", tx.Category)
	assert.Equal(t, "jan.csv", tx.SourceFile)
	assert.Equal(t, 1, sink.Len())
}
