package categorize

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/oracle"
)

// MockOracle is a mock implementation of oracle.Oracle.
type MockOracle struct {
	GenerateFunc func(ctx context.Context, req oracle.Request) (oracle.Result, error)
	Requests     []oracle.Request
}

func (m *MockOracle) Generate(ctx context.Context, req oracle.Request) (oracle.Result, error) {
	m.Requests = append(m.Requests, req)
	return m.GenerateFunc(ctx, req)
}

// MockSearcher is a mock implementation of tools.Searcher.
type MockSearcher struct{}

func (MockSearcher) Search(ctx context.Context, query string) (oracle.SearchAnswer, error) {
	return oracle.SearchAnswer{Summary: query}, nil
}

func returns(raw string) *MockOracle {
	return &MockOracle{GenerateFunc: func(context.Context, oracle.Request) (oracle.Result, error) {
		return oracle.Some(json.RawMessage(raw)), nil
	}}
}

func sampleBatch() domain.Batch {
	return domain.Batch{
		{
			TransactionDate: civil.Date{Year: 2024, Month: 1, Day: 15},
			Merchant:        "TESCO STORES",
			Description:     "Card payment",
			Amount:          decimal.RequireFromString("-85.50"),
			Category:        "Other",
			SourceFile:      "jan.pdf",
		},
		{
			TransactionDate: civil.Date{Year: 2024, Month: 1, Day: 16},
			Merchant:        "TFL TRAVEL",
			Description:     "Contactless",
			Amount:          decimal.RequireFromString("-2.80"),
			Category:        "Other",
			SourceFile:      "jan.pdf",
		},
		{
			TransactionDate: civil.Date{Year: 2024, Month: 1, Day: 31},
			Merchant:        "ACME LTD",
			Description:     "Salary",
			Amount:          decimal.RequireFromString("2500.00"),
			Category:        "Income",
			SourceFile:      "jan.pdf",
		},
	}
}

func newStage(o oracle.Oracle) *Stage {
	return New(o, domain.NewCategorySet(domain.DefaultCategories()), MockSearcher{}, Config{MaxSearchCalls: DefaultMaxSearchCalls})
}

// assertOnlyCategoryChanged checks every non-category field row by row.
func assertOnlyCategoryChanged(t *testing.T, in, out domain.Batch) {
	t.Helper()
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].TransactionDate, out[i].TransactionDate, "row %d date", i)
		assert.Equal(t, in[i].Merchant, out[i].Merchant, "row %d merchant", i)
		assert.Equal(t, in[i].Description, out[i].Description, "row %d description", i)
		assert.True(t, in[i].Amount.Equal(out[i].Amount), "row %d amount", i)
		assert.Equal(t, in[i].SourceFile, out[i].SourceFile, "row %d source_file", i)
	}
}

func TestCategorizeUpdatesOnlyCategory(t *testing.T) {
	in := sampleBatch()
	o := returns(`{"transactions":[{"index":1,"category":"transport"},{"index":0,"category":"Food"},{"index":2,"category":"Income"}]}`)

	out := newStage(o).Categorize(context.Background(), in)

	assertOnlyCategoryChanged(t, in, out)
	assert.Equal(t, "Food", out[0].Category)
	assert.Equal(t, "Transport", out[1].Category)
	assert.Equal(t, "Income", out[2].Category)
	assert.Equal(t, "Other", in[0].Category, "input must not be mutated")
}

func TestCategorizePassThrough(t *testing.T) {
	tests := []struct {
		name   string
		oracle *MockOracle
	}{
		{"no structured response", &MockOracle{GenerateFunc: func(context.Context, oracle.Request) (oracle.Result, error) {
			return oracle.None, nil
		}}},
		{"oracle error", &MockOracle{GenerateFunc: func(context.Context, oracle.Request) (oracle.Result, error) {
			return oracle.None, &domain.ServiceError{Op: "oracle", Status: 500}
		}}},
		{"capability failure", &MockOracle{GenerateFunc: func(context.Context, oracle.Request) (oracle.Result, error) {
			return oracle.None, errors.New("search failed")
		}}},
		{"undecodable", returns(`{"transactions":"nope"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleBatch()
			out := newStage(tt.oracle).Categorize(context.Background(), in)
			assert.Equal(t, in, out)
		})
	}
}

func TestCategorizeFewerRows(t *testing.T) {
	in := sampleBatch()
	// Only the first row comes back, without an index.
	o := returns(`{"transactions":[{"category":"Food"}]}`)

	out := newStage(o).Categorize(context.Background(), in)

	assertOnlyCategoryChanged(t, in, out)
	assert.Equal(t, "Food", out[0].Category)
	assert.Equal(t, "Other", out[1].Category)
	assert.Equal(t, "Income", out[2].Category)
	// Missing rows keep their own source_file rather than a placeholder.
	assert.Equal(t, "jan.pdf", out[1].SourceFile)
	assert.Equal(t, "jan.pdf", out[2].SourceFile)
}

func TestCategorizeIgnoresBadUpdates(t *testing.T) {
	in := sampleBatch()
	o := returns(`{"transactions":[
		{"index":7,"category":"Food"},
		{"index":-1,"category":"Food"},
		{"index":0,"category":"Groceries"},
		{"index":1,"category":"Transport"},
		{"index":1,"category":"Bills"}
	]}`)

	out := newStage(o).Categorize(context.Background(), in)

	assertOnlyCategoryChanged(t, in, out)
	assert.Equal(t, "Other", out[0].Category, "unknown category keeps the current one")
	assert.Equal(t, "Transport", out[1].Category, "first update for a row wins")
}

func TestCategorizeRequest(t *testing.T) {
	o := returns(`{"transactions":[]}`)
	newStage(o).Categorize(context.Background(), sampleBatch())

	require.Len(t, o.Requests, 1)
	req := o.Requests[0]
	require.Len(t, req.Capabilities, 1)
	assert.Equal(t, oracle.KindSearchMerchant, req.Capabilities[0].Kind())
	assert.Equal(t, DefaultMaxSearchCalls, req.MaxCalls)
	assert.Contains(t, req.Input, "[0] 2024-01-15: TESCO STORES - Card payment (-£85.50) [Current category: Other]")
	assert.Contains(t, req.Instruction, "search_company")
}

func TestCategorizeWithoutSearch(t *testing.T) {
	o := returns(`{"transactions":[]}`)
	stage := New(o, domain.NewCategorySet(domain.DefaultCategories()), nil, Config{MaxSearchCalls: 3})
	stage.Categorize(context.Background(), sampleBatch())

	req := o.Requests[0]
	assert.Empty(t, req.Capabilities)
	assert.Equal(t, 0, req.MaxCalls)
	assert.NotContains(t, req.Instruction, "search_company")
}

func TestCategorizeEmptyBatch(t *testing.T) {
	o := returns(`{}`)
	out := newStage(o).Categorize(context.Background(), domain.Batch{})
	assert.Empty(t, out)
	assert.Empty(t, o.Requests)
}
