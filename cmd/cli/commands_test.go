package main

import (
	"bytes"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-pipeline/internal/domain"
)

func TestPrintTransactions(t *testing.T) {
	batch := domain.Batch{
		{
			TransactionDate: civil.Date{Year: 2024, Month: 1, Day: 15},
			Merchant:        "Tesco",
			Amount:          decimal.RequireFromString("-85.50"),
			Category:        "Food",
		},
		{
			TransactionDate: civil.Date{Year: 2024, Month: 1, Day: 16},
			Description:     "SALARY ACME LTD",
			Amount:          decimal.RequireFromString("2500"),
			Category:        "Income",
		},
	}

	var buf bytes.Buffer
	printTransactions(&buf, batch, "XXX")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "2024-01-15")
	assert.Contains(t, lines[0], "Tesco")
	assert.Contains(t, lines[0], "-85.50")
	assert.Contains(t, lines[1], "SALARY ACME LTD")
	assert.Contains(t, lines[1], "2500.00")
	assert.Contains(t, lines[1], "Income")
}

func TestPrintTransactions_Empty(t *testing.T) {
	var buf bytes.Buffer
	printTransactions(&buf, nil, "GBP")
	assert.Equal(t, "No transactions.\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "ünï…", truncate("ünïcode", 4))
}

func TestHasGCSInput(t *testing.T) {
	assert.False(t, hasGCSInput([]string{"a.pdf", "b.csv"}))
	assert.True(t, hasGCSInput([]string{"a.pdf", "gs://bucket/b.csv"}))
}

func TestRenderDocument(t *testing.T) {
	out, err := renderDocument("| date | amount |\n| --- | --- |\n| 2024-01-15 | -85.50 |", true)
	require.NoError(t, err)
	assert.Contains(t, out, "2024-01-15")

	out, err = renderDocument("Date\tAmount\n2024-01-15\t-85.50", false)
	require.NoError(t, err)
	assert.Contains(t, out, "-85.50")
}
