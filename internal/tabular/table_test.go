package tabular

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-pipeline/internal/domain"
)

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statement.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,description,amount\n2024-01-15,Grocery Store,-85.50\n"), 0o600))

	got, err := LoadTable(path)
	require.NoError(t, err)

	want := strings.Join([]string{
		"| date       | description   | amount |",
		"|------------|---------------|--------|",
		"| 2024-01-15 | Grocery Store | -85.50 |",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestParseDelimiters(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"comma", "date,amount\n2024-01-15,-1.00"},
		{"semicolon", "date;amount\n2024-01-15;-1,00"},
		{"tab", "date\tamount\n2024-01-15\t-1.00"},
		{"pipe", "date|amount\n2024-01-15|-1.00"},
		{"bom", "\xEF\xBB\xBFdate,amount\n2024-01-15,-1.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := Parse(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, []string{"date", "amount"}, table.Header)
			require.Len(t, table.Rows, 1)
			assert.Equal(t, "2024-01-15", table.Rows[0][0])
		})
	}
}

func TestParseQuotedAndShortRows(t *testing.T) {
	input := "date,description,amount\n\"2024-01-15\",\"Coffee, large\",-3.20\n2024-01-16,Refund\n,,\n"
	table, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Coffee, large", table.Rows[0][1])
	assert.Equal(t, []string{"2024-01-16", "Refund", ""}, table.Rows[1])
}

func TestParseUnnamedHeader(t *testing.T) {
	table, err := Parse(strings.NewReader("date,,amount\n1,2,3"))
	require.NoError(t, err)
	assert.Equal(t, "column_2", table.Header[1])
}

func TestMarkdownEscapesPipes(t *testing.T) {
	table := &Table{Header: []string{"a"}, Rows: [][]string{{"x|y"}}}
	assert.Contains(t, table.Markdown(), `x\|y`)
}

func TestLoadTableFormatErrors(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", nil},
		{"whitespace", []byte("  \n\n")},
		{"too many fields", []byte("a,b\n1,2,3\n")},
		{"bare quote", []byte("a,b\n\"1,2\n")},
		{"binary", []byte{0xff, 0xfe, 0x00, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.csv")
			require.NoError(t, os.WriteFile(path, tt.content, 0o600))

			_, err := LoadTable(path)
			require.Error(t, err)
			var fe *domain.FormatError
			assert.True(t, errors.As(err, &fe))
			assert.True(t, domain.IsClientError(err))
		})
	}
}

func TestLoadTableMissingFile(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
