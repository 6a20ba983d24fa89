// Package tabular turns delimited statement exports into a text table the
// extraction stage can read the same way it reads OCR output.
package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/dvloznov/statement-pipeline/internal/domain"
)

var candidateDelimiters = []rune{',', ';', '\t', '|'}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a parsed delimited file. Every row has len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// LoadTable parses the delimited file at path and renders it as a markdown table.
func LoadTable(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("LoadTable: opening %s: %w", path, err)
	}
	defer f.Close()

	table, err := Parse(f)
	if err != nil {
		return "", &domain.FormatError{Path: path, Err: err}
	}
	return table.Markdown(), nil
}

// Parse reads a delimited table. The delimiter is detected from the header line.
func Parse(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty input")
	}
	if !utf8.Valid(data) {
		return nil, errors.New("input is not valid UTF-8 text")
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing delimited data: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("no rows")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		header[i] = h
	}

	table := &Table{Header: header}
	for i, rec := range records[1:] {
		if blankRecord(rec) {
			continue
		}
		if len(rec) > len(header) {
			return nil, fmt.Errorf("row %d has %d fields, header has %d", i+2, len(rec), len(header))
		}
		row := make([]string, len(header))
		for j, cell := range rec {
			row[j] = strings.TrimSpace(cell)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// Markdown renders the table as a pipe table, header row first, columns in
// file order and padded to equal width.
func (t *Table) Markdown() string {
	widths := make([]int, len(t.Header))
	measure := func(row []string) {
		for i, cell := range row {
			if n := utf8.RuneCountInString(escapeCell(cell)); n > widths[i] {
				widths[i] = n
			}
		}
	}
	measure(t.Header)
	for _, row := range t.Rows {
		measure(row)
	}
	for i := range widths {
		if widths[i] < 3 {
			widths[i] = 3
		}
	}

	var b strings.Builder
	writeRow := func(row []string) {
		b.WriteString("|")
		for i, cell := range row {
			cell = escapeCell(cell)
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)))
			b.WriteString(" |")
		}
	}

	writeRow(t.Header)
	b.WriteString("\n|")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2))
		b.WriteString("|")
	}
	for _, row := range t.Rows {
		b.WriteString("\n")
		writeRow(row)
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func blankRecord(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// sniffDelimiter picks the candidate that occurs most often, outside quotes,
// on the first line. Ties and no match fall back to a comma.
func sniffDelimiter(data []byte) rune {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !scanner.Scan() {
		return ','
	}
	first := scanner.Text()

	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, r := range first {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best, bestCount := ',', counts[',']
	for _, d := range candidateDelimiters[1:] {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}
