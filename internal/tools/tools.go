// Package tools holds the capabilities stages offer to the oracle: the two
// document loaders and the merchant search.
package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/ocr"
	"github.com/dvloznov/statement-pipeline/internal/oracle"
	"github.com/dvloznov/statement-pipeline/internal/tabular"
)

const (
	ExtCSV = ".csv"
	ExtPDF = ".pdf"
)

// DocumentSender is the OCR client as seen by the PDF loader.
type DocumentSender interface {
	SendDocument(ctx context.Context, path string) (*ocr.Result, error)
}

// Searcher answers merchant lookups.
type Searcher interface {
	Search(ctx context.Context, query string) (oracle.SearchAnswer, error)
}

// Loader is a capability that turns one file into document text.
type Loader interface {
	oracle.Capability
	Load(ctx context.Context) (string, error)
}

// Extension returns the lower-cased extension of path if it is supported.
func Extension(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ExtCSV, ExtPDF:
		return ext, nil
	}
	return "", domain.UnsupportedFileType(ext)
}

// ForFile picks the single loader for path by its extension.
func ForFile(path string, sender DocumentSender) (Loader, error) {
	ext, err := Extension(path)
	if err != nil {
		return nil, err
	}
	if ext == ExtCSV {
		return NewLoadTabular(path), nil
	}
	if sender == nil {
		return nil, fmt.Errorf("ForFile: no OCR client configured for %s", filepath.Base(path))
	}
	return NewLoadViaOCR(path, sender), nil
}

func filePathParam() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"file_path": {Type: genai.TypeString, Description: "Path of the file to load."},
		},
		Required: []string{"file_path"},
	}
}

// checkPath reports a mismatch between the requested and the bound file.
// An empty request means the bound file.
func checkPath(args map[string]any, bound string) (map[string]any, bool) {
	requested, _ := args["file_path"].(string)
	if requested == "" || requested == bound || filepath.Base(requested) == filepath.Base(bound) {
		return nil, true
	}
	return map[string]any{"error": fmt.Sprintf("only %s can be loaded", filepath.Base(bound))}, false
}

// LoadTabular loads a delimited file as a markdown table.
type LoadTabular struct {
	path string
}

// NewLoadTabular binds the loader to path.
func NewLoadTabular(path string) *LoadTabular {
	return &LoadTabular{path: path}
}

func (l *LoadTabular) Kind() oracle.Kind { return oracle.KindLoadTabular }

func (l *LoadTabular) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "load_csv_file",
		Description: "Load a CSV bank statement and return its rows as a table. Use for .csv files only.",
		Parameters:  filePathParam(),
	}
}

func (l *LoadTabular) Load(ctx context.Context) (string, error) {
	return tabular.LoadTable(l.path)
}

func (l *LoadTabular) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	if resp, ok := checkPath(args, l.path); !ok {
		return resp, nil
	}
	text, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": text}, nil
}

// LoadViaOCR sends a PDF to the OCR service and returns the reconstructed text.
type LoadViaOCR struct {
	path   string
	sender DocumentSender
}

// NewLoadViaOCR binds the loader to path.
func NewLoadViaOCR(path string, sender DocumentSender) *LoadViaOCR {
	return &LoadViaOCR{path: path, sender: sender}
}

func (l *LoadViaOCR) Kind() oracle.Kind { return oracle.KindLoadViaOCR }

func (l *LoadViaOCR) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "load_pdf_file",
		Description: "Run OCR on a PDF bank statement and return its text, one visual row per line with tab-separated fields. Use for .pdf files only.",
		Parameters:  filePathParam(),
	}
}

func (l *LoadViaOCR) Load(ctx context.Context) (string, error) {
	res, err := l.sender.SendDocument(ctx, l.path)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

func (l *LoadViaOCR) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	if resp, ok := checkPath(args, l.path); !ok {
		return resp, nil
	}
	text, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": text}, nil
}

// SearchMerchant looks up what kind of business a merchant is.
type SearchMerchant struct {
	searcher Searcher
}

// NewSearchMerchant wraps a searcher as a capability.
func NewSearchMerchant(searcher Searcher) *SearchMerchant {
	return &SearchMerchant{searcher: searcher}
}

func (s *SearchMerchant) Kind() oracle.Kind { return oracle.KindSearchMerchant }

func (s *SearchMerchant) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "search_company",
		Description: "Search the web for a merchant or company name to learn what it sells. Use only when the merchant is unclear.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {Type: genai.TypeString, Description: "Merchant name as it appears on the statement."},
			},
			Required: []string{"query"},
		},
	}
}

func (s *SearchMerchant) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return map[string]any{"error": "query is required"}, nil
	}
	answer, err := s.searcher.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	sources := make([]any, 0, len(answer.Sources))
	for _, src := range answer.Sources {
		sources = append(sources, map[string]any{"title": src.Title, "uri": src.URI})
	}
	return map[string]any{"summary": answer.Summary, "sources": sources}, nil
}
