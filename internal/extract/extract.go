// Package extract turns document text into a validated transaction batch.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/dvloznov/statement-pipeline/internal/oracle"
	"github.com/dvloznov/statement-pipeline/internal/tools"
)

// Document is the input of one extraction.
type Document struct {
	Path string
	// Name tags the produced transactions; empty means domain.DefaultSourceFile.
	Name string
	Text string
}

// Stage is the extraction stage.
type Stage struct {
	oracle     oracle.Oracle
	categories domain.CategorySet
	sender     tools.DocumentSender
}

// New creates an extraction stage. sender backs the PDF loader capability.
func New(o oracle.Oracle, categories domain.CategorySet, sender tools.DocumentSender) *Stage {
	return &Stage{oracle: o, categories: categories, sender: sender}
}

// Extract asks the oracle for the transactions in doc. It fails with
// domain.ErrExtractionFailed when the oracle yields nothing usable; it never
// returns an empty batch in place of a missing answer.
func (s *Stage) Extract(ctx context.Context, doc Document) (domain.Batch, error) {
	log := logger.FromContext(ctx)

	loader, err := tools.ForFile(doc.Path, s.sender)
	if err != nil {
		return nil, fmt.Errorf("Extract: %w: %w", domain.ErrExtractionFailed, err)
	}

	req := oracle.Request{
		Stage:        "extract",
		Instruction:  buildInstruction(s.categories, loader.Declaration().Name),
		Input:        buildInput(doc),
		Schema:       batchSchema(s.categories),
		Capabilities: []oracle.Capability{loader},
		MaxCalls:     1,
	}

	res, err := s.oracle.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Extract: generating: %w", err)
	}
	if !res.Present() {
		return nil, fmt.Errorf("Extract: %w: no structured response from model", domain.ErrExtractionFailed)
	}

	sourceFile := doc.Name
	if sourceFile == "" {
		sourceFile = domain.DefaultSourceFile
	}

	batch, err := transformOutput(res.Raw(), s.categories, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("Extract: %w: %w", domain.ErrExtractionFailed, err)
	}
	if err := batch.Validate(s.categories); err != nil {
		return nil, fmt.Errorf("Extract: %w: %w", domain.ErrExtractionFailed, err)
	}

	log.Info().Int("transactions", len(batch)).Msg("extraction completed")
	return batch, nil
}

// transformOutput converts the oracle answer into transactions. It accepts
// {"transactions": [...]} or a bare array.
func transformOutput(raw json.RawMessage, categories domain.CategorySet, sourceFile string) (domain.Batch, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding model output: %w", err)
	}

	var items []any
	switch v := parsed.(type) {
	case []any:
		items = v
	case map[string]any:
		txAny, ok := v["transactions"]
		if !ok {
			return nil, errors.New("missing 'transactions' key in model output")
		}
		items, ok = txAny.([]any)
		if !ok {
			return nil, fmt.Errorf("'transactions' is %T, want []any", txAny)
		}
	default:
		return nil, fmt.Errorf("model output is %T, want object or array", parsed)
	}

	batch := make(domain.Batch, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("transaction %d: element is %T, want object", i, item)
		}
		t, err := transformRow(obj, categories)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		t.SourceFile = sourceFile
		batch = append(batch, t)
	}
	return batch, nil
}

func transformRow(obj map[string]any, categories domain.CategorySet) (domain.Transaction, error) {
	dateStr, err := getStringField(obj, "transaction_date", false)
	if err != nil {
		return domain.Transaction{}, err
	}
	if dateStr == "" {
		if dateStr, err = getStringField(obj, "date", true); err != nil {
			return domain.Transaction{}, err
		}
	}
	date, err := civil.ParseDate(strings.TrimSpace(dateStr))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}

	merchant, err := getStringField(obj, "merchant", false)
	if err != nil {
		return domain.Transaction{}, err
	}
	description, err := getStringField(obj, "description", false)
	if err != nil {
		return domain.Transaction{}, err
	}
	merchant, description = strings.TrimSpace(merchant), strings.TrimSpace(description)
	if merchant == "" {
		merchant = description
	}
	if description == "" {
		description = merchant
	}

	amount, err := getDecimalField(obj, "amount")
	if err != nil {
		return domain.Transaction{}, err
	}

	rawCategory, err := getStringField(obj, "category", false)
	if err != nil {
		return domain.Transaction{}, err
	}
	category, _ := categories.Normalize(rawCategory)

	return domain.Transaction{
		TransactionDate: date,
		Merchant:        merchant,
		Description:     description,
		Amount:          amount,
		Category:        category,
	}, nil
}

func getStringField(m map[string]any, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

// getDecimalField reads a signed amount from a JSON number or numeric string.
func getDecimalField(m map[string]any, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.Zero, fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q: %w", key, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q: invalid amount %q: %w", key, val, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}
