package domain

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// DefaultSourceFile tags transactions whose originating document is unknown.
const DefaultSourceFile = "uploaded"

// Transaction represents one normalized transaction produced by the extraction stage.
// This is a domain struct, not a storage row; each sink maps it into its own schema.
type Transaction struct {
	TransactionDate civil.Date      `json:"transaction_date"`
	Merchant        string          `json:"merchant"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"` // negative = outflow, positive = inflow
	Category        string          `json:"category"`
	SourceFile      string          `json:"source_file"`
}

// Validate checks the invariants every stage must preserve.
func (t Transaction) Validate(categories CategorySet) error {
	if !t.TransactionDate.IsValid() {
		return fmt.Errorf("invalid transaction_date %q", t.TransactionDate.String())
	}
	if strings.TrimSpace(t.Merchant) == "" && strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("merchant and description are both empty")
	}
	if !categories.Contains(t.Category) {
		return fmt.Errorf("category %q is not in the declared set", t.Category)
	}
	return nil
}

// Batch is an ordered sequence of transactions in document appearance order.
type Batch []Transaction

// Clone returns a copy that shares no backing array with b.
func (b Batch) Clone() Batch {
	if b == nil {
		return nil
	}
	out := make(Batch, len(b))
	copy(out, b)
	return out
}

// Validate checks every transaction and reports the first violation with its row number.
func (b Batch) Validate(categories CategorySet) error {
	for i, t := range b {
		if err := t.Validate(categories); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}

// Tag returns a copy of b with source_file set for persistence.
// A non-empty sourceFile overrides every row; otherwise rows keep their own
// value and empty ones fall back to DefaultSourceFile.
func (b Batch) Tag(sourceFile string) Batch {
	out := b.Clone()
	for i := range out {
		switch {
		case sourceFile != "":
			out[i].SourceFile = sourceFile
		case out[i].SourceFile == "":
			out[i].SourceFile = DefaultSourceFile
		}
	}
	return out
}
