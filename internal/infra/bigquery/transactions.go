package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-pipeline/internal/domain"
)

// TransactionRow is one row of the transactions table.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	RequestID     string `bigquery:"request_id"`     // NULLABLE

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Merchant    string `bigquery:"merchant"`    // REQUIRED STRING
	Description string `bigquery:"description"` // REQUIRED STRING

	Amount *big.Rat `bigquery:"amount"` // REQUIRED NUMERIC, negative = outflow

	Category   string `bigquery:"category"`    // REQUIRED STRING
	SourceFile string `bigquery:"source_file"` // REQUIRED STRING

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// transactionSchema is used when the table has to be created.
func transactionSchema() (bigquery.Schema, error) {
	schema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return nil, err
	}
	for _, f := range schema {
		f.Required = f.Name != "request_id"
	}
	return schema, nil
}

// toRows maps a tagged batch onto table rows, one fresh id per row.
func toRows(batch domain.Batch, tag domain.Tagging, now time.Time) []*TransactionRow {
	tagged := batch.Tag(tag.SourceFile)
	rows := make([]*TransactionRow, 0, len(tagged))
	for _, t := range tagged {
		rows = append(rows, &TransactionRow{
			TransactionID:   uuid.NewString(),
			RequestID:       tag.RequestID,
			TransactionDate: t.TransactionDate,
			Merchant:        t.Merchant,
			Description:     t.Description,
			Amount:          t.Amount.Rat(),
			Category:        t.Category,
			SourceFile:      t.SourceFile,
			CreatedTS:       now,
		})
	}
	return rows
}

func fromRow(r *TransactionRow) domain.StoredTransaction {
	amount := decimal.Zero
	if r.Amount != nil {
		amount = decimal.NewFromBigRat(r.Amount, bigquery.NumericScaleDigits)
	}
	return domain.StoredTransaction{
		Transaction: domain.Transaction{
			TransactionDate: r.TransactionDate,
			Merchant:        r.Merchant,
			Description:     r.Description,
			Amount:          amount,
			Category:        r.Category,
			SourceFile:      r.SourceFile,
		},
		ID:        r.TransactionID,
		RequestID: r.RequestID,
		CreatedAt: r.CreatedTS,
	}
}
