package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// InsertTransactionsWithClient streams rows into table in a single Put call.
func InsertTransactionsWithClient(ctx context.Context, table *bigquery.Table, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	inserter := table.Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}

	return nil
}

// ListTransactionsWithClient reads saved rows, newest first, optionally for one source file.
func ListTransactionsWithClient(ctx context.Context, client *bigquery.Client, table *bigquery.Table, sourceFile string, limit int) ([]*TransactionRow, error) {
	fq := fmt.Sprintf("`%s.%s.%s`", table.ProjectID, table.DatasetID, table.TableID)
	q := client.Query(`
		SELECT
			transaction_id,
			request_id,
			transaction_date,
			merchant,
			description,
			amount,
			category,
			source_file,
			created_ts
		FROM ` + fq + `
		WHERE (@source_file = '' OR source_file = @source_file)
		ORDER BY created_ts DESC, transaction_date
		LIMIT @limit
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "source_file", Value: sourceFile},
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

// EnsureTableWithClient creates table with the transaction schema when it does not exist.
func EnsureTableWithClient(ctx context.Context, table *bigquery.Table) error {
	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureTable: reading metadata: %w", err)
	}

	schema, err := transactionSchema()
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.MonthPartitioningType,
			Field: "transaction_date",
		},
	}
	if err := table.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureTable: creating table: %w", err)
	}
	return nil
}
