package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-pipeline/internal/domain"
)

// fakeRow satisfies scanner with fixed values.
type fakeRow struct {
	values []any
	err    error
}

func (f fakeRow) Scan(dest ...any) error {
	if f.err != nil {
		return f.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = f.values[i].(string)
		case *time.Time:
			*p = f.values[i].(time.Time)
		case *decimal.Decimal:
			*p = f.values[i].(decimal.Decimal)
		}
	}
	return nil
}

func TestScanTransaction(t *testing.T) {
	created := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	row := fakeRow{values: []any{
		"id-1", "req-1", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		"Grocery Store", "Card payment", decimal.RequireFromString("-85.50"),
		"Food", "jan.csv", created,
	}}

	st, err := scanTransaction(row)
	require.NoError(t, err)
	assert.Equal(t, "id-1", st.ID)
	assert.Equal(t, civil.Date{Year: 2024, Month: 1, Day: 15}, st.TransactionDate)
	assert.Equal(t, "-85.5", st.Amount.String())
	assert.Equal(t, created, st.CreatedAt)

	_, err = scanTransaction(fakeRow{err: errors.New("boom")})
	assert.Error(t, err)
}

func TestInsertArgs(t *testing.T) {
	now := time.Now().UTC()
	tx := domain.Transaction{
		TransactionDate: civil.Date{Year: 2024, Month: 1, Day: 15},
		Merchant:        "m",
		Description:     "d",
		Amount:          decimal.RequireFromString("-1.25"),
		Category:        "Other",
		SourceFile:      "s.csv",
	}

	args := insertArgs(tx, "", now)
	require.Len(t, args, 9)
	_, err := uuid.Parse(args[0].(string))
	assert.NoError(t, err)
	assert.Nil(t, args[1], "empty request id is stored as NULL")
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), args[2])
	assert.Equal(t, tx.Amount, args[5])

	args = insertArgs(tx, "req-9", now)
	assert.Equal(t, "req-9", args[1])
}

func TestMapError(t *testing.T) {
	dup := fmt.Errorf("transaction 0: %w", &pgconn.PgError{Code: "23505", ConstraintName: "transactions_pkey"})
	assert.ErrorIs(t, mapError(dup), ErrDuplicate)

	other := &pgconn.PgError{Code: "42P01"}
	assert.Same(t, other, mapError(other))
}

func TestSchemaKeepsAmountScale(t *testing.T) {
	assert.Regexp(t, `amount\s+NUMERIC NOT NULL`, schemaSQL, "amount must not be rounded to a fixed scale")
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}

// TestSinkIntegration runs against a real database when STATEMENTS_TEST_PG_DSN is set.
func TestSinkIntegration(t *testing.T) {
	dsn := os.Getenv("STATEMENTS_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("STATEMENTS_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	source := "it-" + uuid.NewString() + ".csv"
	batch := domain.Batch{
		{TransactionDate: civil.Date{Year: 2024, Month: 1, Day: 15}, Merchant: "a", Description: "a", Amount: decimal.RequireFromString("-85.50"), Category: "Food"},
		{TransactionDate: civil.Date{Year: 2024, Month: 1, Day: 16}, Merchant: "b", Description: "b", Amount: decimal.RequireFromString("10"), Category: "Income"},
		{TransactionDate: civil.Date{Year: 2024, Month: 1, Day: 17}, Merchant: "fx", Description: "fx", Amount: decimal.RequireFromString("-0.1234"), Category: "Other"},
	}
	require.NoError(t, s.Save(ctx, batch, domain.Tagging{SourceFile: source, RequestID: "req-it"}))

	rows, err := s.List(ctx, domain.ListFilter{SourceFile: source})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	amounts := map[string]bool{}
	for _, r := range rows {
		assert.Equal(t, source, r.SourceFile)
		assert.Equal(t, "req-it", r.RequestID)
		amounts[r.Amount.String()] = true
	}
	assert.True(t, amounts["-0.1234"], "sub-cent amounts survive the round trip")
}
