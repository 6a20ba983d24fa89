// Package postgres is a PostgreSQL implementation of the transaction sink.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/logger"
)

const (
	defaultMaxOpenConns = 10
	defaultConnTimeout  = 5 * time.Second
)

// Config configures the connection pool.
type Config struct {
	DSN          string
	MaxOpenConns int
	ConnTimeout  time.Duration
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transactions (
	transaction_id   UUID PRIMARY KEY,
	request_id       TEXT,
	transaction_date DATE NOT NULL,
	merchant         TEXT NOT NULL,
	description      TEXT NOT NULL,
	amount           NUMERIC NOT NULL,
	category         TEXT NOT NULL,
	source_file      TEXT NOT NULL,
	created_ts       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS transactions_source_file_idx ON transactions (source_file);
`

const insertSQL = `
INSERT INTO transactions
	(transaction_id, request_id, transaction_date, merchant, description, amount, category, source_file, created_ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const listSQL = `
SELECT transaction_id, COALESCE(request_id, ''), transaction_date, merchant, description, amount, category, source_file, created_ts
FROM transactions
WHERE ($1 = '' OR source_file = $1)
ORDER BY created_ts DESC, transaction_date
LIMIT $2`

// Sink writes each batch in its own database transaction.
type Sink struct {
	db *sql.DB
}

// Open connects, verifies the connection and creates the table if needed.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("Open: dsn is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("Open: open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)

	timeout := cfg.ConnTimeout
	if timeout <= 0 {
		timeout = defaultConnTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: ping: %w", err)
	}

	s := &Sink{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the transactions table when it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	return nil
}

// Save inserts batch inside one transaction; either every row lands or none does.
func (s *Sink) Save(ctx context.Context, batch domain.Batch, tag domain.Tagging) error {
	rows := batch.Tag(tag.SourceFile)
	now := time.Now().UTC()

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for i, t := range rows {
			if _, err := stmt.ExecContext(ctx, insertArgs(t, tag.RequestID, now)...); err != nil {
				return fmt.Errorf("transaction %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return &domain.PersistenceError{Op: "postgres.Save", Err: mapError(err)}
	}

	log := logger.FromContext(ctx)
	log.Debug().Int("rows", len(rows)).Msg("transactions inserted")
	return nil
}

// List returns saved rows, newest first.
func (s *Sink) List(ctx context.Context, filter domain.ListFilter) ([]domain.StoredTransaction, error) {
	rows, err := s.db.QueryContext(ctx, listSQL, filter.SourceFile, filter.EffectiveLimit())
	if err != nil {
		return nil, &domain.PersistenceError{Op: "postgres.List", Err: err}
	}
	defer rows.Close()

	out := make([]domain.StoredTransaction, 0)
	for rows.Next() {
		st, err := scanTransaction(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "postgres.List", Err: err}
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "postgres.List", Err: err}
	}
	return out, nil
}

// Close closes the connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(sc scanner) (domain.StoredTransaction, error) {
	var (
		st     domain.StoredTransaction
		date   time.Time
		amount decimal.Decimal
	)
	err := sc.Scan(
		&st.ID,
		&st.RequestID,
		&date,
		&st.Merchant,
		&st.Description,
		&amount,
		&st.Category,
		&st.SourceFile,
		&st.CreatedAt,
	)
	if err != nil {
		return domain.StoredTransaction{}, err
	}
	st.TransactionDate = civil.DateOf(date)
	st.Amount = amount
	return st, nil
}

func insertArgs(t domain.Transaction, requestID string, now time.Time) []any {
	var reqID any
	if requestID != "" {
		reqID = requestID
	}
	return []any{
		uuid.NewString(),
		reqID,
		t.TransactionDate.In(time.UTC),
		t.Merchant,
		t.Description,
		t.Amount,
		t.Category,
		t.SourceFile,
		now,
	}
}

// ErrDuplicate is returned when a row collides with an existing primary key.
var ErrDuplicate = errors.New("duplicate transaction")

// mapError translates driver errors into package errors where one exists.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// withTx runs fn in a transaction, committing on success and rolling back otherwise.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
