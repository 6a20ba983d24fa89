package bigquery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/logger"
)

const (
	DefaultDatasetID = "finance"
	DefaultTableID   = "transactions"
)

// Config locates the transactions table.
type Config struct {
	ProjectID string
	DatasetID string
	TableID   string
	// CreateTable creates the table on startup when it is missing.
	CreateTable bool
}

// Sink is the BigQuery implementation of domain.Sink. It holds a shared
// BigQuery client to avoid creating a new connection for each operation.
type Sink struct {
	client *bigquery.Client
	table  *bigquery.Table
	// mu serializes inserts so one batch is one Put.
	mu sync.Mutex
}

// NewSink creates a sink with its own client. Call Close when done.
func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("NewSink: project id is required")
	}
	if cfg.DatasetID == "" {
		cfg.DatasetID = DefaultDatasetID
	}
	if cfg.TableID == "" {
		cfg.TableID = DefaultTableID
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewSink: creating client: %w", err)
	}
	s := &Sink{
		client: client,
		table:  client.DatasetInProject(cfg.ProjectID, cfg.DatasetID).Table(cfg.TableID),
	}

	if cfg.CreateTable {
		if err := EnsureTableWithClient(ctx, s.table); err != nil {
			client.Close()
			return nil, fmt.Errorf("NewSink: %w", err)
		}
	}
	return s, nil
}

// Close closes the BigQuery client connection.
func (s *Sink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Save appends batch as one insert.
func (s *Sink) Save(ctx context.Context, batch domain.Batch, tag domain.Tagging) error {
	rows := toRows(batch, tag, time.Now().UTC())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := InsertTransactionsWithClient(ctx, s.table, rows); err != nil {
		return &domain.PersistenceError{Op: "bigquery.Save", Err: err}
	}

	log := logger.FromContext(ctx)
	log.Debug().Int("rows", len(rows)).Str("table", s.table.TableID).Msg("transactions inserted")
	return nil
}

// List returns saved rows, newest first.
func (s *Sink) List(ctx context.Context, filter domain.ListFilter) ([]domain.StoredTransaction, error) {
	rows, err := ListTransactionsWithClient(ctx, s.client, s.table, filter.SourceFile, filter.EffectiveLimit())
	if err != nil {
		return nil, &domain.PersistenceError{Op: "bigquery.List", Err: err}
	}
	out := make([]domain.StoredTransaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}
