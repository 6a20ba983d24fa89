// Package memory is an in-process transaction sink for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-pipeline/internal/domain"
)

// Sink keeps saved rows in memory.
type Sink struct {
	mu   sync.RWMutex
	rows []domain.StoredTransaction
	// SaveErr, when set, is returned by Save as a persistence error.
	SaveErr error
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// Save appends the batch atomically.
func (s *Sink) Save(ctx context.Context, batch domain.Batch, tag domain.Tagging) error {
	if err := ctx.Err(); err != nil {
		return &domain.PersistenceError{Op: "memory.Save", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return &domain.PersistenceError{Op: "memory.Save", Err: s.SaveErr}
	}

	now := time.Now().UTC()
	for _, t := range batch.Tag(tag.SourceFile) {
		s.rows = append(s.rows, domain.StoredTransaction{
			Transaction: t,
			ID:          uuid.NewString(),
			RequestID:   tag.RequestID,
			CreatedAt:   now,
		})
	}
	return nil
}

// List returns saved rows in insertion order.
func (s *Sink) List(ctx context.Context, filter domain.ListFilter) ([]domain.StoredTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.EffectiveLimit()
	out := make([]domain.StoredTransaction, 0)
	for _, r := range s.rows {
		if filter.SourceFile != "" && r.SourceFile != filter.SourceFile {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored rows.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}
