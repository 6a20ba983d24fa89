package domain

import (
	"context"
	"time"
)

// Tagging is the metadata a sink stamps on every row of a batch.
type Tagging struct {
	// SourceFile overrides each row's source_file when non-empty.
	SourceFile string
	RequestID  string
}

// StoredTransaction is a persisted row with its synthetic identifier.
type StoredTransaction struct {
	Transaction
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilter narrows a listing of stored rows.
type ListFilter struct {
	SourceFile string
	Limit      int
}

// DefaultListLimit caps listings when no limit is given.
const DefaultListLimit = 500

// EffectiveLimit returns the limit to apply.
func (f ListFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > DefaultListLimit {
		return DefaultListLimit
	}
	return f.Limit
}

// Sink appends finalized batches to durable storage. It performs a plain
// append; callers deduplicate by request id.
type Sink interface {
	Save(ctx context.Context, batch Batch, tag Tagging) error
	List(ctx context.Context, filter ListFilter) ([]StoredTransaction, error)
	Close() error
}
