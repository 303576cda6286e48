// Package store provides the memory interface and its backend
// implementations: the indexed local store (SQLite, hybrid search), the
// human-readable file store, the remote relational store (Postgres), the
// bridge store, and the null store.
package store

import (
	"context"

	"github.com/mnemo-ai/mnemo/internal/model"
)

// PutParams holds parameters for storing an entry.
type PutParams struct {
	Key       string
	Content   string
	Category  model.Category // empty defaults to conversation
	SessionID string
}

// RecallParams holds parameters for relevance search.
type RecallParams struct {
	Query string
	Limit int
	// SessionID, when set, restricts results to entries tagged with the
	// same session plus entries with no session tag. It is an isolation
	// filter, not a lock: concurrent sessions share the same store.
	SessionID string
}

// ListParams holds optional filters for listing entries.
type ListParams struct {
	Category  model.Category
	SessionID string
}

// Store is the contract every memory backend implements. The orchestration
// layer depends on this interface only and never downcasts to a concrete
// backend. Implementations normalize backend-specific failures to the
// model error taxonomy rather than leaking driver errors.
type Store interface {
	// Put stores or overwrites the entry with the given key. Duplicate
	// keys upsert: content is replaced, updated_at advances, id and
	// created_at are preserved. It fails only on validation or backend
	// I/O errors, never on a duplicate key.
	Put(ctx context.Context, p PutParams) (*model.Entry, error)

	// Recall returns up to Limit entries ranked by descending relevance
	// with Score populated in [0,1]. An empty query or zero matches
	// yields an empty slice, not an error.
	Recall(ctx context.Context, p RecallParams) ([]model.Entry, error)

	// Get returns the entry for key. The boolean reports presence; a
	// missing key is not an error.
	Get(ctx context.Context, key string) (*model.Entry, bool, error)

	// List returns entries matching the optional filters, unranked, in
	// timestamp order.
	List(ctx context.Context, p ListParams) ([]model.Entry, error)

	// Forget removes the entry for key and reports whether it existed.
	Forget(ctx context.Context, key string) (bool, error)

	// Count returns the total entry count.
	Count(ctx context.Context) (int, error)

	// HealthCheck reports backend liveness. It never returns an error.
	HealthCheck(ctx context.Context) bool

	// Close releases backend resources.
	Close() error
}
