// Package model defines the core memory data types and error taxonomy.
package model

import "time"

// Category partitions entries by retention and context-injection behavior.
// Values outside the predefined set are caller-defined custom namespaces.
type Category string

const (
	// CategoryCore entries are permanent and curated; the orchestration
	// layer injects them into the agent context at session start. Hygiene
	// never archives or prunes them.
	CategoryCore Category = "core"
	// CategoryDaily entries form the append-only per-day session log.
	CategoryDaily Category = "daily"
	// CategoryConversation entries are short-lived turn context, optionally
	// scoped to a session, and subject to retention pruning.
	CategoryConversation Category = "conversation"
)

// IsBuiltin reports whether c is one of the predefined categories.
func (c Category) IsBuiltin() bool {
	switch c {
	case CategoryCore, CategoryDaily, CategoryConversation:
		return true
	}
	return false
}

// Entry is the universal memory record shared by all backends.
type Entry struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	Category  Category  `json:"category"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Embedding is the stored vector, present only in backends with
	// vector search. Never serialized to callers.
	Embedding []float32 `json:"-"`
	// Score is the fused relevance in [0,1]. It is populated only on
	// entries returned by Recall and is never persisted.
	Score float64 `json:"score,omitempty"`
}
