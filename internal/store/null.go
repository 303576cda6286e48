package store

import (
	"context"
	"time"

	"github.com/mnemo-ai/mnemo/internal/model"
)

// NullStore accepts every operation and persists nothing. It exists so the
// memory subsystem can be disabled without callers growing nil checks.
type NullStore struct{}

// NewNullStore returns the no-op backend.
func NewNullStore() *NullStore {
	return &NullStore{}
}

// Put validates input and returns a synthesized entry that is never stored.
func (s *NullStore) Put(ctx context.Context, p PutParams) (*model.Entry, error) {
	if err := model.ValidateKeyContent(p.Key, p.Content); err != nil {
		return nil, err
	}
	category := p.Category
	if category == "" {
		category = model.CategoryConversation
	}
	now := time.Now().UTC()
	return &model.Entry{
		Key:       p.Key,
		Content:   p.Content,
		Category:  category,
		SessionID: p.SessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *NullStore) Recall(ctx context.Context, p RecallParams) ([]model.Entry, error) {
	return []model.Entry{}, nil
}

func (s *NullStore) Get(ctx context.Context, key string) (*model.Entry, bool, error) {
	return nil, false, nil
}

func (s *NullStore) List(ctx context.Context, p ListParams) ([]model.Entry, error) {
	return []model.Entry{}, nil
}

func (s *NullStore) Forget(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func (s *NullStore) Count(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *NullStore) HealthCheck(ctx context.Context) bool {
	return true
}

func (s *NullStore) Close() error {
	return nil
}
