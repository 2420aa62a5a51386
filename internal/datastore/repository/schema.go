package repository

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// lazySchema runs AutoMigrate for a set of models the first time a repository
// touches the database. A failed migration is retried on the next call.
type lazySchema struct {
	models []any
	mu     sync.Mutex
	done   bool
}

func newLazySchema(models ...any) *lazySchema {
	return &lazySchema{models: models}
}

func (s *lazySchema) ensure(ctx context.Context, db *gorm.DB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	if err := db.WithContext(ctx).AutoMigrate(s.models...); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.done = true
	return nil
}
