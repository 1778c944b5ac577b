package storage

import (
	"context"
	"sync"

	"github.com/HatiCode/shedcast/pkg/models"
)

// MemoryStore implements an in-memory store for trained models.
// It is safe for concurrent use by multiple goroutines.
//
// Models live as long as the process. For durability across restarts use
// FileStore or RedisStore.
type MemoryStore struct {
	mu     sync.RWMutex
	models map[string]models.TrainedModel
}

// NewMemoryStore creates a new, empty in-memory model store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		models: make(map[string]models.TrainedModel),
	}
}

// Save stores a model under its scope, replacing any existing model.
//
// Returns an error if the model is invalid or if the context is canceled.
func (s *MemoryStore) Save(ctx context.Context, model models.TrainedModel) error {
	if err := model.Validate(); err != nil {
		return err
	}
	if err := ValidateScope(model.Scope); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.models[model.Scope] = model
	return nil
}

// Load retrieves the model for a scope.
//
// Returns:
//   - model: The stored model (zero value if not found)
//   - found: true if a model exists for this scope, false otherwise
//   - error: Context error if context is canceled, nil otherwise
func (s *MemoryStore) Load(ctx context.Context, scope string) (models.TrainedModel, bool, error) {
	select {
	case <-ctx.Done():
		return models.TrainedModel{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	model, found := s.models[scope]
	return model, found, nil
}

// Len returns the number of scopes with a stored model.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}

// Delete removes the model for a scope.
// Returns true if a model was deleted, false if none existed.
func (s *MemoryStore) Delete(scope string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.models[scope]
	delete(s.models, scope)
	return existed
}
