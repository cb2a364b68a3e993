package spill

import (
	"context"

	"github.com/objectfs/arraycache/pkg/retry"
	"github.com/objectfs/arraycache/pkg/types"
)

// RetryingStore repeats failed requests against the wrapped store using
// exponential backoff.
type RetryingStore struct {
	store   Store
	retryer *retry.Retryer
}

// WithRetry wraps store so Write, Read and Delete go through retryer
func WithRetry(store Store, retryer *retry.Retryer) *RetryingStore {
	return &RetryingStore{store: store, retryer: retryer}
}

// Unwrap returns the wrapped store
func (s *RetryingStore) Unwrap() Store {
	return s.store
}

// Name implements Store
func (s *RetryingStore) Name(id types.ID) string {
	return s.store.Name(id)
}

// Location implements Store
func (s *RetryingStore) Location() string {
	return s.store.Location()
}

// Write implements Store
func (s *RetryingStore) Write(ctx context.Context, name string, data []byte) error {
	return s.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return s.store.Write(ctx, name, data)
	})
}

// Read implements Store
func (s *RetryingStore) Read(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		var err error
		data, err = s.store.Read(ctx, name)
		return err
	})
	return data, err
}

// Delete implements Store
func (s *RetryingStore) Delete(ctx context.Context, name string) error {
	return s.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, name)
	})
}
