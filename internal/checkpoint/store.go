// Package checkpoint records which estimation partitions have finished so an
// interrupted run can resume without repeating forward passes, and so
// concurrent workers sharing a cache do not process the same partition twice.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/certstack/delcert/internal/cache"
)

// Store tracks per-partition progress for a named run. Completed partitions
// carry an opaque payload (the partition's serialized scores) so resumed runs
// can reassemble score vectors without redoing forward passes.
type Store interface {
	// Claim marks a partition as in-flight. It reports false when another
	// worker already holds the claim or has completed the partition.
	Claim(ctx context.Context, runID, inputID string, partition int) (bool, error)
	// Complete marks a partition as done and records its payload.
	Complete(ctx context.Context, runID, inputID string, partition int, payload []byte) error
	// Load returns the payload of a completed partition, or (nil, false)
	// when the partition has not completed.
	Load(ctx context.Context, runID, inputID string, partition int) ([]byte, bool, error)
	// Release drops an in-flight claim so the partition can be retried,
	// typically after a failed attempt. Completion markers survive.
	Release(ctx context.Context, runID, inputID string, partition int) error
}

// Stored values are tagged by their first byte so a claim marker can never be
// mistaken for a completed payload.
const (
	tagClaimed byte = 'c'
	tagDone    byte = 'd'
)

// CacheStore implements Store on top of a cache.Provider. Claims carry a TTL
// so a crashed worker's partition becomes claimable again; completion markers
// are written without expiry.
type CacheStore struct {
	provider cache.Provider
	claimTTL time.Duration
}

// NewCacheStore wraps a provider. A non-positive claimTTL defaults to five
// minutes.
func NewCacheStore(provider cache.Provider, claimTTL time.Duration) *CacheStore {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if claimTTL <= 0 {
		claimTTL = 5 * time.Minute
	}
	return &CacheStore{provider: provider, claimTTL: claimTTL}
}

func (s *CacheStore) Claim(ctx context.Context, runID, inputID string, partition int) (bool, error) {
	if _, done, err := s.Load(ctx, runID, inputID, partition); err != nil || done {
		return false, err
	}
	return s.provider.SetNX(ctx, key(runID, inputID, partition), []byte{tagClaimed}, s.claimTTL)
}

func (s *CacheStore) Complete(ctx context.Context, runID, inputID string, partition int, payload []byte) error {
	value := make([]byte, 0, len(payload)+1)
	value = append(value, tagDone)
	value = append(value, payload...)
	return s.provider.Set(ctx, key(runID, inputID, partition), value, 0)
}

func (s *CacheStore) Load(ctx context.Context, runID, inputID string, partition int) ([]byte, bool, error) {
	value, err := s.provider.Get(ctx, key(runID, inputID, partition))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(value) == 0 || value[0] != tagDone {
		return nil, false, nil
	}
	return value[1:], true, nil
}

func (s *CacheStore) Release(ctx context.Context, runID, inputID string, partition int) error {
	if _, done, err := s.Load(ctx, runID, inputID, partition); err != nil || done {
		return err
	}
	return s.provider.Del(ctx, key(runID, inputID, partition))
}

func key(runID, inputID string, partition int) string {
	return fmt.Sprintf("ckpt:%s:%s:%d", runID, inputID, partition)
}
