package lru

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

const (
	defaultSize = 1024
	defaultTTL  = 10 * time.Minute
)

// Store is the in-process fusion result cache. Entries expire after the
// TTL and the least recently used entry is evicted at capacity.
type Store struct {
	entries *expirable.LRU[string, domain.CacheEntry]
}

func New(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{entries: expirable.NewLRU[string, domain.CacheEntry](size, nil, ttl)}
}

func (s *Store) Get(_ context.Context, key string) (domain.FusionResult, error) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return domain.FusionResult{}, domain.ErrCacheMiss
	}
	return entry.Result, nil
}

func (s *Store) Set(_ context.Context, key string, entry domain.CacheEntry) error {
	s.entries.Add(key, entry)
	return nil
}

func (s *Store) Len() int {
	return s.entries.Len()
}
