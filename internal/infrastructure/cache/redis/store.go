package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

const defaultTTL = time.Hour

// Store keeps cache entries as JSON documents so other processes can read
// and write the same keys.
type Store struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

func New(client goredis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Dial connects to addr and verifies the server answers PING.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, domain.WrapError(domain.ErrConfiguration, "redis ping", err)
	}
	return client, nil
}

func (s *Store) Get(ctx context.Context, key string) (domain.FusionResult, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.FusionResult{}, domain.ErrCacheMiss
		}
		return domain.FusionResult{}, domain.WrapError(domain.ErrTemporary, "redis get", err)
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is treated as absent; the next Set overwrites it.
		return domain.FusionResult{}, domain.ErrCacheMiss
	}
	return entry.Result, nil
}

func (s *Store) Set(ctx context.Context, key string, entry domain.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrTemporary, "redis set", err)
	}
	return nil
}
