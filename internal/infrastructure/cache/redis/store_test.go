package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

func newStoreWithServer(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Minute), server
}

func TestSetStoresJSONEntryWithTTL(t *testing.T) {
	store, server := newStoreWithServer(t)

	entry := domain.CacheEntry{
		Key:      "rag:fusion:abc",
		Query:    "rotate keys",
		Strategy: domain.StrategyHybrid,
		Weights:  domain.Weights{Vector: 0.6, Lexical: 0.3, Graph: 0.1},
		Result: domain.FusionResult{
			Strategy:   domain.StrategyHybrid,
			Candidates: []domain.DocumentCandidate{{DocumentID: "doc-1", FusedScore: 0.016}},
		},
	}
	if err := store.Set(context.Background(), entry.Key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	raw, err := server.Get(entry.Key)
	if err != nil {
		t.Fatalf("server.Get() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("stored value is not json: %v", err)
	}
	if decoded["query"] != "rotate keys" || decoded["strategy"] != "hybrid" {
		t.Fatalf("unexpected stored entry: %v", decoded)
	}
	if ttl := server.TTL(entry.Key); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %s", ttl)
	}

	result, err := store.Get(context.Background(), entry.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].DocumentID != "doc-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestGetMissingKeyReturnsCacheMiss(t *testing.T) {
	store, _ := newStoreWithServer(t)

	_, err := store.Get(context.Background(), "rag:fusion:none")
	if !domain.IsKind(err, domain.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestGetCorruptEntryReturnsCacheMiss(t *testing.T) {
	store, server := newStoreWithServer(t)
	if err := server.Set("rag:fusion:bad", "{not json"); err != nil {
		t.Fatalf("server.Set() error = %v", err)
	}

	_, err := store.Get(context.Background(), "rag:fusion:bad")
	if !domain.IsKind(err, domain.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestGetReturnsTemporaryWhenServerDown(t *testing.T) {
	store, server := newStoreWithServer(t)
	server.Close()

	_, err := store.Get(context.Background(), "rag:fusion:abc")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}
