package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/core/ports"
)

// Tiered reads the local tier first and falls back to the shared tier,
// back-filling local on a shared hit. Shared tier errors degrade to a miss.
type Tiered struct {
	local  ports.ResultCache
	shared ports.ResultCache
	logger *slog.Logger
}

func NewTiered(local, shared ports.ResultCache, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{local: local, shared: shared, logger: logger}
}

func (t *Tiered) Get(ctx context.Context, key string) (domain.FusionResult, error) {
	if result, err := t.local.Get(ctx, key); err == nil {
		return result, nil
	}
	result, err := t.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			t.logger.Warn("cache_shared_get_failed", "key", key, "error", err)
		}
		return domain.FusionResult{}, domain.ErrCacheMiss
	}
	_ = t.local.Set(ctx, key, domain.CacheEntry{Key: key, Strategy: result.Strategy, Weights: result.Weights, Result: result})
	return result, nil
}

func (t *Tiered) Set(ctx context.Context, key string, entry domain.CacheEntry) error {
	if err := t.local.Set(ctx, key, entry); err != nil {
		return err
	}
	if err := t.shared.Set(ctx, key, entry); err != nil {
		t.logger.Warn("cache_shared_set_failed", "key", key, "error", err)
	}
	return nil
}
