package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

type fakeEmbedder struct {
	err   error
	calls atomic.Int32
	last  atomic.Value
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	f.last.Store(text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeVectorIndex struct {
	hits  []domain.PathHit
	err   error
	block bool
	// release, when set, holds the search until it is closed.
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeVectorIndex) Search(ctx context.Context, _ []float32, topK int) ([]domain.PathHit, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return limitHits(f.hits, topK), nil
}

type fakeLexicalIndex struct {
	hits  []domain.PathHit
	err   error
	calls atomic.Int32
	mu    sync.Mutex
	texts []string
}

func (f *fakeLexicalIndex) Search(_ context.Context, text string, topK int) ([]domain.PathHit, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return limitHits(f.hits, topK), nil
}

type fakeGraphStore struct {
	hits  []domain.PathHit
	err   error
	calls atomic.Int32
	mu    sync.Mutex
	seeds [][]string
}

func (f *fakeGraphStore) Traverse(_ context.Context, seeds []string, _ int, topK int) ([]domain.PathHit, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seeds = append(f.seeds, append([]string(nil), seeds...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return limitHits(f.hits, topK), nil
}

func limitHits(in []domain.PathHit, topK int) []domain.PathHit {
	if topK > 0 && len(in) > topK {
		return in[:topK]
	}
	return in
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]domain.CacheEntry{}}
}

func (c *memoryCache) Get(_ context.Context, key string) (domain.FusionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return domain.FusionResult{}, domain.ErrCacheMiss
	}
	return entry.Result, nil
}

func (c *memoryCache) Set(_ context.Context, key string, entry domain.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	c.sets++
	return nil
}

type countingObserver struct {
	mu           sync.Mutex
	episodes     []domain.EpisodeEvent
	episodeErrs  []error
	pathFailures map[domain.Path]int
	hits, misses int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{pathFailures: map[domain.Path]int{}}
}

func (o *countingObserver) ObserveEpisode(event domain.EpisodeEvent, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.episodes = append(o.episodes, event)
	o.episodeErrs = append(o.episodeErrs, err)
}

func (o *countingObserver) ObservePathFailure(p domain.Path) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pathFailures[p]++
}

func (o *countingObserver) ObserveCache(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
		return
	}
	o.misses++
}

// scriptedGenerator returns queued replies in order and repeats the last.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := len(g.prompts)
	g.prompts = append(g.prompts, prompt)
	var err error
	if len(g.errs) > 0 {
		err = g.errs[min(idx, len(g.errs)-1)]
	}
	if err != nil {
		return "", err
	}
	if len(g.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	return g.replies[min(idx, len(g.replies)-1)], nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}
