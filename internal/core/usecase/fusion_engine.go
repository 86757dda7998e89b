package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/core/ports"
)

const cacheKeyPrefix = "rag:fusion:"

type FusionEngineOptions struct {
	Cache    ports.ResultCache
	Observer ports.EpisodeObserver
	Logger   *slog.Logger
}

// FusionEngine runs one retrieval attempt: it queries the paths a strategy
// enables, fuses their rankings and caches the outcome.
type FusionEngine struct {
	embedder ports.Embedder
	vector   ports.VectorIndex
	lexical  ports.LexicalIndex
	graph    ports.GraphStore

	cache    ports.ResultCache
	observer ports.EpisodeObserver
	logger   *slog.Logger

	// flights makes concurrent misses on one key share a single computation.
	flights singleflight.Group
	now     func() time.Time
}

// NewFusionEngine wires the path collaborators. A nil collaborator makes its
// path unavailable; strategies that only use unavailable paths are
// unsupported.
func NewFusionEngine(
	embedder ports.Embedder,
	vector ports.VectorIndex,
	lexical ports.LexicalIndex,
	graph ports.GraphStore,
	options FusionEngineOptions,
) *FusionEngine {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := options.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	if embedder == nil {
		vector = nil
	}
	return &FusionEngine{
		embedder: embedder,
		vector:   vector,
		lexical:  lexical,
		graph:    graph,
		cache:    options.Cache,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

func (e *FusionEngine) available(p domain.Path) bool {
	switch p {
	case domain.PathVector:
		return e.vector != nil
	case domain.PathLexical:
		return e.lexical != nil
	case domain.PathGraph:
		return e.graph != nil
	default:
		return false
	}
}

// enabledPaths is the set of paths a strategy will query: enabled by the
// strategy, backed by a collaborator and carrying positive weight.
func (e *FusionEngine) enabledPaths(strategy domain.Strategy, weights domain.Weights) []domain.Path {
	active := weights.ForStrategy(strategy)
	out := make([]domain.Path, 0, 3)
	for _, p := range strategy.Paths() {
		if e.available(p) && active.Of(p) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Supports reports whether the strategy has at least one queryable path.
func (e *FusionEngine) Supports(strategy domain.Strategy, weights domain.Weights) bool {
	return len(e.enabledPaths(strategy, weights)) > 0
}

type pathOutcome struct {
	path domain.Path
	hits []domain.PathHit
	err  error
}

// Retrieve performs one attempt. A cache hit returns the stored result
// without querying any path. Failed paths are dropped and the remaining
// weights renormalized; ErrAllPathsExhausted is returned when nothing
// succeeded.
func (e *FusionEngine) Retrieve(
	ctx context.Context,
	query domain.Query,
	strategy domain.Strategy,
	policy domain.LoopPolicy,
) (domain.FusionResult, error) {
	policy = policy.Normalize()
	if strings.TrimSpace(query.Text) == "" {
		return domain.FusionResult{}, domain.WrapError(domain.ErrInvalidInput, "fusion retrieve", fmt.Errorf("query text is empty"))
	}
	paths := e.enabledPaths(strategy, policy.Weights)
	if len(paths) == 0 {
		return domain.FusionResult{}, domain.WrapError(domain.ErrConfiguration, "fusion retrieve", fmt.Errorf("strategy %q has no available retrieval path", strategy))
	}
	weights := policy.Weights.ForStrategy(strategy).Restrict(paths)
	key := fusionCacheKey(query, strategy, weights, policy)

	if cached, ok := e.lookup(ctx, key, true); ok {
		return cached, nil
	}

	return e.join(ctx, key, query, strategy, paths, weights, policy)
}

// join shares one computation per key between concurrent callers. The
// computation is detached from any single caller, so one caller leaving
// does not fail the others; per-path timeouts bound it. Each caller waits
// only as long as its own context allows.
func (e *FusionEngine) join(
	ctx context.Context,
	key string,
	query domain.Query,
	strategy domain.Strategy,
	paths []domain.Path,
	weights domain.Weights,
	policy domain.LoopPolicy,
) (domain.FusionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.FusionResult{}, err
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := e.flights.DoChan(key, func() (any, error) {
		if cached, ok := e.lookup(flightCtx, key, false); ok {
			return cached, nil
		}
		result, err := e.compute(flightCtx, query, strategy, paths, weights, policy)
		if err != nil {
			return domain.FusionResult{}, err
		}
		e.store(flightCtx, key, query, strategy, weights, result)
		return result, nil
	})

	select {
	case <-ctx.Done():
		return domain.FusionResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.FusionResult{}, res.Err
		}
		return res.Val.(domain.FusionResult), nil
	}
}

func (e *FusionEngine) lookup(ctx context.Context, key string, observe bool) (domain.FusionResult, bool) {
	if e.cache == nil {
		return domain.FusionResult{}, false
	}
	cached, err := e.cache.Get(ctx, key)
	if err != nil {
		if !domain.IsKind(err, domain.ErrCacheMiss) {
			e.logger.Warn("fusion_cache_get_failed", "key", key, "error", err)
		}
		if observe {
			e.observer.ObserveCache(false)
		}
		return domain.FusionResult{}, false
	}
	if observe {
		e.observer.ObserveCache(true)
	}
	cached.CacheHit = true
	return cached, true
}

// store skips results from degraded attempts so a transient path outage is
// not frozen into the cache.
func (e *FusionEngine) store(
	ctx context.Context,
	key string,
	query domain.Query,
	strategy domain.Strategy,
	weights domain.Weights,
	result domain.FusionResult,
) {
	if e.cache == nil || len(result.FailedPaths) > 0 {
		return
	}
	entry := domain.CacheEntry{
		Key:       key,
		Query:     normalizeQuery(query.Text),
		Strategy:  strategy,
		Weights:   weights,
		Result:    result,
		CreatedAt: e.now().UTC(),
	}
	if err := e.cache.Set(ctx, key, entry); err != nil {
		e.logger.Warn("fusion_cache_set_failed", "key", key, "error", err)
	}
}

func (e *FusionEngine) compute(
	ctx context.Context,
	query domain.Query,
	strategy domain.Strategy,
	paths []domain.Path,
	weights domain.Weights,
	policy domain.LoopPolicy,
) (domain.FusionResult, error) {
	outcomes := make([]pathOutcome, len(paths))

	// Paths are independent; failures are collected per path, so no
	// goroutine returns an error to the group.
	var group errgroup.Group
	for i, p := range paths {
		group.Go(func() error {
			pathCtx, cancel := context.WithTimeout(ctx, policy.PathTimeout)
			defer cancel()
			hits, err := e.queryPath(pathCtx, p, query, policy)
			outcomes[i] = pathOutcome{path: p, hits: hits, err: err}
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return domain.FusionResult{}, err
	}

	succeeded := make([]domain.PathResult, 0, len(outcomes))
	succeededPaths := make([]domain.Path, 0, len(outcomes))
	var failed []domain.Path
	var errs []error
	for _, outcome := range outcomes {
		if outcome.err != nil {
			failed = append(failed, outcome.path)
			errs = append(errs, fmt.Errorf("%s: %w", outcome.path, outcome.err))
			e.observer.ObservePathFailure(outcome.path)
			e.logger.Warn("path_failed",
				"path", string(outcome.path),
				"strategy", string(strategy),
				"error", outcome.err,
			)
			continue
		}
		succeeded = append(succeeded, domain.PathResult{Path: outcome.path, Hits: outcome.hits})
		succeededPaths = append(succeededPaths, outcome.path)
	}

	if len(succeeded) == 0 {
		return domain.FusionResult{}, domain.WrapError(domain.ErrAllPathsExhausted, "fusion retrieve", errors.Join(errs...))
	}

	active := weights
	if len(failed) > 0 {
		active = weights.Restrict(succeededPaths)
	}

	candidates := fuseWeightedRRF(succeeded, active, policy.RRFK, policy.DedupByContent)
	return domain.FusionResult{
		Strategy:    strategy,
		Weights:     active,
		Candidates:  trimCandidates(candidates, policy.TopN),
		FailedPaths: failed,
	}, nil
}

func (e *FusionEngine) queryPath(ctx context.Context, p domain.Path, query domain.Query, policy domain.LoopPolicy) ([]domain.PathHit, error) {
	var (
		hits []domain.PathHit
		err  error
	)
	switch p {
	case domain.PathVector:
		text := firstNonEmpty(query.Hints.VectorQuery, query.Text)
		var vector []float32
		vector, err = e.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, domain.WrapError(domain.ErrPathFailure, "embed query", err)
		}
		hits, err = e.vector.Search(ctx, vector, policy.PathTopK)
	case domain.PathLexical:
		hits, err = e.lexical.Search(ctx, firstNonEmpty(query.Hints.LexicalQuery, query.Text), policy.PathTopK)
	case domain.PathGraph:
		seeds := query.Hints.GraphSeeds
		if len(seeds) == 0 {
			seeds = extractSeedEntities(query.Text)
		}
		if len(seeds) == 0 {
			return nil, nil
		}
		hits, err = e.graph.Traverse(ctx, seeds, policy.HopRadius, policy.PathTopK)
	default:
		return nil, fmt.Errorf("unknown path %q", p)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrPathFailure, string(p)+" search", err)
	}
	return hits, nil
}

// fusionCacheKey identifies a result by normalized query, strategy and the
// weight configuration, including the parameters that change the ranking.
func fusionCacheKey(query domain.Query, strategy domain.Strategy, weights domain.Weights, policy domain.LoopPolicy) string {
	parts := []string{
		normalizeQuery(query.Text),
		string(strategy),
		weights.Fingerprint(),
		"top_n=" + strconv.Itoa(policy.TopN),
		"path_top_k=" + strconv.Itoa(policy.PathTopK),
		"rrf_k=" + strconv.Itoa(policy.RRFK),
		"hops=" + strconv.Itoa(policy.HopRadius),
		"dedup=" + strconv.FormatBool(policy.DedupByContent),
	}
	if hints := query.Hints.Fingerprint(); hints != "" {
		parts = append(parts, hints)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return cacheKeyPrefix + hex.EncodeToString(sum[:16])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type noopObserver struct{}

func (noopObserver) ObserveEpisode(domain.EpisodeEvent, error) {}
func (noopObserver) ObservePathFailure(domain.Path)            {}
func (noopObserver) ObserveCache(bool)                         {}
