package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

type engineFixture struct {
	embedder *fakeEmbedder
	vector   *fakeVectorIndex
	lexical  *fakeLexicalIndex
	graph    *fakeGraphStore
	cache    *memoryCache
	observer *countingObserver
	engine   *FusionEngine
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		embedder: &fakeEmbedder{},
		vector:   &fakeVectorIndex{hits: hits("doc-1", "doc-2", "doc-3")},
		lexical:  &fakeLexicalIndex{hits: hits("doc-2", "doc-4")},
		graph:    &fakeGraphStore{hits: hits("doc-5", "doc-1")},
		cache:    newMemoryCache(),
		observer: newCountingObserver(),
	}
	f.engine = NewFusionEngine(f.embedder, f.vector, f.lexical, f.graph, FusionEngineOptions{
		Cache:    f.cache,
		Observer: f.observer,
	})
	return f
}

func (f *engineFixture) pathCalls() (int32, int32, int32) {
	return f.vector.calls.Load(), f.lexical.calls.Load(), f.graph.calls.Load()
}

func TestFusionEngineHybridQueriesEveryPath(t *testing.T) {
	f := newEngineFixture()

	result, err := f.engine.Retrieve(context.Background(), domain.Query{Text: "Who leads Acme Corp?"}, domain.StrategyHybrid, domain.DefaultLoopPolicy())
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	v, l, g := f.pathCalls()
	if v != 1 || l != 1 || g != 1 {
		t.Fatalf("expected one call per path, got vector=%d lexical=%d graph=%d", v, l, g)
	}
	if len(result.Candidates) != 5 {
		t.Fatalf("expected top 5 candidates, got %d", len(result.Candidates))
	}
	if math.Abs(result.Weights.Sum()-1) > 1e-9 {
		t.Fatalf("expected active weights to sum to 1, got %v", result.Weights.Sum())
	}
	if result.CacheHit {
		t.Fatalf("expected first call to miss the cache")
	}
}

func TestFusionEngineSinglePathStrategiesSkipOtherPaths(t *testing.T) {
	cases := []struct {
		strategy            domain.Strategy
		wantV, wantL, wantG int32
	}{
		{domain.StrategyVectorOnly, 1, 0, 0},
		{domain.StrategyLexicalOnly, 0, 1, 0},
		{domain.StrategyGraphOnly, 0, 0, 1},
	}
	for _, tc := range cases {
		t.Run(string(tc.strategy), func(t *testing.T) {
			f := newEngineFixture()
			result, err := f.engine.Retrieve(context.Background(), domain.Query{Text: "acme corp leadership"}, tc.strategy, domain.DefaultLoopPolicy())
			if err != nil {
				t.Fatalf("retrieve: %v", err)
			}
			v, l, g := f.pathCalls()
			if v != tc.wantV || l != tc.wantL || g != tc.wantG {
				t.Fatalf("unexpected path calls vector=%d lexical=%d graph=%d", v, l, g)
			}
			if result.Weights.Sum() != 1 {
				t.Fatalf("expected single path weight 1.0, got %+v", result.Weights)
			}
		})
	}
}

func TestFusionEngineCacheHitSkipsPaths(t *testing.T) {
	f := newEngineFixture()
	policy := domain.DefaultLoopPolicy()

	first, err := f.engine.Retrieve(context.Background(), domain.Query{Text: "Who leads Acme Corp?"}, domain.StrategyHybrid, policy)
	if err != nil {
		t.Fatalf("first retrieve: %v", err)
	}
	second, err := f.engine.Retrieve(context.Background(), domain.Query{Text: "  who LEADS acme corp?  "}, domain.StrategyHybrid, policy)
	if err != nil {
		t.Fatalf("second retrieve: %v", err)
	}

	v, l, g := f.pathCalls()
	if v != 1 || l != 1 || g != 1 {
		t.Fatalf("expected cached second call, got vector=%d lexical=%d graph=%d", v, l, g)
	}
	if !second.CacheHit {
		t.Fatalf("expected second result to be a cache hit")
	}
	if len(first.Candidates) != len(second.Candidates) || first.Candidates[0].DocumentID != second.Candidates[0].DocumentID {
		t.Fatalf("expected cached result to match the computed one")
	}
	if f.observer.hits != 1 || f.observer.misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got hits=%d misses=%d", f.observer.hits, f.observer.misses)
	}
}

func TestFusionEngineCacheKeyIncludesStrategyAndWeights(t *testing.T) {
	f := newEngineFixture()
	policy := domain.DefaultLoopPolicy()
	q := domain.Query{Text: "acme"}

	if _, err := f.engine.Retrieve(context.Background(), q, domain.StrategyHybrid, policy); err != nil {
		t.Fatalf("hybrid: %v", err)
	}
	if _, err := f.engine.Retrieve(context.Background(), q, domain.StrategyVectorOnly, policy); err != nil {
		t.Fatalf("vector only: %v", err)
	}
	policy.Weights = domain.Weights{Vector: 0.2, Lexical: 0.2, Graph: 0.6}
	if _, err := f.engine.Retrieve(context.Background(), q, domain.StrategyHybrid, policy); err != nil {
		t.Fatalf("reweighted hybrid: %v", err)
	}
	if got := f.vector.calls.Load(); got != 3 {
		t.Fatalf("expected 3 distinct cache keys, vector called %d times", got)
	}
	if f.cache.sets != 3 {
		t.Fatalf("expected 3 cache writes, got %d", f.cache.sets)
	}
}

func TestFusionEngineConcurrentMissesComputeOnce(t *testing.T) {
	f := newEngineFixture()
	policy := domain.DefaultLoopPolicy()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Retrieve(context.Background(), domain.Query{Text: "acme"}, domain.StrategyLexicalOnly, policy)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("retrieve: %v", err)
		}
	}
	if got := f.lexical.calls.Load(); got != 1 {
		t.Fatalf("expected a single lexical query, got %d", got)
	}
}

func TestFusionEngineSharedRetrievalSurvivesCallerCancellation(t *testing.T) {
	f := newEngineFixture()
	f.vector.release = make(chan struct{})
	policy := domain.DefaultLoopPolicy()
	query := domain.Query{Text: "acme"}

	type outcome struct {
		result domain.FusionResult
		err    error
	}
	leaving := make(chan error, 2)
	staying := make(chan outcome, 2)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	go func() {
		_, err := f.engine.Retrieve(ctxA, query, domain.StrategyVectorOnly, policy)
		leaving <- err
	}()

	deadline := time.Now().Add(time.Second)
	for f.vector.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("vector search never started")
		}
		time.Sleep(time.Millisecond)
	}

	ctxB, cancelB := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelB()
	go func() {
		_, err := f.engine.Retrieve(ctxB, query, domain.StrategyVectorOnly, policy)
		leaving <- err
	}()
	for i := 0; i < 2; i++ {
		go func() {
			result, err := f.engine.Retrieve(context.Background(), query, domain.StrategyVectorOnly, policy)
			staying <- outcome{result: result, err: err}
		}()
	}

	// Let every caller join the in-flight search before the first one leaves.
	time.Sleep(30 * time.Millisecond)
	cancelA()

	for i := 0; i < 2; i++ {
		select {
		case err := <-leaving:
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("expected the departed caller to see its own context error, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("cancelled caller did not return")
		}
	}

	close(f.vector.release)
	for i := 0; i < 2; i++ {
		select {
		case got := <-staying:
			if got.err != nil {
				t.Fatalf("expected live caller to succeed, got %v", got.err)
			}
			if len(got.result.FailedPaths) != 0 || got.result.Empty() {
				t.Fatalf("expected a complete result for the live caller, got %+v", got.result)
			}
		case <-time.After(time.Second):
			t.Fatalf("live caller did not return")
		}
	}
	if calls := f.vector.calls.Load(); calls != 1 {
		t.Fatalf("expected one shared vector search, got %d", calls)
	}
	if f.cache.sets != 1 {
		t.Fatalf("expected the shared result to be cached once, got %d", f.cache.sets)
	}
}

func TestFusionEngineRenormalizesWhenPathFails(t *testing.T) {
	f := newEngineFixture()
	f.graph.err = errors.New("neo4j unavailable")

	result, err := f.engine.Retrieve(context.Background(), domain.Query{Text: "acme"}, domain.StrategyHybrid, domain.DefaultLoopPolicy())
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(result.FailedPaths) != 1 || result.FailedPaths[0] != domain.PathGraph {
		t.Fatalf("expected graph to be reported as failed, got %v", result.FailedPaths)
	}
	if result.Weights.Graph != 0 {
		t.Fatalf("expected graph weight dropped, got %v", result.Weights.Graph)
	}
	if math.Abs(result.Weights.Sum()-1) > 1e-9 {
		t.Fatalf("expected renormalized weights to sum to 1, got %v", result.Weights.Sum())
	}
	if math.Abs(result.Weights.Vector-2.0/3.0) > 1e-9 {
		t.Fatalf("expected vector weight 2/3 after renormalization, got %v", result.Weights.Vector)
	}
	if result.Empty() {
		t.Fatalf("expected non-empty result from the surviving paths")
	}
	for _, c := range result.Candidates {
		if c.DocumentID == "doc-5" {
			t.Fatalf("expected graph-only document to be absent")
		}
	}
	if f.observer.pathFailures[domain.PathGraph] != 1 {
		t.Fatalf("expected graph failure to be observed")
	}
	if f.cache.sets != 0 {
		t.Fatalf("expected degraded result not to be cached")
	}
}

func TestFusionEngineEmbedFailureFailsVectorPath(t *testing.T) {
	f := newEngineFixture()
	f.embedder.err = errors.New("embedding model down")

	result, err := f.engine.Retrieve(context.Background(), domain.Query{Text: "acme"}, domain.StrategyHybrid, domain.DefaultLoopPolicy())
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(result.FailedPaths) != 1 || result.FailedPaths[0] != domain.PathVector {
		t.Fatalf("expected vector path failure, got %v", result.FailedPaths)
	}
	if f.vector.calls.Load() != 0 {
		t.Fatalf("expected vector index not to be queried without an embedding")
	}
}

func TestFusionEngineAllPathsExhausted(t *testing.T) {
	f := newEngineFixture()
	f.vector.err = errors.New("qdrant down")
	f.lexical.err = errors.New("postgres down")
	f.graph.err = errors.New("neo4j down")

	_, err := f.engine.Retrieve(context.Background(), domain.Query{Text: "acme"}, domain.StrategyHybrid, domain.DefaultLoopPolicy())
	if !errors.Is(err, domain.ErrAllPathsExhausted) {
		t.Fatalf("expected ErrAllPathsExhausted, got %v", err)
	}
}

func TestFusionEnginePathTimeoutCountsAsFailure(t *testing.T) {
	f := newEngineFixture()
	f.vector.block = true
	policy := domain.DefaultLoopPolicy()
	policy.PathTimeout = 20 * time.Millisecond

	result, err := f.engine.Retrieve(context.Background(), domain.Query{Text: "acme"}, domain.StrategyHybrid, policy)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(result.FailedPaths) != 1 || result.FailedPaths[0] != domain.PathVector {
		t.Fatalf("expected timed out vector path, got %v", result.FailedPaths)
	}
}

func TestFusionEngineCancelledContext(t *testing.T) {
	f := newEngineFixture()
	f.vector.block = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Retrieve(ctx, domain.Query{Text: "acme"}, domain.StrategyHybrid, domain.DefaultLoopPolicy())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFusionEngineUsesHints(t *testing.T) {
	f := newEngineFixture()
	query := domain.Query{
		Text: "who runs the company",
		Hints: domain.PlanHints{
			VectorQuery:  "company leadership",
			LexicalQuery: "CEO Acme",
			GraphSeeds:   []string{"Acme Corp"},
		},
	}

	if _, err := f.engine.Retrieve(context.Background(), query, domain.StrategyHybrid, domain.DefaultLoopPolicy()); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got := f.embedder.last.Load(); got != "company leadership" {
		t.Fatalf("expected vector hint to be embedded, got %v", got)
	}
	if f.lexical.texts[0] != "CEO Acme" {
		t.Fatalf("expected lexical hint, got %q", f.lexical.texts[0])
	}
	if len(f.graph.seeds[0]) != 1 || f.graph.seeds[0][0] != "Acme Corp" {
		t.Fatalf("expected graph hint seeds, got %v", f.graph.seeds[0])
	}
}

func TestFusionEngineExtractsGraphSeeds(t *testing.T) {
	f := newEngineFixture()
	if _, err := f.engine.Retrieve(context.Background(), domain.Query{Text: "Who is the CEO of Acme?"}, domain.StrategyGraphOnly, domain.DefaultLoopPolicy()); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	seeds := f.graph.seeds[0]
	if len(seeds) != 2 || seeds[0] != "ceo" || seeds[1] != "acme" {
		t.Fatalf("expected seeds [ceo acme], got %v", seeds)
	}
}

func TestFusionEngineRejectsInvalidInput(t *testing.T) {
	f := newEngineFixture()
	_, err := f.engine.Retrieve(context.Background(), domain.Query{Text: "   "}, domain.StrategyHybrid, domain.DefaultLoopPolicy())
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	engine := NewFusionEngine(nil, nil, &fakeLexicalIndex{}, nil, FusionEngineOptions{})
	_, err = engine.Retrieve(context.Background(), domain.Query{Text: "acme"}, domain.StrategyGraphOnly, domain.DefaultLoopPolicy())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for unavailable path, got %v", err)
	}
	if engine.Supports(domain.StrategyVectorOnly, domain.DefaultHybridWeights()) {
		t.Fatalf("expected vector strategy unsupported without embedder")
	}
	if !engine.Supports(domain.StrategyHybrid, domain.DefaultHybridWeights()) {
		t.Fatalf("expected hybrid supported through the lexical path")
	}
}
