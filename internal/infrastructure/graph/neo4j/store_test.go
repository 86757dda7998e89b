package neo4j

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

type fakeRunner struct {
	records   []*neo4j.Record
	err       error
	verifyErr error
	calls     int
	cypher    string
	params    map[string]any
}

func (f *fakeRunner) Read(_ context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	f.calls++
	f.cypher = cypher
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakeRunner) Verify(context.Context) error { return f.verifyErr }

func (f *fakeRunner) Close(context.Context) error { return nil }

func hitRecord(id, title, text string, score float64) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"id", "title", "text", "score"},
		Values: []any{id, title, text, score},
	}
}

func TestTraverseMapsRecordsToHits(t *testing.T) {
	runner := &fakeRunner{records: []*neo4j.Record{
		hitRecord("doc-5", "Phoenix", "Alice leads Project Phoenix", 2),
		hitRecord("", "", "orphan", 1),
		hitRecord("doc-1", "", "Bob works on Phoenix", 0.5),
	}}
	store := newStore(runner, Options{})

	hits, err := store.Traverse(context.Background(), []string{" Alice ", "alice", "Phoenix"}, 2, 5)
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].DocumentID != "doc-5" || hits[0].Score != 2 || hits[0].Title != "Phoenix" {
		t.Fatalf("unexpected first hit: %+v", hits[0])
	}
	seeds, _ := runner.params["seeds"].([]string)
	if len(seeds) != 2 || seeds[0] != "alice" || seeds[1] != "phoenix" {
		t.Fatalf("expected normalized seeds, got %v", runner.params["seeds"])
	}
	if runner.params["limit"] != 5 {
		t.Fatalf("expected limit 5, got %v", runner.params["limit"])
	}
}

func TestTraverseWithoutSeedsSkipsQuery(t *testing.T) {
	runner := &fakeRunner{}
	store := newStore(runner, Options{})

	hits, err := store.Traverse(context.Background(), []string{" ", ""}, 2, 5)
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}
	if len(hits) != 0 || runner.calls != 0 {
		t.Fatalf("expected no query, got hits=%d calls=%d", len(hits), runner.calls)
	}
}

func TestTraverseClampsHopRadius(t *testing.T) {
	if q := traverseQuery(0); !strings.Contains(q, "[*0..1]") {
		t.Fatalf("expected default radius in query, got %s", q)
	}
	if q := traverseQuery(99); !strings.Contains(q, "[*0..3]") {
		t.Fatalf("expected clamped radius in query, got %s", q)
	}
}

func TestTraversePropagatesRunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("syntax error")}
	store := newStore(runner, Options{})

	if _, err := store.Traverse(context.Background(), []string{"alice"}, 1, 5); err == nil {
		t.Fatalf("expected error")
	}
	if runner.calls != 1 {
		t.Fatalf("expected non-transient error to skip retries, got %d calls", runner.calls)
	}
}

func TestEnsureReadyReturnsConfigurationError(t *testing.T) {
	store := newStore(&fakeRunner{verifyErr: errors.New("connection refused")}, Options{})

	err := store.EnsureReady(context.Background())
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
