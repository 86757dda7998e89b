package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/resilience"
)

const (
	defaultHopRadius = 2
	maxHopRadius     = 4
)

type Options struct {
	URI      string
	Username string
	Password string
	Database string
	Timeout  time.Duration
	Executor *resilience.Executor
}

// runner executes a read query and returns its records. The driver-backed
// implementation routes to readers.
type runner interface {
	Read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error)
	Verify(ctx context.Context) error
	Close(ctx context.Context) error
}

// Store ranks documents by how many seed entities reach them and how close
// the nearest seed is in the knowledge graph.
type Store struct {
	runner   runner
	timeout  time.Duration
	executor *resilience.Executor
}

func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.URI) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "neo4j", errors.New("uri is required"))
	}
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.Username, opts.Password, ""))
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "neo4j", fmt.Errorf("create driver: %w", err))
	}
	return newStore(&driverRunner{driver: driver, database: opts.Database}, opts), nil
}

func newStore(r runner, opts Options) *Store {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	executor := opts.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 1})
	}
	return &Store{runner: r, timeout: timeout, executor: executor}
}

func (s *Store) Traverse(ctx context.Context, seedEntities []string, hopRadius int, topK int) ([]domain.PathHit, error) {
	seeds := normalizeSeeds(seedEntities)
	if len(seeds) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}
	cypher := traverseQuery(hopRadius)
	params := map[string]any{"seeds": seeds, "limit": topK}

	records, err := resilience.Call(ctx, s.executor, "neo4j.traverse", func(callCtx context.Context) ([]*neo4j.Record, error) {
		reqCtx, cancel := context.WithTimeout(callCtx, s.timeout)
		defer cancel()
		records, err := s.runner.Read(reqCtx, cypher, params)
		if err != nil {
			return nil, wrapTemporaryIfNeeded(err)
		}
		return records, nil
	}, classifyNeo4jError)
	if err != nil {
		return nil, fmt.Errorf("graph traverse: %w", err)
	}

	hits := make([]domain.PathHit, 0, len(records))
	for _, record := range records {
		hit, ok := recordToHit(record)
		if !ok {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) EnsureReady(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.runner.Verify(reqCtx); err != nil {
		return domain.WrapError(domain.ErrConfiguration, "neo4j", fmt.Errorf("verify connectivity: %w", err))
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.runner.Close(ctx)
}

// traverseQuery inlines the hop radius because cypher does not accept a
// parameter as a variable-length bound.
func traverseQuery(hopRadius int) string {
	if hopRadius <= 0 {
		hopRadius = defaultHopRadius
	}
	if hopRadius > maxHopRadius {
		hopRadius = maxHopRadius
	}
	return fmt.Sprintf(`
MATCH (seed:Entity) WHERE toLower(seed.name) IN $seeds
MATCH p = (seed)-[*0..%d]-(e:Entity)-[:MENTIONED_IN]->(d:Document)
WITH d, count(DISTINCT seed) AS matched, min(length(p)) AS distance
RETURN d.id AS id, coalesce(d.title, '') AS title, coalesce(d.text, '') AS text,
	toFloat(matched) / (1.0 + distance) AS score
ORDER BY score DESC, id ASC
LIMIT $limit
`, hopRadius-1)
}

func recordToHit(record *neo4j.Record) (domain.PathHit, bool) {
	id, _, err := neo4j.GetRecordValue[string](record, "id")
	if err != nil || strings.TrimSpace(id) == "" {
		return domain.PathHit{}, false
	}
	title, _, _ := neo4j.GetRecordValue[string](record, "title")
	text, _, _ := neo4j.GetRecordValue[string](record, "text")
	score, _, _ := neo4j.GetRecordValue[float64](record, "score")
	return domain.PathHit{DocumentID: id, Title: title, Text: text, Score: score}, true
}

func normalizeSeeds(seeds []string) []string {
	out := make([]string, 0, len(seeds))
	seen := make(map[string]struct{}, len(seeds))
	for _, seed := range seeds {
		seed = strings.ToLower(strings.TrimSpace(seed))
		if seed == "" {
			continue
		}
		if _, ok := seen[seed]; ok {
			continue
		}
		seen[seed] = struct{}{}
		out = append(out, seed)
	}
	return out
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r *driverRunner) Read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if r.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(r.database))
	}
	result, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

func (r *driverRunner) Verify(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

func (r *driverRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
