package ports

import (
	"context"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

// VectorIndex ranks documents by embedding similarity, descending.
type VectorIndex interface {
	Search(ctx context.Context, queryVector []float32, topK int) ([]domain.PathHit, error)
}

// LexicalIndex ranks documents by keyword relevance, descending.
type LexicalIndex interface {
	Search(ctx context.Context, queryText string, topK int) ([]domain.PathHit, error)
}

// GraphStore ranks documents by relation proximity to the seed entities,
// descending.
type GraphStore interface {
	Traverse(ctx context.Context, seedEntities []string, hopRadius int, topK int) ([]domain.PathHit, error)
}

// TextGenerator is the capability used by the planner, reviewer and
// synthesizer. Backends are swappable (local or cloud).
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder builds the vector-path query.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ResultCache stores fusion results across episodes. Implementations must be
// safe for concurrent use; Get returns domain.ErrCacheMiss on a miss.
type ResultCache interface {
	Get(ctx context.Context, key string) (domain.FusionResult, error)
	Set(ctx context.Context, key string, entry domain.CacheEntry) error
}

// EpisodePublisher announces completed episodes.
type EpisodePublisher interface {
	PublishEpisode(ctx context.Context, event domain.EpisodeEvent) error
}

// EpisodeRecorder persists completed episodes for diagnostics.
type EpisodeRecorder interface {
	RecordEpisode(ctx context.Context, event domain.EpisodeEvent) error
}

// EpisodeObserver receives loop and fusion telemetry.
type EpisodeObserver interface {
	ObserveEpisode(event domain.EpisodeEvent, err error)
	ObservePathFailure(path domain.Path)
	ObserveCache(hit bool)
}
