package ports

import (
	"context"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

// QuestionAnswerer is the inbound contract of the self-correcting loop.
type QuestionAnswerer interface {
	Answer(ctx context.Context, query domain.Query, policy domain.LoopPolicy) (*domain.AnswerResult, error)
}

// Retriever exposes a single fusion attempt without review or synthesis.
type Retriever interface {
	Retrieve(ctx context.Context, query domain.Query, strategy domain.Strategy, policy domain.LoopPolicy) (domain.FusionResult, error)
}

// Planner proposes the initial strategy for an episode.
type Planner interface {
	Plan(ctx context.Context, query domain.Query) (domain.Plan, error)
}

// Reviewer scores a result set. It never returns an error; failures are
// reported as a zero score with Failed set.
type Reviewer interface {
	Review(ctx context.Context, query domain.Query, result domain.FusionResult) domain.Review
}

// Synthesizer produces the final cited answer from an approved record.
type Synthesizer interface {
	Synthesize(ctx context.Context, query domain.Query, record domain.IterationRecord) (domain.Synthesis, error)
}
