package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PlanHints carries optional path-specific sub-queries.
type PlanHints struct {
	VectorQuery  string   `json:"vector_query,omitempty"`
	LexicalQuery string   `json:"lexical_query,omitempty"`
	GraphSeeds   []string `json:"graph_seeds,omitempty"`
}

func (h PlanHints) IsZero() bool {
	return h.VectorQuery == "" && h.LexicalQuery == "" && len(h.GraphSeeds) == 0
}

// Fingerprint is empty when no hints are set so hint-free queries share
// cache entries.
func (h PlanHints) Fingerprint() string {
	if h.IsZero() {
		return ""
	}
	return fmt.Sprintf("vq=%s|lq=%s|gs=%s", h.VectorQuery, h.LexicalQuery, strings.Join(h.GraphSeeds, ","))
}

// Plan is the planner's proposal for an episode.
type Plan struct {
	Strategy Strategy  `json:"strategy"`
	Hints    PlanHints `json:"hints"`
	Raw      string    `json:"raw,omitempty"`
}

// Query is the immutable user question for one episode.
type Query struct {
	Text  string    `json:"text"`
	Hints PlanHints `json:"hints,omitempty"`
}

// LoopPolicy parameterizes one episode of the control loop.
type LoopPolicy struct {
	SkipPlanning     bool          `json:"skip_planning" yaml:"skip_planning"`
	MaxIterations    int           `json:"max_iterations" yaml:"max_iterations"`
	QualityThreshold float64       `json:"quality_threshold" yaml:"quality_threshold"`
	TopN             int           `json:"top_n" yaml:"top_n"`
	Weights          Weights       `json:"weights" yaml:"weights"`
	RRFK             int           `json:"rrf_k" yaml:"rrf_k"`
	PathTopK         int           `json:"path_top_k" yaml:"path_top_k"`
	HopRadius        int           `json:"hop_radius" yaml:"hop_radius"`
	PathTimeout      time.Duration `json:"path_timeout" yaml:"path_timeout"`
	Rotation         []Strategy    `json:"rotation" yaml:"rotation"`
	DedupByContent   bool          `json:"dedup_by_content" yaml:"dedup_by_content"`
}

func DefaultLoopPolicy() LoopPolicy {
	return LoopPolicy{
		SkipPlanning:     false,
		MaxIterations:    3,
		QualityThreshold: 0.5,
		TopN:             5,
		Weights:          DefaultHybridWeights(),
		RRFK:             60,
		PathTopK:         10,
		HopRadius:        2,
		PathTimeout:      10 * time.Second,
		Rotation:         DefaultRotation(),
		DedupByContent:   true,
	}
}

// Validate reports a ConfigurationError for values the loop cannot run with.
func (p LoopPolicy) Validate() error {
	if p.MaxIterations < 1 {
		return WrapError(ErrConfiguration, "validate policy", fmt.Errorf("max_iterations must be >= 1, got %d", p.MaxIterations))
	}
	if p.QualityThreshold < 0 || p.QualityThreshold > 1 || math.IsNaN(p.QualityThreshold) {
		return WrapError(ErrConfiguration, "validate policy", fmt.Errorf("quality_threshold must be in [0,1], got %v", p.QualityThreshold))
	}
	if p.TopN < 1 {
		return WrapError(ErrConfiguration, "validate policy", fmt.Errorf("top_n must be >= 1, got %d", p.TopN))
	}
	if p.RRFK < 1 {
		return WrapError(ErrConfiguration, "validate policy", fmt.Errorf("rrf_k must be >= 1, got %d", p.RRFK))
	}
	if err := p.Weights.Validate(); err != nil {
		return err
	}
	seen := make(map[Strategy]struct{}, len(p.Rotation))
	for _, s := range p.Rotation {
		if len(s.Paths()) == 0 {
			return WrapError(ErrConfiguration, "validate policy", fmt.Errorf("unknown strategy %q in rotation", s))
		}
		if _, dup := seen[s]; dup {
			return WrapError(ErrConfiguration, "validate policy", fmt.Errorf("strategy %q repeated in rotation", s))
		}
		seen[s] = struct{}{}
	}
	return nil
}

// Normalize fills unset fields with defaults and rescales weights.
func (p LoopPolicy) Normalize() LoopPolicy {
	def := DefaultLoopPolicy()
	if p.MaxIterations == 0 {
		p.MaxIterations = def.MaxIterations
	}
	if p.TopN == 0 {
		p.TopN = def.TopN
	}
	if p.RRFK == 0 {
		p.RRFK = def.RRFK
	}
	if p.PathTopK <= 0 {
		p.PathTopK = def.PathTopK
	}
	if p.PathTopK < p.TopN {
		p.PathTopK = p.TopN
	}
	if p.HopRadius <= 0 {
		p.HopRadius = def.HopRadius
	}
	if p.PathTimeout <= 0 {
		p.PathTimeout = def.PathTimeout
	}
	if p.Weights == (Weights{}) {
		p.Weights = def.Weights
	}
	if p.Weights.Validate() == nil {
		p.Weights = p.Weights.Normalized()
	}
	if len(p.Rotation) == 0 {
		p.Rotation = def.Rotation
	}
	return p
}

// PolicyOverrides are per-request adjustments to the configured policy.
// Nil fields keep the configured value.
type PolicyOverrides struct {
	MaxIterations    *int     `json:"max_iterations,omitempty"`
	QualityThreshold *float64 `json:"quality_threshold,omitempty"`
	TopN             *int     `json:"top_n,omitempty"`
	SkipPlanning     *bool    `json:"skip_planning,omitempty"`
	Weights          *Weights `json:"weights,omitempty"`
}

// Validate rejects explicit values that LoopPolicy.Normalize would
// otherwise replace with defaults, such as a zero max_iterations.
func (o PolicyOverrides) Validate() error {
	if o.MaxIterations != nil && *o.MaxIterations < 1 {
		return WrapError(ErrInvalidInput, "policy overrides", fmt.Errorf("max_iterations must be >= 1, got %d", *o.MaxIterations))
	}
	if o.TopN != nil && *o.TopN < 1 {
		return WrapError(ErrInvalidInput, "policy overrides", fmt.Errorf("top_n must be >= 1, got %d", *o.TopN))
	}
	if o.Weights != nil {
		if err := o.Weights.Validate(); err != nil {
			return WrapError(ErrInvalidInput, "policy overrides", err)
		}
	}
	return nil
}

func (o PolicyOverrides) Apply(base LoopPolicy) LoopPolicy {
	if o.MaxIterations != nil {
		base.MaxIterations = *o.MaxIterations
	}
	if o.QualityThreshold != nil {
		base.QualityThreshold = *o.QualityThreshold
	}
	if o.TopN != nil {
		base.TopN = *o.TopN
		if base.PathTopK < base.TopN {
			base.PathTopK = base.TopN
		}
	}
	if o.SkipPlanning != nil {
		base.SkipPlanning = *o.SkipPlanning
	}
	if o.Weights != nil {
		base.Weights = *o.Weights
	}
	return base
}

// IterationRecord is the outcome of one retrieve+review cycle.
type IterationRecord struct {
	Iteration int          `json:"iteration"`
	Strategy  Strategy     `json:"strategy"`
	Result    FusionResult `json:"result"`
	Quality   float64      `json:"quality"`
	Rationale string       `json:"rationale"`
	Reviewed  bool         `json:"reviewed"`
}

// Review is the reviewer's verdict for one FusionResult.
type Review struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
	Failed    bool    `json:"failed,omitempty"`
}

// Synthesis is the synthesizer's output before episode bookkeeping is added.
type Synthesis struct {
	Text             string   `json:"text"`
	CitedDocumentIDs []string `json:"cited_document_ids"`
}

// IterationDiagnostics summarizes one iteration for callers.
type IterationDiagnostics struct {
	Iteration   int      `json:"iteration"`
	Strategy    Strategy `json:"strategy"`
	Quality     float64  `json:"quality"`
	Rationale   string   `json:"rationale"`
	DocumentIDs []string `json:"document_ids"`
	CacheHit    bool     `json:"cache_hit"`
	FailedPaths []Path   `json:"failed_paths,omitempty"`
}

type AnswerResult struct {
	EpisodeID        string                 `json:"episode_id"`
	Text             string                 `json:"text"`
	CitedDocumentIDs []string               `json:"cited_document_ids"`
	IterationsUsed   int                    `json:"iterations_used"`
	FinalQuality     float64                `json:"final_quality"`
	Degraded         bool                   `json:"degraded"`
	Strategies       []Strategy             `json:"strategies"`
	Iterations       []IterationDiagnostics `json:"iterations"`
	Duration         time.Duration          `json:"duration_ns"`
}

// EpisodeEvent is emitted once per completed episode.
type EpisodeEvent struct {
	EpisodeID      string                 `json:"episode_id"`
	Query          string                 `json:"query"`
	IterationsUsed int                    `json:"iterations_used"`
	FinalQuality   float64                `json:"final_quality"`
	Degraded       bool                   `json:"degraded"`
	Strategies     []Strategy             `json:"strategies"`
	Iterations     []IterationDiagnostics `json:"iterations"`
	Error          string                 `json:"error,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
}
