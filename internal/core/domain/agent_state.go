package domain

// State is a step of the self-correcting control loop.
type State string

const (
	StatePlan       State = "plan"
	StateRetrieve   State = "retrieve"
	StateReview     State = "review"
	StateRetry      State = "retry"
	StateApprove    State = "approve"
	StateSynthesize State = "synthesize"
	StateDone       State = "done"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateDone
}

func (s State) String() string {
	return string(s)
}

// AgentState is the per-episode bookkeeping of the control loop. It is
// treated as immutable between transitions: the With* helpers return
// updated copies and never share slices with the receiver.
type AgentState struct {
	EpisodeID string
	Query     Query
	Hints     PlanHints
	Policy    LoopPolicy
	// Rotation is the policy rotation restricted to strategies the engine
	// can serve.
	Rotation []Strategy

	Iteration int
	Strategy  Strategy
	History   []Strategy
	Records   []IterationRecord

	Best    IterationRecord
	HasBest bool

	Answer   Synthesis
	Degraded bool
	Terminal bool
}

// EffectiveQuery merges planner hints under the user's own hints.
func (s AgentState) EffectiveQuery() Query {
	q := s.Query
	if q.Hints.VectorQuery == "" {
		q.Hints.VectorQuery = s.Hints.VectorQuery
	}
	if q.Hints.LexicalQuery == "" {
		q.Hints.LexicalQuery = s.Hints.LexicalQuery
	}
	if len(q.Hints.GraphSeeds) == 0 && len(s.Hints.GraphSeeds) > 0 {
		q.Hints.GraphSeeds = append([]string(nil), s.Hints.GraphSeeds...)
	}
	return q
}

// BeginIteration advances the iteration index and records the strategy.
func (s AgentState) BeginIteration() AgentState {
	s.Iteration++
	s.History = append(append([]Strategy(nil), s.History...), s.Strategy)
	return s
}

func (s AgentState) WithRecord(record IterationRecord) AgentState {
	s.Records = append(append([]IterationRecord(nil), s.Records...), record)
	if record.Reviewed {
		s = s.promote(record)
	}
	return s
}

// WithReview scores the latest record and promotes it to best when its
// quality is strictly higher, so ties keep the earliest iteration.
func (s AgentState) WithReview(review Review) AgentState {
	if len(s.Records) == 0 {
		return s
	}
	records := append([]IterationRecord(nil), s.Records...)
	last := records[len(records)-1]
	last.Quality = clampQuality(review.Score)
	last.Rationale = review.Rationale
	last.Reviewed = true
	records[len(records)-1] = last
	s.Records = records
	return s.promote(last)
}

func (s AgentState) promote(record IterationRecord) AgentState {
	if !s.HasBest || record.Quality > s.Best.Quality {
		s.Best = record
		s.HasBest = true
	}
	return s
}

func (s AgentState) LastRecord() (IterationRecord, bool) {
	if len(s.Records) == 0 {
		return IterationRecord{}, false
	}
	return s.Records[len(s.Records)-1], true
}

func clampQuality(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
