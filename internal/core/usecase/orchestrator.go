package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/core/ports"
)

const sinkTimeout = 5 * time.Second

// StrategyRetriever is the fusion engine as seen by the control loop.
type StrategyRetriever interface {
	ports.Retriever
	Supports(strategy domain.Strategy, weights domain.Weights) bool
}

type AnswerOptions struct {
	// Planner is optional; without one every episode starts at the first
	// supported rotation strategy.
	Planner   ports.Planner
	Publisher ports.EpisodePublisher
	Recorder  ports.EpisodeRecorder
	Observer  ports.EpisodeObserver
	Logger    *slog.Logger
}

// AnswerUseCase drives the plan, retrieve, review and synthesize loop for
// one question per call. Calls share no mutable state apart from the
// engine's cache.
type AnswerUseCase struct {
	engine      StrategyRetriever
	planner     ports.Planner
	reviewer    ports.Reviewer
	synthesizer ports.Synthesizer
	publisher   ports.EpisodePublisher
	recorder    ports.EpisodeRecorder
	observer    ports.EpisodeObserver
	logger      *slog.Logger

	newID func() string
	now   func() time.Time
}

func NewAnswerUseCase(
	engine StrategyRetriever,
	reviewer ports.Reviewer,
	synthesizer ports.Synthesizer,
	options AnswerOptions,
) *AnswerUseCase {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := options.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &AnswerUseCase{
		engine:      engine,
		planner:     options.Planner,
		reviewer:    reviewer,
		synthesizer: synthesizer,
		publisher:   options.Publisher,
		recorder:    options.Recorder,
		observer:    observer,
		logger:      logger,
		newID:       uuid.NewString,
		now:         time.Now,
	}
}

// Retrieve runs a single fusion attempt with no review or synthesis.
func (uc *AnswerUseCase) Retrieve(
	ctx context.Context,
	query domain.Query,
	strategy domain.Strategy,
	policy domain.LoopPolicy,
) (domain.FusionResult, error) {
	policy = policy.Normalize()
	if err := policy.Validate(); err != nil {
		return domain.FusionResult{}, err
	}
	return uc.engine.Retrieve(ctx, query, strategy, policy)
}

func (uc *AnswerUseCase) Answer(ctx context.Context, query domain.Query, policy domain.LoopPolicy) (*domain.AnswerResult, error) {
	if strings.TrimSpace(query.Text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("query text is required"))
	}
	policy = policy.Normalize()
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	rotation := uc.supportedRotation(policy)
	if len(rotation) == 0 {
		return nil, domain.WrapError(domain.ErrConfiguration, "answer", fmt.Errorf("no rotation strategy is supported by the configured retrieval paths"))
	}

	startedAt := uc.now()
	s := domain.AgentState{
		EpisodeID: uc.newID(),
		Query:     query,
		Policy:    policy,
		Rotation:  rotation,
		Strategy:  rotation[0],
	}
	logger := uc.logger.With("episode_id", s.EpisodeID)
	logger.Info("episode_started", "max_iterations", policy.MaxIterations, "threshold", policy.QualityThreshold)

	state := domain.StatePlan
	if policy.SkipPlanning || uc.planner == nil {
		state = domain.StateRetrieve
	}

	// Every iteration visits at most four states before retrying.
	maxSteps := 4*policy.MaxIterations + 4
	for step := 0; !s.Terminal; step++ {
		if step > maxSteps {
			err := fmt.Errorf("control loop did not terminate after %d steps", step)
			uc.finish(ctx, s, startedAt, err)
			return nil, err
		}
		var err error
		s, err = uc.act(ctx, state, s, logger)
		if err != nil {
			uc.finish(ctx, s, startedAt, err)
			return nil, err
		}
		next, updated := Transition(state, s)
		logger.Debug("state_transition", "from", state.String(), "to", next.String(), "iteration", updated.Iteration)
		state, s = next, updated
	}

	result := uc.buildResult(s, uc.now().Sub(startedAt))
	uc.finish(ctx, s, startedAt, nil)
	logger.Info("episode_finished",
		"iterations", result.IterationsUsed,
		"final_quality", result.FinalQuality,
		"degraded", result.Degraded,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// act performs the side effects of a state. Transition decides what follows.
func (uc *AnswerUseCase) act(ctx context.Context, state domain.State, s domain.AgentState, logger *slog.Logger) (domain.AgentState, error) {
	switch state {
	case domain.StatePlan:
		return uc.plan(ctx, s, logger), nil
	case domain.StateRetrieve:
		if err := ctx.Err(); err != nil {
			return s, err
		}
		return uc.retrieve(ctx, s, logger)
	case domain.StateReview:
		if err := ctx.Err(); err != nil {
			return s, err
		}
		return uc.review(ctx, s, logger), nil
	case domain.StateSynthesize:
		if err := ctx.Err(); err != nil {
			return s, err
		}
		return uc.synthesize(ctx, s)
	default:
		return s, nil
	}
}

// plan never fails the episode: planner errors and proposals the engine
// cannot serve fall back to the first supported rotation strategy.
func (uc *AnswerUseCase) plan(ctx context.Context, s domain.AgentState, logger *slog.Logger) domain.AgentState {
	plan, err := uc.planner.Plan(ctx, s.Query)
	if err != nil {
		logger.Warn("planner_failed", "error", err, "fallback_strategy", string(s.Strategy))
		return s
	}
	if contains(s.Rotation, plan.Strategy) {
		s.Strategy = plan.Strategy
	} else {
		logger.Warn("planner_strategy_unsupported", "proposed", string(plan.Strategy), "fallback_strategy", string(s.Strategy))
	}
	s.Hints = plan.Hints
	logger.Info("plan_selected", "strategy", string(s.Strategy))
	return s
}

func (uc *AnswerUseCase) retrieve(ctx context.Context, s domain.AgentState, logger *slog.Logger) (domain.AgentState, error) {
	s = s.BeginIteration()
	started := uc.now()
	result, err := uc.engine.Retrieve(ctx, s.EffectiveQuery(), s.Strategy, s.Policy)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s, ctxErr
		}
		if domain.IsKind(err, domain.ErrConfiguration) || domain.IsKind(err, domain.ErrInvalidInput) {
			return s, err
		}
		// An exhausted attempt is scored zero and the loop retries with the
		// next strategy.
		logger.Warn("retrieval_exhausted", "iteration", s.Iteration, "strategy", string(s.Strategy), "error", err)
		return s.WithRecord(domain.IterationRecord{
			Iteration: s.Iteration,
			Strategy:  s.Strategy,
			Result:    domain.FusionResult{Strategy: s.Strategy},
			Quality:   0,
			Rationale: "all retrieval paths failed: " + err.Error(),
			Reviewed:  true,
		}), nil
	}
	logger.Info("retrieval_completed",
		"iteration", s.Iteration,
		"strategy", string(s.Strategy),
		"candidates", len(result.Candidates),
		"cache_hit", result.CacheHit,
		"failed_paths", len(result.FailedPaths),
		"duration_ms", uc.now().Sub(started).Milliseconds(),
	)
	return s.WithRecord(domain.IterationRecord{
		Iteration: s.Iteration,
		Strategy:  s.Strategy,
		Result:    result,
	}), nil
}

func (uc *AnswerUseCase) review(ctx context.Context, s domain.AgentState, logger *slog.Logger) domain.AgentState {
	last, ok := s.LastRecord()
	if !ok || last.Reviewed {
		return s
	}
	review := uc.reviewer.Review(ctx, s.Query, last.Result)
	if review.Failed {
		logger.Warn("review_failed", "iteration", s.Iteration, "rationale", review.Rationale)
	}
	s = s.WithReview(review)
	scored, _ := s.LastRecord()
	logger.Info("review_completed", "iteration", s.Iteration, "strategy", string(s.Strategy), "quality", scored.Quality)
	return s
}

func (uc *AnswerUseCase) synthesize(ctx context.Context, s domain.AgentState) (domain.AgentState, error) {
	answer, err := uc.synthesizer.Synthesize(ctx, s.Query, s.Best)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s, ctxErr
		}
		if domain.IsKind(err, domain.ErrSynthesisFailure) {
			return s, err
		}
		return s, domain.WrapError(domain.ErrSynthesisFailure, "synthesize", err)
	}
	if answer.CitedDocumentIDs == nil {
		answer.CitedDocumentIDs = []string{}
	}
	s.Answer = answer
	return s, nil
}

func (uc *AnswerUseCase) supportedRotation(policy domain.LoopPolicy) []domain.Strategy {
	out := make([]domain.Strategy, 0, len(policy.Rotation))
	for _, strategy := range policy.Rotation {
		if uc.engine.Supports(strategy, policy.Weights) {
			out = append(out, strategy)
		}
	}
	return out
}

func (uc *AnswerUseCase) buildResult(s domain.AgentState, elapsed time.Duration) *domain.AnswerResult {
	return &domain.AnswerResult{
		EpisodeID:        s.EpisodeID,
		Text:             s.Answer.Text,
		CitedDocumentIDs: s.Answer.CitedDocumentIDs,
		IterationsUsed:   s.Iteration,
		FinalQuality:     s.Best.Quality,
		Degraded:         s.Degraded,
		Strategies:       append([]domain.Strategy(nil), s.History...),
		Iterations:       diagnostics(s.Records),
		Duration:         elapsed,
	}
}

func diagnostics(records []domain.IterationRecord) []domain.IterationDiagnostics {
	out := make([]domain.IterationDiagnostics, 0, len(records))
	for _, r := range records {
		out = append(out, domain.IterationDiagnostics{
			Iteration:   r.Iteration,
			Strategy:    r.Strategy,
			Quality:     r.Quality,
			Rationale:   r.Rationale,
			DocumentIDs: r.Result.DocumentIDs(),
			CacheHit:    r.Result.CacheHit,
			FailedPaths: r.Result.FailedPaths,
		})
	}
	return out
}

// finish reports the episode to the optional sinks. Sink failures are
// logged and never change the episode outcome.
func (uc *AnswerUseCase) finish(ctx context.Context, s domain.AgentState, startedAt time.Time, episodeErr error) {
	event := domain.EpisodeEvent{
		EpisodeID:      s.EpisodeID,
		Query:          s.Query.Text,
		IterationsUsed: s.Iteration,
		FinalQuality:   s.Best.Quality,
		Degraded:       s.Degraded,
		Strategies:     append([]domain.Strategy(nil), s.History...),
		Iterations:     diagnostics(s.Records),
		StartedAt:      startedAt.UTC(),
		FinishedAt:     uc.now().UTC(),
	}
	if episodeErr != nil {
		event.Error = episodeErr.Error()
		level := slog.LevelError
		if errors.Is(episodeErr, context.Canceled) || errors.Is(episodeErr, context.DeadlineExceeded) {
			level = slog.LevelWarn
		}
		uc.logger.Log(ctx, level, "episode_failed", "episode_id", s.EpisodeID, "iteration", s.Iteration, "error", episodeErr)
	}
	uc.observer.ObserveEpisode(event, episodeErr)

	if uc.publisher == nil && uc.recorder == nil {
		return
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if uc.publisher != nil {
		if err := uc.publisher.PublishEpisode(sinkCtx, event); err != nil {
			uc.logger.Warn("episode_publish_failed", "episode_id", s.EpisodeID, "error", err)
		}
	}
	if uc.recorder != nil {
		if err := uc.recorder.RecordEpisode(sinkCtx, event); err != nil {
			uc.logger.Warn("episode_record_failed", "episode_id", s.EpisodeID, "error", err)
		}
	}
}

func contains(strategies []domain.Strategy, target domain.Strategy) bool {
	for _, s := range strategies {
		if s == target {
			return true
		}
	}
	return false
}
