package usecase

import "github.com/kirillkom/self-correcting-rag/internal/core/domain"

// Transition is the pure transition function of the control loop. It
// decides the next state from the current state and the bookkeeping that
// the state's action produced; it performs no I/O.
func Transition(state domain.State, s domain.AgentState) (domain.State, domain.AgentState) {
	switch state {
	case domain.StatePlan:
		return domain.StateRetrieve, s
	case domain.StateRetrieve:
		return domain.StateReview, s
	case domain.StateReview:
		if last, ok := s.LastRecord(); ok && last.Reviewed && last.Quality >= s.Policy.QualityThreshold {
			return domain.StateApprove, s
		}
		if s.Iteration < s.Policy.MaxIterations {
			return domain.StateRetry, s
		}
		// Out of attempts: approve the best record seen and flag it.
		s.Degraded = true
		return domain.StateApprove, s
	case domain.StateRetry:
		s.Strategy = NextStrategy(s.Rotation, s.Strategy, s.History)
		return domain.StateRetrieve, s
	case domain.StateApprove:
		return domain.StateSynthesize, s
	default:
		s.Terminal = true
		return domain.StateDone, s
	}
}

// NextStrategy advances through the rotation after current, skipping
// strategies already used in the episode. Once every strategy has been
// used the rotation simply cycles.
func NextStrategy(rotation []domain.Strategy, current domain.Strategy, history []domain.Strategy) domain.Strategy {
	n := len(rotation)
	if n == 0 {
		return current
	}
	start := -1
	for i, s := range rotation {
		if s == current {
			start = i
			break
		}
	}
	used := make(map[domain.Strategy]struct{}, len(history))
	for _, s := range history {
		used[s] = struct{}{}
	}
	for step := 1; step <= n; step++ {
		candidate := rotation[(start+step)%n]
		if _, ok := used[candidate]; !ok {
			return candidate
		}
	}
	return rotation[(start+1)%n]
}
