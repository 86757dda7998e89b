package domain

import "time"

// PathHit is one ranked entry returned by a retrieval collaborator.
type PathHit struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// PathResult is the ranked output of one path for one attempt. Rank is the
// 1-based position in Hits.
type PathResult struct {
	Path Path      `json:"path"`
	Hits []PathHit `json:"hits"`
}

// PathContribution records how a single path scored a candidate.
type PathContribution struct {
	Path         Path    `json:"path"`
	Rank         int     `json:"rank"`
	LocalScore   float64 `json:"local_score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

type DocumentCandidate struct {
	DocumentID string             `json:"document_id"`
	Title      string             `json:"title,omitempty"`
	Content    string             `json:"content"`
	FusedScore float64            `json:"fused_score"`
	Breakdown  []PathContribution `json:"breakdown"`
}

// Paths lists the paths that contributed to the candidate.
func (c DocumentCandidate) Paths() []Path {
	out := make([]Path, 0, len(c.Breakdown))
	seen := make(map[Path]struct{}, len(c.Breakdown))
	for _, contribution := range c.Breakdown {
		if _, ok := seen[contribution.Path]; ok {
			continue
		}
		seen[contribution.Path] = struct{}{}
		out = append(out, contribution.Path)
	}
	return out
}

// BestPathPriority is the priority of the highest-priority contributing path.
func (c DocumentCandidate) BestPathPriority() int {
	best := len(Paths())
	for _, contribution := range c.Breakdown {
		if p := contribution.Path.Priority(); p < best {
			best = p
		}
	}
	return best
}

// FusionResult is the ranked, deduplicated output of one retrieval attempt.
type FusionResult struct {
	Strategy    Strategy            `json:"strategy"`
	Weights     Weights             `json:"weights"`
	Candidates  []DocumentCandidate `json:"candidates"`
	FailedPaths []Path              `json:"failed_paths,omitempty"`
	CacheHit    bool                `json:"-"`
}

func (r FusionResult) DocumentIDs() []string {
	out := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		out = append(out, c.DocumentID)
	}
	return out
}

func (r FusionResult) Empty() bool {
	return len(r.Candidates) == 0
}

// CacheEntry is the persisted shape of a cached fusion result.
type CacheEntry struct {
	Key       string       `json:"key"`
	Query     string       `json:"query"`
	Strategy  Strategy     `json:"strategy"`
	Weights   Weights      `json:"weights"`
	Result    FusionResult `json:"result"`
	CreatedAt time.Time    `json:"created_at"`
}
