package usecase

import (
	"sort"
	"strings"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

const contentKeyChars = 200

type fusedCandidate struct {
	candidate domain.DocumentCandidate
	order     int
}

// fuseWeightedRRF merges ranked path lists with weighted reciprocal rank
// fusion: score(d) = sum over paths p containing d of weight(p) / (k + rank_p(d)).
// A document is represented once no matter how many paths returned it.
func fuseWeightedRRF(results []domain.PathResult, weights domain.Weights, rrfK int, dedupByContent bool) []domain.DocumentCandidate {
	if rrfK <= 0 {
		rrfK = 60
	}

	ordered := make([]domain.PathResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Path.Priority() < ordered[j].Path.Priority()
	})

	acc := make(map[string]*fusedCandidate)
	next := 0
	for _, result := range ordered {
		weight := weights.Of(result.Path)
		if weight <= 0 {
			continue
		}
		seen := make(map[string]struct{}, len(result.Hits))
		for idx, hit := range result.Hits {
			id := strings.TrimSpace(hit.DocumentID)
			if id == "" {
				continue
			}
			// Repeated ids within one path keep their best rank only.
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			rank := idx + 1
			contribution := weight / float64(rrfK+rank)
			fc, ok := acc[id]
			if !ok {
				fc = &fusedCandidate{
					candidate: domain.DocumentCandidate{DocumentID: id},
					order:     next,
				}
				next++
				acc[id] = fc
			}
			fc.candidate = preferRicherCandidate(fc.candidate, hit)
			fc.candidate.FusedScore += contribution
			fc.candidate.Breakdown = append(fc.candidate.Breakdown, domain.PathContribution{
				Path:         result.Path,
				Rank:         rank,
				LocalScore:   hit.Score,
				Weight:       weight,
				Contribution: contribution,
			})
		}
	}

	out := make([]domain.DocumentCandidate, 0, len(acc))
	for _, fc := range acc {
		out = append(out, fc.candidate)
	}
	sortCandidates(out)

	if dedupByContent {
		out = mergeByContent(out)
		sortCandidates(out)
	}
	return out
}

// sortCandidates orders by fused score, then by the priority of the best
// contributing path (vector > lexical > graph), then by document id.
func sortCandidates(candidates []domain.DocumentCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FusedScore != candidates[j].FusedScore {
			return candidates[i].FusedScore > candidates[j].FusedScore
		}
		pi, pj := candidates[i].BestPathPriority(), candidates[j].BestPathPriority()
		if pi != pj {
			return pi < pj
		}
		return candidates[i].DocumentID < candidates[j].DocumentID
	})
}

// mergeByContent folds candidates whose leading text is identical into the
// highest-ranked one. Input must already be sorted.
func mergeByContent(sorted []domain.DocumentCandidate) []domain.DocumentCandidate {
	out := make([]domain.DocumentCandidate, 0, len(sorted))
	groups := make(map[string]int, len(sorted))
	for _, candidate := range sorted {
		key := contentKey(candidate.Content)
		if key == "" {
			out = append(out, candidate)
			continue
		}
		idx, ok := groups[key]
		if !ok {
			groups[key] = len(out)
			out = append(out, candidate)
			continue
		}
		rep := out[idx]
		rep.FusedScore += candidate.FusedScore
		rep.Breakdown = append(append([]domain.PathContribution(nil), rep.Breakdown...), candidate.Breakdown...)
		out[idx] = rep
	}
	return out
}

func contentKey(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > contentKeyChars {
		text = text[:contentKeyChars]
	}
	return strings.TrimSpace(text)
}

func trimCandidates(candidates []domain.DocumentCandidate, limit int) []domain.DocumentCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

func preferRicherCandidate(current domain.DocumentCandidate, hit domain.PathHit) domain.DocumentCandidate {
	if current.Content == "" && hit.Text != "" {
		current.Content = hit.Text
	}
	if current.Title == "" && hit.Title != "" {
		current.Title = hit.Title
	}
	return current
}
