package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/core/ports"
)

// LLMPlanner asks the generator for an initial strategy and optional
// per-path sub-queries.
type LLMPlanner struct {
	generator ports.TextGenerator
}

func NewLLMPlanner(generator ports.TextGenerator) *LLMPlanner {
	return &LLMPlanner{generator: generator}
}

func (p *LLMPlanner) Plan(ctx context.Context, query domain.Query) (domain.Plan, error) {
	raw, err := p.generator.Generate(ctx, buildPlanPrompt(query.Text))
	if err != nil {
		return domain.Plan{Strategy: domain.StrategyHybrid}, fmt.Errorf("generate plan: %w", err)
	}
	return parsePlan(raw), nil
}

// strategy mentions recognized in free-form planner output, most specific
// first so "vector_only" is not read as a bare "vector".
var planStrategyNames = []struct {
	token    string
	strategy domain.Strategy
}{
	{"vector_only", domain.StrategyVectorOnly},
	{"lexical_only", domain.StrategyLexicalOnly},
	{"bm25_only", domain.StrategyLexicalOnly},
	{"keyword_only", domain.StrategyLexicalOnly},
	{"graph_only", domain.StrategyGraphOnly},
	{"hybrid", domain.StrategyHybrid},
}

// parsePlan picks the earliest strategy mentioned in the output and
// defaults to hybrid.
func parsePlan(raw string) domain.Plan {
	plan := domain.Plan{Strategy: domain.StrategyHybrid, Raw: raw}
	lower := strings.ToLower(raw)

	best := -1
	for _, name := range planStrategyNames {
		idx := strings.Index(lower, name.token)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best {
			best = idx
			plan.Strategy = name.strategy
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "VECTOR":
			plan.Hints.VectorQuery = value
		case "LEXICAL":
			plan.Hints.LexicalQuery = value
		case "GRAPH":
			for _, seed := range strings.Split(value, ",") {
				if seed = strings.TrimSpace(seed); seed != "" {
					plan.Hints.GraphSeeds = append(plan.Hints.GraphSeeds, seed)
				}
			}
		}
	}
	return plan
}
