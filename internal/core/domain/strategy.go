package domain

import (
	"fmt"
	"math"
	"strings"
)

// Path identifies one retrieval mechanism.
type Path string

const (
	PathVector  Path = "vector"
	PathLexical Path = "lexical"
	PathGraph   Path = "graph"
)

// Paths lists every path in priority order: vector > lexical > graph.
func Paths() []Path {
	return []Path{PathVector, PathLexical, PathGraph}
}

// Priority is lower for higher-priority paths.
func (p Path) Priority() int {
	switch p {
	case PathVector:
		return 0
	case PathLexical:
		return 1
	case PathGraph:
		return 2
	default:
		return 3
	}
}

type Strategy string

const (
	StrategyHybrid      Strategy = "hybrid"
	StrategyVectorOnly  Strategy = "vector_only"
	StrategyLexicalOnly Strategy = "lexical_only"
	StrategyGraphOnly   Strategy = "graph_only"
)

// DefaultRotation is the fixed order used to pick the next strategy after a
// rejected attempt.
func DefaultRotation() []Strategy {
	return []Strategy{StrategyHybrid, StrategyVectorOnly, StrategyLexicalOnly, StrategyGraphOnly}
}

// ParseStrategy accepts canonical names plus the aliases the planner and
// older clients use ("bm25_only", "vector", "graph", ...).
func ParseStrategy(raw string) (Strategy, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	switch s {
	case "hybrid", "all":
		return StrategyHybrid, nil
	case "vector_only", "vector", "semantic":
		return StrategyVectorOnly, nil
	case "lexical_only", "lexical", "bm25_only", "bm25", "keyword":
		return StrategyLexicalOnly, nil
	case "graph_only", "graph":
		return StrategyGraphOnly, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse strategy", fmt.Errorf("unknown strategy %q", raw))
	}
}

// Paths returns the paths a strategy queries, in priority order.
func (s Strategy) Paths() []Path {
	switch s {
	case StrategyHybrid:
		return Paths()
	case StrategyVectorOnly:
		return []Path{PathVector}
	case StrategyLexicalOnly:
		return []Path{PathLexical}
	case StrategyGraphOnly:
		return []Path{PathGraph}
	default:
		return nil
	}
}

// Weights allocates fusion weight per path.
type Weights struct {
	Vector  float64 `json:"vector" yaml:"vector"`
	Lexical float64 `json:"lexical" yaml:"lexical"`
	Graph   float64 `json:"graph" yaml:"graph"`
}

func DefaultHybridWeights() Weights {
	return Weights{Vector: 0.6, Lexical: 0.3, Graph: 0.1}
}

func (w Weights) Of(p Path) float64 {
	switch p {
	case PathVector:
		return w.Vector
	case PathLexical:
		return w.Lexical
	case PathGraph:
		return w.Graph
	default:
		return 0
	}
}

func (w Weights) with(p Path, v float64) Weights {
	switch p {
	case PathVector:
		w.Vector = v
	case PathLexical:
		w.Lexical = v
	case PathGraph:
		w.Graph = v
	}
	return w
}

func (w Weights) Sum() float64 {
	return w.Vector + w.Lexical + w.Graph
}

// Validate rejects negative, non-finite or all-zero weights.
func (w Weights) Validate() error {
	for _, p := range Paths() {
		v := w.Of(p)
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return WrapError(ErrConfiguration, "validate weights", fmt.Errorf("%s weight must be a finite non-negative number, got %v", p, v))
		}
	}
	if w.Sum() <= 0 {
		return WrapError(ErrConfiguration, "validate weights", fmt.Errorf("at least one path weight must be positive"))
	}
	return nil
}

// Normalized rescales the weights proportionally so they sum to 1.0.
func (w Weights) Normalized() Weights {
	sum := w.Sum()
	if sum <= 0 {
		return Weights{}
	}
	return Weights{Vector: w.Vector / sum, Lexical: w.Lexical / sum, Graph: w.Graph / sum}
}

// ForStrategy returns the active weights of a strategy. Single-path
// strategies allocate 1.0 to their path; hybrid uses the normalized
// configured weights.
func (w Weights) ForStrategy(s Strategy) Weights {
	if s == StrategyHybrid {
		return w.Normalized()
	}
	var out Weights
	for _, p := range s.Paths() {
		out = out.with(p, 1.0)
	}
	return out
}

// Restrict keeps only the listed paths and renormalizes to 1.0. It returns
// the zero Weights when none of the listed paths carries weight.
func (w Weights) Restrict(paths []Path) Weights {
	var out Weights
	for _, p := range paths {
		out = out.with(p, w.Of(p))
	}
	return out.Normalized()
}

// Fingerprint is a stable textual form used in cache keys.
func (w Weights) Fingerprint() string {
	return fmt.Sprintf("v=%.6f,l=%.6f,g=%.6f", w.Vector, w.Lexical, w.Graph)
}
