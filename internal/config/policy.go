package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

// policyFile mirrors the YAML policy document. Pointer fields distinguish
// "absent" from an explicit zero.
type policyFile struct {
	SkipPlanning     *bool        `yaml:"skip_planning"`
	MaxIterations    *int         `yaml:"max_iterations"`
	QualityThreshold *float64     `yaml:"quality_threshold"`
	TopN             *int         `yaml:"top_n"`
	PathTopK         *int         `yaml:"path_top_k"`
	RRFK             *int         `yaml:"rrf_k"`
	HopRadius        *int         `yaml:"hop_radius"`
	PathTimeout      *string      `yaml:"path_timeout"`
	DedupByContent   *bool        `yaml:"dedup_by_content"`
	Rotation         []string     `yaml:"rotation"`
	Weights          *weightsYAML `yaml:"weights"`
}

type weightsYAML struct {
	Vector  float64 `yaml:"vector"`
	Lexical float64 `yaml:"lexical"`
	Graph   float64 `yaml:"graph"`
}

// LoopPolicy builds the validated loop policy from the environment and,
// when RAG_POLICY_FILE is set, the YAML overrides in that file.
func (c Config) LoopPolicy() (domain.LoopPolicy, error) {
	rotation, err := parseRotation(strings.Split(c.RAGRotation, ","))
	if err != nil {
		return domain.LoopPolicy{}, err
	}
	policy := domain.LoopPolicy{
		SkipPlanning:     c.RAGSkipPlanning,
		MaxIterations:    c.RAGMaxIterations,
		QualityThreshold: c.RAGQualityThreshold,
		TopN:             c.RAGTopN,
		PathTopK:         c.RAGPathTopK,
		RRFK:             c.RAGRRFK,
		HopRadius:        c.RAGHopRadius,
		PathTimeout:      c.RAGPathTimeout,
		DedupByContent:   c.RAGDedupByContent,
		Rotation:         rotation,
		Weights: domain.Weights{
			Vector:  c.RAGWeightVector,
			Lexical: c.RAGWeightLexical,
			Graph:   c.RAGWeightGraph,
		},
	}
	if c.RAGPolicyFile != "" {
		policy, err = LoadPolicyFile(c.RAGPolicyFile, policy)
		if err != nil {
			return domain.LoopPolicy{}, err
		}
	}
	if err := policy.Weights.Validate(); err != nil {
		return domain.LoopPolicy{}, err
	}
	if policy.MaxIterations < 1 {
		return domain.LoopPolicy{}, domain.WrapError(domain.ErrConfiguration, "load policy", fmt.Errorf("max_iterations must be >= 1, got %d", policy.MaxIterations))
	}
	policy = policy.Normalize()
	if err := policy.Validate(); err != nil {
		return domain.LoopPolicy{}, err
	}
	return policy, nil
}

// LoadPolicyFile applies the YAML document at path on top of base.
func LoadPolicyFile(path string, base domain.LoopPolicy) (domain.LoopPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.LoopPolicy{}, domain.WrapError(domain.ErrConfiguration, "read policy file", err)
	}
	return parsePolicy(raw, base)
}

func parsePolicy(raw []byte, base domain.LoopPolicy) (domain.LoopPolicy, error) {
	var doc policyFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return domain.LoopPolicy{}, domain.WrapError(domain.ErrConfiguration, "parse policy file", err)
	}

	policy := base
	if doc.SkipPlanning != nil {
		policy.SkipPlanning = *doc.SkipPlanning
	}
	if doc.MaxIterations != nil {
		policy.MaxIterations = *doc.MaxIterations
	}
	if doc.QualityThreshold != nil {
		policy.QualityThreshold = *doc.QualityThreshold
	}
	if doc.TopN != nil {
		policy.TopN = *doc.TopN
	}
	if doc.PathTopK != nil {
		policy.PathTopK = *doc.PathTopK
	}
	if doc.RRFK != nil {
		policy.RRFK = *doc.RRFK
	}
	if doc.HopRadius != nil {
		policy.HopRadius = *doc.HopRadius
	}
	if doc.DedupByContent != nil {
		policy.DedupByContent = *doc.DedupByContent
	}
	if doc.PathTimeout != nil {
		d, err := time.ParseDuration(*doc.PathTimeout)
		if err != nil {
			return domain.LoopPolicy{}, domain.WrapError(domain.ErrConfiguration, "parse policy file", fmt.Errorf("path_timeout: %w", err))
		}
		policy.PathTimeout = d
	}
	if doc.Weights != nil {
		policy.Weights = domain.Weights{Vector: doc.Weights.Vector, Lexical: doc.Weights.Lexical, Graph: doc.Weights.Graph}
	}
	if len(doc.Rotation) > 0 {
		rotation, err := parseRotation(doc.Rotation)
		if err != nil {
			return domain.LoopPolicy{}, err
		}
		policy.Rotation = rotation
	}
	return policy, nil
}

func parseRotation(values []string) ([]domain.Strategy, error) {
	out := make([]domain.Strategy, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		s, err := domain.ParseStrategy(v)
		if err != nil {
			return nil, domain.WrapError(domain.ErrConfiguration, "parse rotation", err)
		}
		out = append(out, s)
	}
	return out, nil
}
