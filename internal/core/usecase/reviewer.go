package usecase

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/core/ports"
)

const defaultReviewFeedback = "Try a different retrieval strategy"

var (
	reviewScorePattern    = regexp.MustCompile(`(?i)score\s*:\s*(\S+)`)
	reviewFeedbackPattern = regexp.MustCompile(`(?is)feedback\s*:(.*)`)
)

// LLMReviewer scores a result set with the generator acting as judge.
type LLMReviewer struct {
	generator ports.TextGenerator
	logger    *slog.Logger
}

func NewLLMReviewer(generator ports.TextGenerator, logger *slog.Logger) *LLMReviewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMReviewer{generator: generator, logger: logger}
}

// Review never fails: generator errors and unparseable verdicts score zero
// so the loop moves on to another strategy.
func (r *LLMReviewer) Review(ctx context.Context, query domain.Query, result domain.FusionResult) domain.Review {
	if result.Empty() {
		return domain.Review{Score: 0, Rationale: "No documents retrieved. Try a different search strategy."}
	}
	raw, err := r.generator.Generate(ctx, buildReviewPrompt(query.Text, result))
	if err != nil {
		r.logger.Warn("review_failed", "error", domain.WrapError(domain.ErrReviewFailure, "review", err))
		return domain.Review{Score: 0, Rationale: "review failed: " + err.Error(), Failed: true}
	}
	score, ok := parseReviewScore(raw)
	if !ok {
		r.logger.Warn("review_unparseable", "output", truncateRunes(raw, 200))
		return domain.Review{Score: 0, Rationale: "review output could not be parsed", Failed: true}
	}
	return domain.Review{Score: score, Rationale: parseReviewFeedback(raw)}
}

// parseReviewScore reads the first "SCORE:" value, or a reply that is only
// a number, and clamps it into [0,1].
func parseReviewScore(raw string) (float64, bool) {
	if match := reviewScorePattern.FindStringSubmatch(raw); match != nil {
		return parseScoreValue(match[1])
	}
	if len(strings.Fields(raw)) != 1 {
		return 0, false
	}
	return parseScoreValue(raw)
}

func parseScoreValue(raw string) (float64, bool) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, false
	}
	token := strings.TrimLeft(fields[0], "*([\"'")
	token = strings.TrimSuffix(strings.TrimRight(token, "*,;)]\"'."), "/1")
	value, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(value) {
		return 0, false
	}
	return math.Max(0, math.Min(1, value)), true
}

func parseReviewFeedback(raw string) string {
	match := reviewFeedbackPattern.FindStringSubmatch(raw)
	if match == nil {
		return defaultReviewFeedback
	}
	if feedback := strings.TrimSpace(match[1]); feedback != "" {
		return feedback
	}
	return defaultReviewFeedback
}
