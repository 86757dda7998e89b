package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/core/ports"
)

const (
	minAnswerQuality   = 0.1
	lowQualityCutoff   = 0.3
	answerDocLimit     = 5
	answerDocRunes     = 1000
	lowQualityDocs     = 3
	lowQualityDocRunes = 300
)

var sourceMarker = regexp.MustCompile(`(?i)\[source\s*([0-9][0-9,\s]*)\]`)

// LLMSynthesizer writes the final answer from the approved record.
type LLMSynthesizer struct {
	generator ports.TextGenerator
}

func NewLLMSynthesizer(generator ports.TextGenerator) *LLMSynthesizer {
	return &LLMSynthesizer{generator: generator}
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, query domain.Query, record domain.IterationRecord) (domain.Synthesis, error) {
	if record.Result.Empty() || record.Quality < minAnswerQuality {
		return domain.Synthesis{Text: noInformationAnswer, CitedDocumentIDs: []string{}}, nil
	}

	maxDocs, maxChars := answerDocLimit, answerDocRunes
	if record.Quality < lowQualityCutoff {
		maxDocs, maxChars = lowQualityDocs, lowQualityDocRunes
	}
	shown := record.Result.Candidates
	if len(shown) > maxDocs {
		shown = shown[:maxDocs]
	}

	text, err := s.generator.Generate(ctx, buildAnswerPrompt(query.Text, shown, maxChars))
	if err != nil {
		return domain.Synthesis{}, domain.WrapError(domain.ErrSynthesisFailure, "generate answer", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Synthesis{}, domain.WrapError(domain.ErrSynthesisFailure, "generate answer", fmt.Errorf("generator returned an empty answer"))
	}
	return domain.Synthesis{Text: text, CitedDocumentIDs: citedDocuments(text, shown)}, nil
}

// citedDocuments maps [Source N] markers to the shown documents in order of
// first citation. Out-of-range markers are ignored; an answer without any
// valid marker cites every shown document.
func citedDocuments(text string, shown []domain.DocumentCandidate) []string {
	seen := make(map[string]struct{}, len(shown))
	out := make([]string, 0, len(shown))
	for _, match := range sourceMarker.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(match[1], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n < 1 || n > len(shown) {
				continue
			}
			id := shown[n-1].DocumentID
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, c := range shown {
		out = append(out, c.DocumentID)
	}
	return out
}
