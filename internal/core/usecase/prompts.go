package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

const (
	reviewDocLimit     = 3
	reviewSnippetRunes = 150

	noInformationAnswer = "I couldn't find relevant information to answer your question. The retrieved documents don't contain information about this topic."
)

func buildPlanPrompt(query string) string {
	return fmt.Sprintf(`Query: %s

Choose the retrieval strategy for this query (answer with one name):
- hybrid: general questions
- vector_only: conceptual or semantic questions
- graph_only: relationships between entities
- bm25_only: exact terms, identifiers, error messages

Optionally add one line per path with a rewritten sub-query:
VECTOR: <semantic reformulation>
LEXICAL: <keywords>
GRAPH: <comma separated entity names>

Strategy:`, query)
}

func buildReviewPrompt(query string, result domain.FusionResult) string {
	var docs strings.Builder
	for i, c := range result.Candidates {
		if i >= reviewDocLimit {
			break
		}
		fmt.Fprintf(&docs, "Doc%d: %s\n", i+1, truncateRunes(c.Content, reviewSnippetRunes))
	}
	return fmt.Sprintf(`Query: %s

Docs:
%s
Can these docs answer the query? Reply exactly in this format:
SCORE: <0.0-1.0>
FEEDBACK: <what is missing, if anything>
`, query, docs.String())
}

func buildAnswerPrompt(query string, shown []domain.DocumentCandidate, maxChars int) string {
	blocks := make([]string, 0, len(shown))
	for i, c := range shown {
		blocks = append(blocks, fmt.Sprintf("[Source %d]\n%s", i+1, truncateRunes(c.Content, maxChars)))
	}
	return fmt.Sprintf(`You are an expert analyst. Answer the question using only the retrieved information.

Question: %s

Retrieved Information:
%s

Instructions:
1. Answer the question thoroughly
2. Cite the sources you use as [Source N]
3. If the information is incomplete or irrelevant, say so clearly
4. Be concise but complete

Answer:`, query, strings.Join(blocks, "\n\n"))
}
