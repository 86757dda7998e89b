package usecase

import (
	"strings"
	"unicode"
)

const maxSeedEntities = 8

var seedStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "who": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "why": {}, "how": {}, "does": {}, "did": {}, "has": {},
	"have": {}, "had": {}, "with": {}, "from": {}, "that": {}, "this": {}, "these": {}, "those": {},
	"about": {}, "into": {}, "can": {}, "could": {}, "should": {}, "would": {}, "will": {}, "its": {},
	"our": {}, "your": {}, "their": {}, "there": {}, "tell": {}, "many": {}, "much": {}, "any": {},
	"all": {}, "not": {}, "you": {}, "his": {}, "her": {}, "them": {}, "they": {}, "she": {},
}

// normalizeQuery lowercases and collapses whitespace so equivalent
// questions share a cache key.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// extractSeedEntities picks graph traversal seeds from free text: keyword
// tokens without stopwords, first occurrence order.
func extractSeedEntities(text string) []string {
	tokens := splitAlphaNumLower(text)
	out := make([]string, 0, maxSeedEntities)
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if len(token) < 3 {
			continue
		}
		if _, stop := seedStopwords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
		if len(out) == maxSeedEntities {
			break
		}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
