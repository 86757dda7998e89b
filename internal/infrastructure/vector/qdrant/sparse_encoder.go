package qdrant

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	queryBM25K     = 1.2
	maxSparseTerms = 256
)

// SparseClient serves the lexical path from the collection's BM25-style
// sparse vectors. Documents must have been indexed with the same hashed
// term encoding.
type SparseClient struct {
	*Client
}

func NewSparseClient(client *Client) *SparseClient {
	return &SparseClient{Client: client}
}

func (c *SparseClient) Search(ctx context.Context, queryText string, topK int) ([]domain.PathHit, error) {
	vector := encodeSparseQuery(queryText)
	if len(vector.Indices) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"query":        vector,
		"using":        c.opts.SparseVector,
		"limit":        overfetch(topK),
		"with_payload": true,
	}
	hits, err := c.query(ctx, "qdrant.sparse_search", body, topK)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}
	return hits, nil
}

func encodeSparseQuery(query string) sparseVector {
	termFreq := make(map[uint32]float64, 32)
	for _, token := range tokenizeAlphaNum(query) {
		termFreq[hashToken(token)]++
	}
	return termFreqToSparse(termFreq, queryBM25K)
}

// termFreqToSparse saturates term frequency as BM25 does and keeps the
// lowest maxSparseTerms hashed indices so the encoding is deterministic.
func termFreqToSparse(tf map[uint32]float64, k float64) sparseVector {
	if len(tf) == 0 {
		return sparseVector{}
	}
	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	if len(indices) > maxSparseTerms {
		indices = indices[:maxSparseTerms]
	}

	values := make([]float32, 0, len(indices))
	for _, idx := range indices {
		weight := (tf[idx] * (k + 1.0)) / (tf[idx] + k)
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			weight = 0
		}
		values = append(values, float32(weight))
	}
	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	if sum := h.Sum32(); sum != 0 {
		return sum
	}
	return 1
}

func tokenizeAlphaNum(s string) []string {
	out := make([]string, 0, 24)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return out
}
