package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/resilience"
)

type Options struct {
	Collection string
	// DenseVector and SparseVector name the collection's vectors; an empty
	// DenseVector targets the default unnamed vector.
	DenseVector  string
	SparseVector string

	DocumentIDField string
	TitleField      string
	TextField       string

	Timeout  time.Duration
	Executor *resilience.Executor
}

func (o Options) withDefaults() Options {
	if o.SparseVector == "" {
		o.SparseVector = "text-sparse"
	}
	if o.DocumentIDField == "" {
		o.DocumentIDField = "doc_id"
	}
	if o.TitleField == "" {
		o.TitleField = "title"
	}
	if o.TextField == "" {
		o.TextField = "text"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// Client serves the vector path from a Qdrant collection of chunk points.
type Client struct {
	baseURL    string
	opts       Options
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, opts Options) *Client {
	opts = opts.withDefaults()
	executor := opts.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 1})
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		executor:   executor,
	}
}

// Search returns documents ranked by their best matching chunk.
func (c *Client) Search(ctx context.Context, queryVector []float32, topK int) ([]domain.PathHit, error) {
	if len(queryVector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant search", fmt.Errorf("query vector is empty"))
	}
	body := map[string]any{
		"query":        queryVector,
		"limit":        overfetch(topK),
		"with_payload": true,
	}
	if c.opts.DenseVector != "" {
		body["using"] = c.opts.DenseVector
	}
	return c.query(ctx, "qdrant.search", body, topK)
}

// EnsureReady fails with a ConfigurationError when the collection is
// missing or the server is unreachable.
func (c *Client) EnsureReady(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.opts.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create collection info request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrConfiguration, "qdrant collection info", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.WrapError(domain.ErrConfiguration, "qdrant collection info", readStatusError("collection info", resp))
	}
	return nil
}

type queryResponse struct {
	Result struct {
		Points []scoredPoint `json:"points"`
	} `json:"result"`
}

type scoredPoint struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) query(ctx context.Context, operation string, body map[string]any, topK int) ([]domain.PathHit, error) {
	return resilience.Call(ctx, c.executor, operation, func(callCtx context.Context) ([]domain.PathHit, error) {
		var resp queryResponse
		path := fmt.Sprintf("/collections/%s/points/query", c.opts.Collection)
		if err := c.postJSON(callCtx, path, body, &resp); err != nil {
			return nil, err
		}
		return c.collapse(resp.Result.Points, topK), nil
	}, classifyQdrantError)
}

// collapse keeps each document's best chunk, preserving rank order.
func (c *Client) collapse(points []scoredPoint, topK int) []domain.PathHit {
	out := make([]domain.PathHit, 0, len(points))
	seen := make(map[string]struct{}, len(points))
	for _, p := range points {
		id := getStringPayload(p.Payload, c.opts.DocumentIDField)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, domain.PathHit{
			DocumentID: id,
			Title:      getStringPayload(p.Payload, c.opts.TitleField),
			Text:       getStringPayload(p.Payload, c.opts.TextField),
			Score:      p.Score,
		})
		if topK > 0 && len(out) == topK {
			break
		}
	}
	return out
}

// overfetch asks for extra chunks so collapsing to documents still fills
// topK in the common case.
func overfetch(topK int) int {
	if topK <= 0 {
		return 10
	}
	return topK * 3
}

type StatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

func readStatusError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &StatusError{Operation: operation, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(raw)}
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal qdrant request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return readStatusError("query", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	return nil
}

func classifyQdrantError(err error) resilience.ErrorClassification {
	if err == nil || errors.Is(err, context.Canceled) || resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{}
	}
	if domain.IsKind(err, domain.ErrInvalidInput) {
		return resilience.ErrorClassification{}
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		retryable := statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
