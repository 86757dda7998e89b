package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/resilience"
)

// StatusError is a non-2xx reply. Ollama puts the reason in {"error": "..."}.
type StatusError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "ollama "+operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return readStatusError(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func readStatusError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	message := strings.TrimSpace(string(raw))
	var reply struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &reply) == nil && reply.Error != "" {
		message = reply.Error
	}
	statusErr := &StatusError{Operation: operation, StatusCode: resp.StatusCode, Message: message}

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		// A model that was never pulled comes back as 404.
		return domain.WrapError(domain.ErrConfiguration, "ollama "+operation, statusErr)
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return domain.WrapError(domain.ErrTemporary, "ollama "+operation, statusErr)
	default:
		return statusErr
	}
}

// classify keeps a missing model out of the retry loop; everything else
// follows the shared transient rules.
func classify(err error) resilience.ErrorClassification {
	if domain.IsKind(err, domain.ErrConfiguration) {
		return resilience.ErrorClassification{}
	}
	return resilience.TransientClassifier(err)
}
