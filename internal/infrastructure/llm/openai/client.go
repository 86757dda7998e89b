package openai

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

// Config targets any OpenAI-compatible endpoint (hosted API, vLLM,
// LM Studio, llama.cpp server).
type Config struct {
	BaseURL       string
	APIKey        string
	ChatModel     string
	EmbedModel    string
	Timeout       time.Duration
	Temperature   float64
	MaxTokens     int
	ChatPath      string
	EmbeddingPath string
	Executor      *resilience.Executor
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/v1/chat/completions"
	}
	if cfg.EmbeddingPath == "" {
		cfg.EmbeddingPath = "/v1/embeddings"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	executor := cfg.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 1})
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}, executor: executor}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends the prompt as a single user message.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "openai generate", fmt.Errorf("prompt is empty"))
	}
	request := chatRequest{
		Model:       c.cfg.ChatModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	return resilience.Call(ctx, c.executor, "openai.chat", func(callCtx context.Context) (string, error) {
		var response chatResponse
		if err := c.post(callCtx, c.cfg.ChatPath, request, &response); err != nil {
			return "", err
		}
		if len(response.Choices) == 0 {
			return "", fmt.Errorf("openai chat: response has no choices")
		}
		return strings.TrimSpace(response.Choices[0].Message.Content), nil
	}, classify)
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{"model": c.cfg.EmbedModel, "input": []string{text}}
	return resilience.Call(ctx, c.executor, "openai.embed", func(callCtx context.Context) ([]float32, error) {
		var response struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := c.post(callCtx, c.cfg.EmbeddingPath, request, &response); err != nil {
			return nil, err
		}
		if len(response.Data) == 0 || len(response.Data[0].Embedding) == 0 {
			return nil, fmt.Errorf("openai embed: empty embedding result")
		}
		return response.Data[0].Embedding, nil
	}, classify)
}

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal openai request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "openai request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return domain.WrapError(domain.ErrConfiguration, "openai request", statusErr)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return domain.WrapError(domain.ErrTemporary, "openai request", statusErr)
		default:
			return statusErr
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode openai response: %w", err)
	}
	return nil
}

func classify(err error) resilience.ErrorClassification {
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, context.Canceled), resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{}
	case domain.IsKind(err, domain.ErrConfiguration), domain.IsKind(err, domain.ErrInvalidInput):
		return resilience.ErrorClassification{}
	case domain.IsKind(err, domain.ErrTemporary), errors.As(err, &netErr):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}
