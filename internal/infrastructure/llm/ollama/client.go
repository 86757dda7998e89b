package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/resilience"
)

type Options struct {
	GenerateModel string
	EmbedModel    string
	Timeout       time.Duration
	// Temperature is sent as a model option; zero keeps the judge and
	// planner close to deterministic.
	Temperature float64
	NumPredict  int
	Executor    *resilience.Executor
}

type Client struct {
	baseURL    string
	opts       Options
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
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

// Generator implements the text-generation capability on /api/generate.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "ollama generate", fmt.Errorf("prompt is empty"))
	}
	request := generateRequest{
		Model:  g.client.opts.GenerateModel,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: g.client.opts.Temperature,
			NumPredict:  g.client.opts.NumPredict,
		},
	}
	return resilience.Call(ctx, g.client.executor, "ollama.generate", func(callCtx context.Context) (string, error) {
		var response struct {
			Response string `json:"response"`
		}
		if err := g.client.postJSON(callCtx, "/api/generate", request, &response, "generate"); err != nil {
			return "", err
		}
		return strings.TrimSpace(response.Response), nil
	}, classify)
}

// Embedder builds query vectors on /api/embed.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.opts.EmbedModel,
		"input": []string{text},
	}
	return resilience.Call(ctx, e.client.executor, "ollama.embed", func(callCtx context.Context) ([]float32, error) {
		var response struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := e.client.postJSON(callCtx, "/api/embed", request, &response, "embed"); err != nil {
			return nil, err
		}
		if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
			return nil, fmt.Errorf("ollama embed: empty embedding result")
		}
		return response.Embeddings[0], nil
	}, classify)
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}
