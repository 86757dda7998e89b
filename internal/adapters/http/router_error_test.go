package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/self-correcting-rag/internal/config"
	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

type answerFake struct {
	result *domain.AnswerResult
	err    error
	query  domain.Query
	policy domain.LoopPolicy
}

func (f *answerFake) Answer(_ context.Context, query domain.Query, policy domain.LoopPolicy) (*domain.AnswerResult, error) {
	f.query = query
	f.policy = policy
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.AnswerResult{EpisodeID: "ep-1", Text: "ok"}, nil
}

type retrieveFake struct {
	err      error
	strategy domain.Strategy
	policy   domain.LoopPolicy
}

func (f *retrieveFake) Retrieve(_ context.Context, _ domain.Query, strategy domain.Strategy, policy domain.LoopPolicy) (domain.FusionResult, error) {
	f.strategy = strategy
	f.policy = policy
	if f.err != nil {
		return domain.FusionResult{}, f.err
	}
	return domain.FusionResult{Strategy: strategy, Candidates: []domain.DocumentCandidate{{DocumentID: "doc-1"}}}, nil
}

type episodesFake struct {
	err error
}

func (f episodesFake) GetEpisode(_ context.Context, id string) (domain.EpisodeEvent, error) {
	if f.err != nil {
		return domain.EpisodeEvent{}, f.err
	}
	return domain.EpisodeEvent{EpisodeID: id}, nil
}

func newTestRouter(cfg config.Config, answerer *answerFake, retriever *retrieveFake, options RouterOptions) http.Handler {
	if answerer == nil {
		answerer = &answerFake{}
	}
	if retriever == nil {
		retriever = &retrieveFake{}
	}
	return NewRouter(cfg, domain.DefaultLoopPolicy(), answerer, retriever, options).Handler()
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAnswerMapsDomainErrorsToStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("bad query")), http.StatusBadRequest},
		{"configuration", domain.WrapError(domain.ErrConfiguration, "answer", errors.New("no paths")), http.StatusInternalServerError},
		{"synthesis", domain.WrapError(domain.ErrSynthesisFailure, "synthesize", errors.New("model down")), http.StatusBadGateway},
		{"temporary", domain.WrapError(domain.ErrTemporary, "ollama", errors.New("503")), http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestRouter(config.Config{}, &answerFake{err: tc.err}, nil, RouterOptions{})
			res := postJSON(t, handler, "/v1/answer", map[string]any{"query": "test"})
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
		})
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	handler := newTestRouter(config.Config{}, &answerFake{err: domain.WrapError(domain.ErrConfiguration, "answer", errors.New("dsn=secret"))}, nil, RouterOptions{})
	res := postJSON(t, handler, "/v1/answer", map[string]any{"query": "test"})

	var resp errorResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error != "internal error" {
		t.Fatalf("expected generic message, got %q", resp.Error)
	}
	if resp.RequestID == "" {
		t.Fatalf("expected request id in error response")
	}
}

func TestRetrieveAllPathsExhaustedReturns503(t *testing.T) {
	retriever := &retrieveFake{err: domain.WrapError(domain.ErrAllPathsExhausted, "fusion", errors.New("vector: timeout"))}
	handler := newTestRouter(config.Config{}, nil, retriever, RouterOptions{})

	res := postJSON(t, handler, "/v1/retrieve", map[string]any{"query": "test"})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestGetEpisodeReturns404ForNotFound(t *testing.T) {
	handler := newTestRouter(config.Config{}, nil, nil, RouterOptions{
		Episodes: episodesFake{err: domain.WrapError(domain.ErrEpisodeNotFound, "get episode", errors.New("id=missing"))},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/episodes/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}
