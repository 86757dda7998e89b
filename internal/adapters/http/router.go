package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/self-correcting-rag/internal/config"
	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/core/ports"
	"github.com/kirillkom/self-correcting-rag/internal/observability/metrics"
)

// EpisodeReader looks up a recorded episode by id.
type EpisodeReader interface {
	GetEpisode(ctx context.Context, id string) (domain.EpisodeEvent, error)
}

type Router struct {
	cfg       config.Config
	policy    domain.LoopPolicy
	answerer  ports.QuestionAnswerer
	retriever ports.Retriever
	episodes  EpisodeReader
	metrics   *metrics.HTTPServerMetrics
}

type RouterOptions struct {
	// Episodes enables GET /v1/episodes/{id}.
	Episodes EpisodeReader
	Metrics  *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	policy domain.LoopPolicy,
	answerer ports.QuestionAnswerer,
	retriever ports.Retriever,
	options RouterOptions,
) *Router {
	return &Router{
		cfg:       cfg,
		policy:    policy,
		answerer:  answerer,
		retriever: retriever,
		episodes:  options.Episodes,
		metrics:   options.Metrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/answer", rt.answer)
	mux.HandleFunc("POST /v1/retrieve", rt.retrieve)
	if rt.episodes != nil {
		mux.HandleFunc("GET /v1/episodes/{id}", rt.getEpisode)
	}

	var api http.Handler = mux
	api = backpressureMiddleware(api, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	api = rateLimitMiddleware(api, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	root := http.NewServeMux()
	root.Handle("/v1/", api)
	root.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		root.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = root
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type answerRequest struct {
	Query  string                 `json:"query"`
	Hints  domain.PlanHints       `json:"hints"`
	Policy domain.PolicyOverrides `json:"policy"`
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("query is required")))
		return
	}
	policy, err := rt.requestPolicy(req.Policy)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	ctx, cancel := rt.episodeContext(r.Context())
	defer cancel()
	result, err := rt.answerer.Answer(ctx, domain.Query{Text: req.Query, Hints: req.Hints}, policy)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set(episodeIDHeader, result.EpisodeID)
	writeJSON(w, http.StatusOK, result)
}

type retrieveRequest struct {
	Query    string           `json:"query"`
	Strategy string           `json:"strategy"`
	TopN     *int             `json:"top_n"`
	Hints    domain.PlanHints `json:"hints"`
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required")))
		return
	}
	strategy := domain.StrategyHybrid
	if strings.TrimSpace(req.Strategy) != "" {
		parsed, err := domain.ParseStrategy(req.Strategy)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		strategy = parsed
	}
	policy, err := rt.requestPolicy(domain.PolicyOverrides{TopN: req.TopN})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	ctx, cancel := rt.episodeContext(r.Context())
	defer cancel()
	result, err := rt.retriever.Retrieve(ctx, domain.Query{Text: req.Query, Hints: req.Hints}, strategy, policy)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) getEpisode(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "get episode", errors.New("episode id is required")))
		return
	}
	event, err := rt.episodes.GetEpisode(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// requestPolicy applies per-request overrides to the configured policy.
// Overrides that break the policy are the caller's fault, not a
// configuration problem.
func (rt *Router) requestPolicy(overrides domain.PolicyOverrides) (domain.LoopPolicy, error) {
	if err := overrides.Validate(); err != nil {
		return domain.LoopPolicy{}, err
	}
	policy := overrides.Apply(rt.policy).Normalize()
	if err := policy.Validate(); err != nil {
		return domain.LoopPolicy{}, domain.WrapError(domain.ErrInvalidInput, "policy overrides", err)
	}
	return policy, nil
}

func (rt *Router) episodeContext(parent context.Context) (context.Context, context.CancelFunc) {
	if rt.cfg.RAGEpisodeTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, rt.cfg.RAGEpisodeTimeout)
}

func (rt *Router) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := r.Body
	if rt.cfg.APIRequestBodyMaxByte > 0 {
		body = http.MaxBytesReader(w, r.Body, rt.cfg.APIRequestBodyMaxByte)
	}
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err)))
		return false
	}
	return true
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		requestLogger(r.Context()).Error("http_request_failed",
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{Error: message, RequestID: requestIDFromContext(r.Context())})
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
