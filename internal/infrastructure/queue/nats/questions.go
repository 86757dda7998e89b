package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/core/ports"
)

const questionQueueGroup = "rag-workers"

// QuestionRequest is the request/reply payload accepted by the worker.
type QuestionRequest struct {
	Query  string                 `json:"query"`
	Hints  domain.PlanHints       `json:"hints,omitempty"`
	Policy domain.PolicyOverrides `json:"policy,omitempty"`
}

// QuestionReply carries either the answer or an error message.
type QuestionReply struct {
	Result *domain.AnswerResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
	Kind   string               `json:"kind,omitempty"`
}

// QuestionHandler answers question payloads with the configured policy as
// the base for per-request overrides.
type QuestionHandler struct {
	answerer ports.QuestionAnswerer
	policy   domain.LoopPolicy
	timeout  time.Duration
}

func NewQuestionHandler(answerer ports.QuestionAnswerer, policy domain.LoopPolicy, timeout time.Duration) *QuestionHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &QuestionHandler{answerer: answerer, policy: policy, timeout: timeout}
}

// Handle decodes one request and returns the encoded reply. It never fails:
// errors are reported inside the reply.
func (h *QuestionHandler) Handle(ctx context.Context, data []byte) []byte {
	var req QuestionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return encodeReply(QuestionReply{Error: fmt.Sprintf("invalid request: %v", err), Kind: "invalid_input"})
	}
	if strings.TrimSpace(req.Query) == "" {
		return encodeReply(QuestionReply{Error: "query is required", Kind: "invalid_input"})
	}

	if err := req.Policy.Validate(); err != nil {
		return encodeReply(QuestionReply{Error: err.Error(), Kind: "invalid_input"})
	}
	policy := req.Policy.Apply(h.policy).Normalize()
	if err := policy.Validate(); err != nil {
		return encodeReply(QuestionReply{Error: err.Error(), Kind: "invalid_input"})
	}

	answerCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	result, err := h.answerer.Answer(answerCtx, domain.Query{Text: req.Query, Hints: req.Hints}, policy)
	if err != nil {
		return encodeReply(QuestionReply{Error: err.Error(), Kind: errorKind(err)})
	}
	return encodeReply(QuestionReply{Result: result})
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration"
	case errors.Is(err, domain.ErrSynthesisFailure):
		return "synthesis_failure"
	case errors.Is(err, domain.ErrTemporary), errors.Is(err, domain.ErrAllPathsExhausted):
		return "temporary"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}

func encodeReply(reply QuestionReply) []byte {
	payload, err := json.Marshal(reply)
	if err != nil {
		return []byte(`{"error":"encode reply failed","kind":"internal"}`)
	}
	return payload
}

// ServeQuestions answers requests on subject until ctx is done, then drains
// in-flight messages.
func (b *Bus) ServeQuestions(ctx context.Context, subject string, handler *QuestionHandler) error {
	sub, err := b.conn.QueueSubscribe(subject, questionQueueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		reply := handler.Handle(ctx, msg.Data)
		if msg.Reply == "" {
			b.logger.Warn("question_without_reply_subject", "subject", msg.Subject)
			return
		}
		if err := msg.Respond(reply); err != nil {
			b.logger.Warn("question_reply_failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	b.logger.Info("question_worker_started", "subject", subject, "queue_group", questionQueueGroup)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// Ask sends a question and waits for the worker's reply.
func (b *Bus) Ask(ctx context.Context, subject string, req QuestionRequest) (QuestionReply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return QuestionReply{}, fmt.Errorf("marshal question: %w", err)
	}
	msg, err := b.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return QuestionReply{}, wrapTemporaryIfNeeded(fmt.Errorf("nats request: %w", err))
	}
	var reply QuestionReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return QuestionReply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}
