package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/self-correcting-rag/internal/bootstrap"
	"github.com/kirillkom/self-correcting-rag/internal/config"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/self-correcting-rag/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()
	if app.Bus == nil {
		log.Fatalf("worker requires NATS_URL")
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(app.Registry))
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	handler := nats.NewQuestionHandler(app.AnswerUC, app.Policy, cfg.RAGEpisodeTimeout)
	if err := app.Bus.ServeQuestions(ctx, cfg.QuestionSubject, handler); err != nil {
		slog.Error("question_worker_failed", "error", err)
		os.Exit(1)
	}
}
