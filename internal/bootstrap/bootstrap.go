package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/self-correcting-rag/internal/config"
	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/core/ports"
	"github.com/kirillkom/self-correcting-rag/internal/core/usecase"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/cache"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/cache/lru"
	rediscache "github.com/kirillkom/self-correcting-rag/internal/infrastructure/cache/redis"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/llm/openai"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/self-correcting-rag/internal/observability/logging"
	"github.com/kirillkom/self-correcting-rag/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger
	Policy domain.LoopPolicy

	AnswerUC *usecase.AnswerUseCase
	// Episodes is nil when the episode log is disabled.
	Episodes *postgres.EpisodeRepository
	// Bus is nil when NATS_URL is empty.
	Bus *nats.Bus

	Registry *prometheus.Registry
	Metrics  *metrics.EpisodeMetrics

	closers []func()
}

func New(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger := logging.NewJSONLogger(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(logger)

	app := &App{Config: cfg, Logger: logger}
	// Release whatever was opened before a failing step.
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.Policy, err = cfg.LoopPolicy()
	if err != nil {
		return nil, fmt.Errorf("load loop policy: %w", err)
	}

	app.Registry = metrics.NewRegistry()
	app.Metrics = metrics.NewEpisodeMetrics(cfg.ServiceName, app.Registry)

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:   cfg.ResilienceRetryAttempts,
		BreakerEnabled:     cfg.ResilienceBreakerEnabled,
		BreakerOpenTimeout: cfg.ResilienceBreakerOpenTime,
	}, resilience.WithLogger(logger), resilience.WithStateListener(app.Metrics.BreakerStateChanged))

	generator, embedder, err := newModels(cfg, executor)
	if err != nil {
		return nil, err
	}

	vectorIndex := qdrant.New(cfg.QdrantURL, qdrant.Options{
		Collection:   cfg.QdrantCollection,
		DenseVector:  cfg.QdrantDenseVector,
		SparseVector: cfg.QdrantSparseVector,
		Executor:     executor,
	})
	if err := vectorIndex.EnsureReady(ctx); err != nil {
		logger.Warn("vector_index_unavailable", "collection", cfg.QdrantCollection, "error", err)
	}

	var db *sql.DB
	needsDB := cfg.LexicalBackend == "postgres" || cfg.EpisodeLogEnable
	if needsDB && cfg.PostgresDSN != "" {
		db, err = postgres.OpenDB(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closers = append(app.closers, func() { _ = db.Close() })
	}

	lexical, err := newLexicalIndex(ctx, cfg, db, vectorIndex, logger)
	if err != nil {
		return nil, err
	}

	var graph ports.GraphStore
	if cfg.Neo4jURI != "" {
		store, err := neo4j.New(neo4j.Options{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
			Executor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init graph store: %w", err)
		}
		app.closers = append(app.closers, func() { _ = store.Close(context.Background()) })
		if err := store.EnsureReady(ctx); err != nil {
			logger.Warn("graph_store_unavailable", "error", err)
		}
		graph = store
	}

	resultCache, err := newResultCache(ctx, cfg, logger, app)
	if err != nil {
		return nil, err
	}

	options := usecase.AnswerOptions{
		Observer: app.Metrics,
		Logger:   logger,
	}
	if db != nil && cfg.EpisodeLogEnable {
		app.Episodes = postgres.NewEpisodeRepository(db)
		if err := app.Episodes.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure episode schema: %w", err)
		}
		options.Recorder = app.Episodes
	}
	if cfg.NATSURL != "" {
		app.Bus, err = nats.Connect(cfg.NATSURL, nats.Options{
			Name:               cfg.ServiceName,
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init message bus: %w", err)
		}
		app.closers = append(app.closers, app.Bus.Close)
		options.Publisher = app.Bus.EpisodePublisher(cfg.EpisodeEventsSubject)
	}

	engine := usecase.NewFusionEngine(embedder, vectorIndex, lexical, graph, usecase.FusionEngineOptions{
		Cache:    resultCache,
		Observer: app.Metrics,
		Logger:   logger,
	})
	app.AnswerUC = newAnswerUseCase(engine, generator, options)

	logger.Info("bootstrap_completed",
		"model_provider", cfg.ModelProvider,
		"lexical_backend", cfg.LexicalBackend,
		"graph_enabled", graph != nil,
		"redis_cache", cfg.RedisAddr != "",
		"episode_log", app.Episodes != nil,
		"nats", app.Bus != nil,
	)
	return app, nil
}

// newAnswerUseCase always wires the planner. Whether it runs is decided per
// episode by policy.SkipPlanning, which requests may override.
func newAnswerUseCase(engine usecase.StrategyRetriever, generator ports.TextGenerator, options usecase.AnswerOptions) *usecase.AnswerUseCase {
	options.Planner = usecase.NewLLMPlanner(generator)
	return usecase.NewAnswerUseCase(
		engine,
		usecase.NewLLMReviewer(generator, options.Logger),
		usecase.NewLLMSynthesizer(generator),
		options,
	)
}

func newModels(cfg config.Config, executor *resilience.Executor) (ports.TextGenerator, ports.Embedder, error) {
	switch cfg.ModelProvider {
	case "ollama":
		client := ollama.New(cfg.OllamaURL, ollama.Options{
			GenerateModel: cfg.OllamaGenModel,
			EmbedModel:    cfg.OllamaEmbedModel,
			Timeout:       cfg.LLMTimeout,
			Temperature:   cfg.LLMTemperature,
			Executor:      executor,
		})
		return ollama.NewGenerator(client), ollama.NewEmbedder(client), nil
	case "openai":
		client := openai.New(openai.Config{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			ChatModel:   cfg.OpenAIChatModel,
			EmbedModel:  cfg.OpenAIEmbedModel,
			Timeout:     cfg.LLMTimeout,
			Temperature: cfg.LLMTemperature,
			Executor:    executor,
		})
		return client, client, nil
	default:
		return nil, nil, domain.WrapError(domain.ErrConfiguration, "select model provider", fmt.Errorf("unknown MODEL_PROVIDER %q", cfg.ModelProvider))
	}
}

func newLexicalIndex(ctx context.Context, cfg config.Config, db *sql.DB, vectorIndex *qdrant.Client, logger *slog.Logger) (ports.LexicalIndex, error) {
	switch cfg.LexicalBackend {
	case "postgres":
		if db == nil {
			return nil, domain.WrapError(domain.ErrConfiguration, "lexical index", fmt.Errorf("POSTGRES_DSN is required for the postgres lexical backend"))
		}
		index, err := postgres.NewLexicalIndex(db, postgres.LexicalOptions{
			Table:            cfg.LexicalTable,
			TextSearchConfig: cfg.LexicalTSConfig,
		})
		if err != nil {
			return nil, err
		}
		if err := index.EnsureReady(ctx); err != nil {
			logger.Warn("lexical_index_unavailable", "table", cfg.LexicalTable, "error", err)
		}
		return index, nil
	case "qdrant":
		return qdrant.NewSparseClient(vectorIndex), nil
	case "none", "":
		return nil, nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "lexical index", fmt.Errorf("unknown LEXICAL_BACKEND %q", cfg.LexicalBackend))
	}
}

func newResultCache(ctx context.Context, cfg config.Config, logger *slog.Logger, app *App) (ports.ResultCache, error) {
	local := lru.New(cfg.CacheSize, cfg.CacheTTL)
	if cfg.RedisAddr == "" {
		return local, nil
	}
	client, err := rediscache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("init redis cache: %w", err)
	}
	app.closers = append(app.closers, func() { _ = client.Close() })
	return cache.NewTiered(local, rediscache.New(client, cfg.RedisTTL), logger), nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
