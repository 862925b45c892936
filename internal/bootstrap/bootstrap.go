package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	httpadapter "insure-rag/internal/adapters/http"
	"insure-rag/internal/config"
	"insure-rag/internal/core/ports"
	"insure-rag/internal/core/usecase"
	"insure-rag/internal/infrastructure/corpus"
	"insure-rag/internal/infrastructure/llm/openai"
	"insure-rag/internal/infrastructure/queue/nats"
	"insure-rag/internal/infrastructure/rerank"
	"insure-rag/internal/infrastructure/resilience"
	memorysession "insure-rag/internal/infrastructure/session/memory"
	redissession "insure-rag/internal/infrastructure/session/redis"
	"insure-rag/internal/infrastructure/vector/qdrant"
	"insure-rag/internal/observability/metrics"
)

// App wires configuration into the full object graph: corpus loader, vector
// index, model gateway, judge, session store, usecases and the HTTP surface.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Handler http.Handler

	ChatUC   ports.ChatService
	ReloadUC ports.CorpusAdmin

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := config.LoadExpanderPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load expander policy: %w", err)
	}

	serverMetrics := metrics.NewServerMetrics("insure-rag-api")
	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	corpusState := usecase.NewCorpusState()
	loader := corpus.NewLoader(cfg.CorpusDir, logger)
	vectorIndex := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)

	llmClient := openai.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMGenModel, cfg.LLMEmbedModel, executor)
	embedder := openai.NewEmbedder(llmClient, cfg.EmbedTimeout)
	generator := openai.NewGenerator(llmClient, openai.LoadSystemPrompt(cfg.SystemPromptPath), cfg.GenerateTimeout)
	var rewriter ports.QueryRewriter
	if policy.RewriteEnabled {
		rewriter = openai.NewRewriter(llmClient)
	}

	judge := rerank.New(
		cfg.RerankURL,
		cfg.RerankTimeout,
		cfg.RerankScoreFloor,
		cfg.MaxChunksPerProduct,
		corpusState.Summary,
		logger,
	)

	sessions, closeSessions, err := buildSessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	expander := usecase.NewQueryExpander(usecase.FollowupPolicy{
		MaxRunes:       policy.FollowupMaxRunes,
		Markers:        policy.FollowupMarkers,
		RewriteEnabled: policy.RewriteEnabled,
	}, corpusState, rewriter, logger)

	funnel := usecase.NewRetrievalFunnel(embedder, vectorIndex, judge, cfg.RecallK, cfg.FunnelTopN, logger)

	chatUC := usecase.NewChatUseCase(
		expander,
		funnel,
		generator,
		sessions,
		corpusState,
		cfg.SessionAnswerMaxBytes,
		serverMetrics,
		logger,
	)
	reloadUC := usecase.NewReloadUseCase(loader, vectorIndex, corpusState, policy.Synonyms, logger)

	chunks, err := reloadUC.Reload(ctx)
	serverMetrics.RecordCorpusReload(err, chunks)
	if err != nil {
		closeSessions()
		return nil, fmt.Errorf("initial corpus load: %w", err)
	}

	closeFn := closeSessions
	if cfg.NATSURL != "" {
		bus, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSReloadSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			closeSessions()
			return nil, fmt.Errorf("init reload event bus: %w", err)
		}
		go func() {
			err := bus.SubscribeCorpusReload(ctx, func(ctx context.Context, revision string) error {
				logger.Info("corpus_reload_event", "revision", revision)
				chunks, err := reloadUC.Reload(ctx)
				serverMetrics.RecordCorpusReload(err, chunks)
				return err
			})
			if err != nil && ctx.Err() == nil {
				logger.Error("reload_subscription_ended", "error", err)
			}
		}()
		prevClose := closeFn
		closeFn = func() {
			bus.Close()
			prevClose()
		}
	}

	var limiter *rate.Limiter
	if cfg.APIRateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.APIRateLimitRPS), cfg.APIRateLimitBurst)
	}
	router := httpadapter.NewRouter(chatUC, reloadUC, serverMetrics, limiter, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Handler:  router.Handler(),
		ChatUC:   chatUC,
		ReloadUC: reloadUC,
		closeFn:  closeFn,
	}, nil
}

func buildSessionStore(ctx context.Context, cfg config.Config) (ports.SessionStore, func(), error) {
	if cfg.RedisURL == "" {
		store := memorysession.New(cfg.SessionMaxTurns, cfg.SessionTTL)
		store.StartJanitor(ctx, cfg.SessionTTL/2)
		return store, func() {}, nil
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	store := redissession.New(client, cfg.SessionMaxTurns, cfg.SessionTTL)
	return store, func() { _ = client.Close() }, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
