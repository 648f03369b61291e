package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"taxrelay.app/relay/common/id"
	"taxrelay.app/relay/common/llm"
	"taxrelay.app/relay/common/logger"
	"taxrelay.app/relay/common/otel"
	"taxrelay.app/relay/core/config"
	"taxrelay.app/relay/core/db"
	"taxrelay.app/relay/internal/classifier"
	"taxrelay.app/relay/internal/dedup"
	"taxrelay.app/relay/internal/fx"
	"taxrelay.app/relay/internal/http/handler"
	"taxrelay.app/relay/internal/http/handler/webhook"
	"taxrelay.app/relay/internal/http/middleware"
	httprouter "taxrelay.app/relay/internal/http/router"
	"taxrelay.app/relay/internal/invoice"
	"taxrelay.app/relay/internal/metrics"
	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/queue"
	"taxrelay.app/relay/internal/retry"
	"taxrelay.app/relay/internal/router"
	"taxrelay.app/relay/internal/ruleset"
	"taxrelay.app/relay/internal/service"
	"taxrelay.app/relay/internal/signature"
	"taxrelay.app/relay/internal/sink"
	"taxrelay.app/relay/internal/tax"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "relay starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	rules, err := ruleset.NewLoader(cfg.RulesetPath)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load ruleset", "error", err, "path", cfg.RulesetPath)
		os.Exit(1)
	}
	current := rules.Current()
	slog.InfoContext(ctx, "ruleset loaded",
		"version", current.Version,
		"settlement_currency", current.SettlementCurrency,
		"sources", current.SourceNames())
	rules.OnChange(func(rs *ruleset.Ruleset) {
		metrics.RulesetReloads.Inc()
		slog.Info("active ruleset changed", "version", rs.Version, "settlement_currency", rs.SettlementCurrency)
	})

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	if err := database.EnsureSchema(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "dead_letter_stream", cfg.Redis.DLQStream)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	stopWatch, err := rules.Watch(runCtx)
	if err != nil {
		slog.WarnContext(ctx, "ruleset hot reload disabled", "error", err)
		stopWatch = func() {}
	}

	var rates fx.Provider = fx.NewStatic(rules)
	if cfg.FX.RemoteEnabled() {
		rates = fx.NewRedisCache(fx.NewHTTPProvider(cfg.FX.RatesURL, cfg.FX.Timeout), redisClient, cfg.Redis.KeyPrefix, cfg.FX.CacheTTL)
		slog.InfoContext(ctx, "using remote fx rates", "url", cfg.FX.RatesURL)
	}

	var primary classifier.Model
	if cfg.ClassifierLLM.Enabled() {
		client, err := llm.NewAgentClient(llm.Config{
			Provider:  cfg.ClassifierLLM.Provider,
			APIKey:    cfg.ClassifierLLM.APIKey,
			BaseURL:   cfg.ClassifierLLM.BaseURL,
			Model:     cfg.ClassifierLLM.Model,
			MaxTokens: cfg.ClassifierLLM.MaxTokens,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create classifier llm client", "error", err)
			os.Exit(1)
		}
		primary = classifier.NewLLMModel(client)
		slog.InfoContext(ctx, "primary classifier enabled", "model", client.Model())
	} else {
		slog.InfoContext(ctx, "primary classifier disabled, using keyword rules only")
	}

	cls := classifier.New(primary, rules, classifier.Config{
		Timeout:             cfg.Classifier.Timeout,
		ConfidenceThreshold: cfg.Classifier.ConfidenceThreshold,
		RatePerSecond:       cfg.Classifier.RatePerSecond,
		Burst:               cfg.Classifier.Burst,
	})

	lines := sink.NewPostgres(database.Pool(), cfg.Sink.Timeout)
	pipeline := router.NewPipeline(
		cls,
		tax.NewEngine(rules, rates, cfg.FX.Timeout),
		invoice.NewNormalizer(rules, cls.Threshold()),
		lines,
	)
	eventRouter := router.New(rules, pipeline)

	deadLetters := queue.NewDeadLetterStream(redisClient, queue.DeadLetterConfig{Stream: cfg.Redis.DLQStream})
	scheduler := retry.NewScheduler(retry.Config{
		BaseDelay:    cfg.Retry.BaseDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		ScanInterval: cfg.Retry.ScanInterval,
	}, func(ctx context.Context, event model.InboundEvent) error {
		_, err := eventRouter.Route(ctx, event)
		return err
	}, deadLetters)
	go scheduler.Run(runCtx)

	var deduper service.Deduplicator
	switch cfg.Dedup.Backend {
	case config.DedupBackendRedis:
		deduper = dedup.NewRedisStore(redisClient, cfg.Redis.KeyPrefix, cfg.Dedup.Retention)
	default:
		deduper = dedup.NewMemoryStore(cfg.Dedup.Retention, cfg.Dedup.Capacity)
	}
	slog.InfoContext(ctx, "dedup store ready", "backend", cfg.Dedup.Backend, "retention", cfg.Dedup.Retention)

	ingest := service.NewIngestService(
		rules,
		signature.NewVerifier(cfg.Signature.ValidityWindow),
		deduper,
		eventRouter,
		scheduler,
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := setupRouter(cfg, httprouter.Handlers{
		Deliveries:   webhook.NewDeliveryHandler(ingest, webhook.DefaultMaxBodyBytes),
		DeadLetters:  handler.NewDeadLetterHandler(deadLetters),
		InvoiceLines: handler.NewInvoiceLineHandler(lines),
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	scheduler.Stop()
	stopWatch()
	cancelRun()
	if pending := scheduler.Pending(); pending > 0 {
		slog.WarnContext(shutdownCtx, "retries still pending at shutdown", "count", pending)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, handlers httprouter.Handlers) *gin.Engine {
	engine := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		engine.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	httprouter.SetupRoutes(engine, handlers, httprouter.RouterConfig{
		AdminAPIKey: cfg.AdminAPIKey,
	})

	return engine
}

const banner = `
 _                          _
| |_ __ ___  ___ __ ___ ___| | __ _ _   _
| __/ _' \ \/ / '__/ _ \ | |/ _' | | | |
| || (_| |>  <| | |  __/ | | (_| | |_| |
 \__\__,_/_/\_\_|  \___|_|_|\__,_|\__, |
                                  |___/
`
