package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	app "github.com/erp/shipmerge/internal/application/consolidation"
	domain "github.com/erp/shipmerge/internal/domain/consolidation"
	"github.com/erp/shipmerge/internal/infrastructure/auth"
	"github.com/erp/shipmerge/internal/infrastructure/cache"
	"github.com/erp/shipmerge/internal/infrastructure/config"
	"github.com/erp/shipmerge/internal/infrastructure/ecommerce"
	"github.com/erp/shipmerge/internal/infrastructure/event"
	"github.com/erp/shipmerge/internal/infrastructure/logger"
	"github.com/erp/shipmerge/internal/infrastructure/telemetry"
	"github.com/erp/shipmerge/internal/interfaces/http/handler"
	"github.com/erp/shipmerge/internal/interfaces/http/router"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting shipmerge",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.Bool("dry_run", cfg.DryRun),
	)

	ctx := context.Background()

	// Telemetry
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       serviceName(cfg),
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       serviceName(cfg),
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	metrics, err := telemetry.NewConsolidationMetrics(mp.Meter("shipmerge/consolidation"))
	if err != nil {
		log.Fatal("Failed to register consolidation metrics", zap.Error(err))
	}
	log.Info("Telemetry configured",
		zap.Bool("traces_exported", tp.IsEnabled()),
		zap.Bool("metrics_exported", mp.IsEnabled()))

	// Platform gateway
	tokens := auth.NewTokenCache(auth.TokenCacheConfig{
		ShopDomain:   cfg.Shopify.ShopDomain,
		ClientID:     cfg.Shopify.ClientID,
		ClientSecret: cfg.Shopify.ClientSecret,
		StaticToken:  cfg.Shopify.AccessToken,
		Logger:       log,
	})
	shopifyConfig := ecommerce.NewShopifyConfig(cfg.Shopify.ShopDomain)
	shopifyConfig.APIVersion = cfg.Shopify.APIVersion
	shopifyConfig.TimeoutSeconds = cfg.Shopify.TimeoutSeconds
	shopify, err := ecommerce.NewShopifyGateway(shopifyConfig, tokens, log)
	if err != nil {
		log.Fatal("Failed to create Shopify gateway", zap.Error(err))
	}
	shopify.SetMetrics(metrics)
	gateway := ecommerce.SelectGateway(shopify, cfg.DryRun, log)
	if dry, ok := gateway.(*ecommerce.DryRunGateway); ok {
		dry.SetMetrics(metrics)
	}

	// Merge claims
	claimStore, err := cache.NewClaimStoreFactory(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Redis.Enabled, cache.WithLogger(log)).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create merge claim store", zap.Error(err))
	}
	defer func() {
		if err := claimStore.Close(); err != nil {
			log.Error("Error closing merge claim store", zap.Error(err))
		}
	}()

	// Outcome stream
	publisher, closePublisher := newOutcomePublisher(cfg, log)
	defer closePublisher()

	// Application services
	methods := domain.NewMethodClassifier(cfg.Routing.AccumulateMethods, cfg.Routing.ExpressMethods)
	classifier := app.NewPaidOrderClassifier(app.PaidOrderClassifierConfig{
		Gateway:        gateway,
		Methods:        methods,
		Poller:         app.NewPoller(cfg.Routing.PollSchedule),
		HoldReasonNote: cfg.Routing.HoldReasonNote,
		DryRun:         cfg.DryRun,
		Logger:         log,
	})
	classifier.SetMetrics(metrics)
	orchestrator := app.NewMergeOrchestrator(app.MergeOrchestratorConfig{
		Gateway:  gateway,
		Methods:  methods,
		Claims:   claimStore,
		ClaimTTL: cfg.Redis.ClaimTTL,
		DryRun:   cfg.DryRun,
		Logger:   log,
	})
	orchestrator.SetMetrics(metrics)
	webhookService := app.NewWebhookService(app.WebhookServiceConfig{
		Classifier:   classifier,
		Orchestrator: orchestrator,
		Publisher:    publisher,
		DryRun:       cfg.DryRun,
		Logger:       log,
	})
	webhookService.SetMetrics(metrics)

	// HTTP
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine, err := router.NewEngine(router.EngineConfig{
		ServiceName:    serviceName(cfg),
		Tracing:        cfg.Telemetry.Enabled,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, log)
	if err != nil {
		log.Fatal("Failed to create HTTP engine", zap.Error(err))
	}

	webhookHandler := handler.NewShopifyWebhookHandler(
		webhookService,
		auth.NewWebhookVerifier(cfg.Shopify.WebhookSecret),
		cfg.HTTP.MaxBodySize,
		log,
	)
	systemHandler := handler.NewSystemHandler(handler.SystemInfo{
		Name:              cfg.App.Name,
		Env:               cfg.App.Env,
		Version:           cfg.App.Version,
		DryRun:            cfg.DryRun,
		AccumulateMethods: cfg.Routing.AccumulateMethods,
		ExpressMethods:    cfg.Routing.ExpressMethods,
	})

	r := router.NewRouter(engine)
	r.RegisterRoot(webhookHandler).
		RegisterRoot(systemHandler.HealthRoutes()).
		Register(systemHandler)
	r.Setup()

	srv := &http.Server{
		Addr:           cfg.App.Addr(),
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Error("Meter provider shutdown failed", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracer provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func serviceName(cfg *config.Config) string {
	if cfg.Telemetry.ServiceName != "" {
		return cfg.Telemetry.ServiceName
	}
	return cfg.App.Name
}

// newOutcomePublisher returns the Kafka publisher when enabled, otherwise a
// no-op publisher. The returned func releases the producer.
func newOutcomePublisher(cfg *config.Config, log *zap.Logger) (app.OutcomePublisher, func()) {
	if !cfg.Kafka.Enabled {
		return app.NoopOutcomePublisher{}, func() {}
	}
	publisher, err := event.NewKafkaOutcomePublisher(event.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		ClientID:       cfg.App.Name,
		PublishTimeout: cfg.Kafka.PublishTimeout,
	}, log)
	if err != nil {
		log.Fatal("Failed to create Kafka outcome publisher", zap.Error(err))
	}
	log.Info("Publishing outcomes to Kafka",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic))
	return publisher, publisher.Close
}
