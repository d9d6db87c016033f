package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"orchid-tracker/internal/core/cache"
	"orchid-tracker/internal/core/config"
	"orchid-tracker/internal/core/logger"
	"orchid-tracker/internal/core/server"
	"orchid-tracker/internal/core/storage"
	chatadapter "orchid-tracker/internal/features/chat/adapters"
	chathandler "orchid-tracker/internal/features/chat/handler"
	chatports "orchid-tracker/internal/features/chat/ports"
	chatservice "orchid-tracker/internal/features/chat/service"
	"orchid-tracker/internal/features/shipments/adapters"
	shipmenthandler "orchid-tracker/internal/features/shipments/handler"
	"orchid-tracker/internal/features/shipments/ports"
	"orchid-tracker/internal/features/shipments/reconcile"
	shipmentservice "orchid-tracker/internal/features/shipments/service"

	"go.uber.org/zap"
)

// changeStream bundles both sides of the change-stream transport.
type changeStream interface {
	ports.ChangePublisher
	ports.ChangeNotifier
	Close() error
}

// @title Orchid Tracker API
// @version 1.0
// @description Parcel tracking and shipment management API for Orchid Malaysia.
// @contact.name API Support
// @contact.email support@orchid-tracker.com
// @license.name MIT
// @host localhost:8080
// @BasePath /
func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	l := logger.Get()
	l.Info("Application starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx := context.Background()

	store, err := storage.Open(ctx, cfg.Database.URL)
	if err != nil {
		l.Fatal("Postgres connection failed", zap.Error(err))
	}
	defer store.Close()
	l.Info("Postgres connection verified")

	cacheAdapter, err := cache.NewRedisAdapter(cfg.Redis.URL)
	if err != nil {
		l.Fatal("Redis cache setup failed", zap.Error(err))
	}
	defer cacheAdapter.Close()
	if err := cacheAdapter.Ping(ctx); err != nil {
		l.Fatal("Redis ping failed", zap.Error(err))
	}
	l.Info("Redis connection verified")

	stream, err := newChangeStream(cfg)
	if err != nil {
		l.Fatal("Change stream setup failed", zap.Error(err))
	}
	defer stream.Close()
	l.Info("Change stream ready", zap.String("driver", cfg.Notifier.Driver))

	repo := adapters.NewPostgresShipmentRepository(store, stream)
	if err := repo.EnsureSchema(ctx); err != nil {
		l.Fatal("Schema migration failed", zap.Error(err))
	}

	engine := reconcile.NewEngine(
		time.Duration(cfg.Reconcile.HighlightSeconds)*time.Second,
		time.Duration(cfg.Reconcile.SelfSuppressSeconds)*time.Second,
	)
	defer engine.Close()

	trackingSvc := shipmentservice.NewTrackingService(
		repo, engine, cacheAdapter,
		time.Duration(cfg.Redis.CacheTTLSeconds)*time.Second,
	)
	adminSvc := shipmentservice.NewAdminService(repo, stream, engine, cfg.AdminToken)

	if err := adminSvc.Activate(ctx); err != nil {
		l.Fatal("Admin session activation failed", zap.Error(err))
	}
	defer adminSvc.Deactivate()

	chatSvc := chatservice.NewChatService(newCompleter(ctx, cfg))

	trackingHdl := shipmenthandler.NewTrackingHandler(trackingSvc)
	adminHdl := shipmenthandler.NewAdminHandler(adminSvc, engine)
	chatHdl := chathandler.NewChatHandler(chatSvc)

	srv := server.New(cfg)

	// Register Routes
	srv.App.Get("/tracking/:number", trackingHdl.GetShipment)
	srv.App.Post("/chat", chatHdl.Chat)

	admin := srv.App.Group("/admin", adminHdl.Auth)
	admin.Get("/shipments", adminHdl.ListShipments)
	admin.Post("/shipments", adminHdl.CreateShipment)
	admin.Get("/shipments/feed", adminHdl.Feed)
	admin.Post("/shipments/:number/events", adminHdl.AppendStatus)
	admin.Patch("/shipments/:number", adminHdl.EditShipment)
	admin.Delete("/shipments/:number", adminHdl.DeleteShipment)

	go func() {
		if err := srv.Run(); err != nil {
			l.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("Shutting down")
	if err := srv.Shutdown(); err != nil {
		l.Error("Server shutdown failed", zap.Error(err))
	}
}

// newChangeStream builds the configured change-stream transport.
func newChangeStream(cfg *config.AppConfig) (changeStream, error) {
	if cfg.Notifier.Driver == "kafka" {
		brokers := strings.Split(cfg.Notifier.KafkaBrokers, ",")
		return adapters.NewKafkaChangeStream(brokers, cfg.Notifier.KafkaTopic, cfg.Notifier.KafkaGroupID)
	}
	return adapters.NewRedisChangeStream(cfg.Redis.URL)
}

// newCompleter builds the Gemini completer, or nil when no API key is set.
func newCompleter(ctx context.Context, cfg *config.AppConfig) chatports.Completer {
	if cfg.Chat.GeminiAPIKey == "" {
		logger.Get().Warn("GEMINI_API_KEY not set, chat assistant disabled")
		return nil
	}

	completer, err := chatadapter.NewGeminiCompleter(ctx, cfg.Chat.GeminiAPIKey, cfg.Chat.Model)
	if err != nil {
		logger.Get().Error("Gemini setup failed, chat assistant disabled", zap.Error(err))
		return nil
	}
	return completer
}
