package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autocare/internal/api"
	"autocare/internal/config"
	"autocare/internal/database"
	"autocare/internal/domain"
	"autocare/internal/events"
	"autocare/internal/google"
	"autocare/internal/logging"
	"autocare/internal/metrics"
	"autocare/internal/repository"
	"autocare/internal/service"
	"autocare/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	notificationLimit = 500
	chatLimit         = 200
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, logger)

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, db, err := initStore(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if cfg.Backup.Enabled {
			backup := database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
			go backup.Start(ctx)
		}
	}

	catalog, err := initCatalog(cfg, logger)
	if err != nil {
		return err
	}

	eventBus := events.NewEventBus()
	eventBus.OnError(func(e *events.Event, err error) {
		logger.Error().Err(err).Str("event_type", e.Type).Str("event_id", e.ID).Msg("event handler error")
	})

	sink := service.NewNotificationSink(notificationLimit)
	service.RegisterNotificationRules(eventBus, sink, logging.Component(logger, "notifications"))

	if telegram := initTelegram(cfg, logger); telegram != nil {
		sink.OnEmit(telegram.Push)
		telegram.Start(ctx)
		defer telegram.Stop()
	}

	var syncWorker domain.SyncWorker
	if w := initSyncWorker(ctx, cfg, redisClient, logger); w != nil {
		go w.Start(ctx)
		syncWorker = w
	}

	ledger := service.NewRequestLedger(store, catalog, eventBus, syncWorker, logging.Component(logger, "ledger"))
	count := ledger.Load(ctx)
	logger.Info().Int("requests", count).Msg("request ledger loaded")

	chat := service.NewChatLog(ledger, sink, chatLimit, logging.Component(logger, "chat"))
	deps := api.Deps{Ledger: ledger, Catalog: catalog, Notifications: sink, Chat: chat}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, deps, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		grpcServer.SetServing(true)
	}

	httpServer := api.NewHTTPServer(cfg.API, deps, logger)

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.PingRedis(ctx, client); err != nil {
		if cfg.Storage.Driver == "redis" {
			// the failover store takes over while redis is unreachable
			logger.Warn().Err(err).Msg("redis connection failed")
			return client
		}
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initStore returns the snapshot store, plus the sqlite handle when one was opened.
func initStore(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) (domain.SnapshotStore, *database.DB, error) {
	var (
		primary domain.SnapshotStore
		db      *database.DB
	)

	switch cfg.Storage.Driver {
	case "sqlite":
		var err error
		db, err = database.NewDB(cfg.Storage.Path, logging.Component(logger, "database"))
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Storage.Path).Msg("init database")
			return nil, nil, err
		}
		primary = db
	case "redis":
		if redisClient == nil {
			return nil, nil, errors.New("redis storage selected but redis is not configured")
		}
		primary = repository.NewRedisSnapshotStore(redisClient, cfg.Redis.KeyPrefix)
	default:
		return repository.NewMemorySnapshotStore(), nil, nil
	}

	if cfg.Storage.Failover {
		logger.Info().Str("driver", cfg.Storage.Driver).Msg("storage failover enabled")
		return repository.NewFailoverSnapshotStore(primary, repository.NewMemorySnapshotStore(), logging.Component(logger, "storage")), db, nil
	}
	return primary, db, nil
}

func initCatalog(cfg *config.Config, logger *zerolog.Logger) (*service.CatalogService, error) {
	entries, err := service.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		logger.Error().Err(err).Str("catalog_path", cfg.Catalog.Path).Msg("load catalog")
		return nil, err
	}
	return service.NewCatalogService(entries, logging.Component(logger, "catalog"))
}

func initTelegram(cfg *config.Config, logger *zerolog.Logger) *service.TelegramService {
	if !cfg.Telegram.Enabled() {
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without push notifications")
		return nil
	}
	bot.Debug = cfg.Telegram.Debug

	logger.Info().Str("bot", bot.Self.UserName).Int64("chat_id", cfg.Telegram.ChatID).Msg("telegram connected")
	return service.NewTelegramService(bot, cfg.Telegram.ChatID, logging.Component(logger, "telegram"))
}

func initSyncWorker(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) *worker.SyncWorker {
	if !cfg.Google.Enabled() {
		return nil
	}

	sheets, err := google.NewSheetsService(ctx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID, cfg.Google.SheetName)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheets.EnsureHeader(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets header")
	}
	if err := sheets.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets cache warm-up")
	}
	logger.Info().Str("sheet", cfg.Google.SheetName).Msg("google sheets connected")

	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Sync.MaxRetries,
		InitialDelay:  cfg.Sync.InitialDelay,
		MaxDelay:      cfg.Sync.MaxDelay,
		BackoffFactor: cfg.Sync.BackoffFactor,
	}
	return worker.NewSyncWorker(sheets, redisClient, retry, cfg.Sync.QueueKey, logging.Component(logger, "sync-worker"))
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	evt := logger.Info().Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		evt = evt.Str("grpc_addr", grpcServer.Addr())
	}
	evt.Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
