package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/config"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/domain"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/health"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/handler"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/router"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/observability"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/realtime"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/repository"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/security"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/service"
)

// App holds the fully wired process: config, pooled clients, the HTTP
// server and the observability runtime that must be flushed on exit.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Observability *observability.Runtime
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	bootLogger := slog.Default()
	runtime, err := observability.InitRuntime(ctx, cfg, bootLogger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	logger := observability.NewLogger(cfg, runtime.LoggerProvider)
	slog.SetDefault(logger)

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.DirectMessage{},
		&domain.RoomMessage{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	tokens := security.NewTokenManager(
		cfg.JWTIssuer,
		cfg.JWTAudience,
		cfg.JWTAccessSecret,
		cfg.JWTRefreshSecret,
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
	)
	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	messages := repository.NewMessageRepository(db)

	relay := realtime.NewRedisRelay(redisClient)
	presence := realtime.NewPresenceManager(realtime.NewRedisPresenceStore(redisClient), relay, logger)

	gate := service.NewAuthGate(tokens, sessions)
	authService := service.NewAuthService(tokens, users, sessions)
	messageService := service.NewMessageService(messages, relay, cfg.PublishRetryAttempts, cfg.PublishRetryBackoff)

	readiness := health.NewProbeRunner(2*time.Second, 3*time.Second,
		health.NewDatabaseChecker(db),
		health.NewRedisChecker(redisClient),
	)

	httpHandler := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authService, gate),
		MessageHandler:   handler.NewMessageHandler(messageService),
		WSHandler:        handler.NewWSHandler(gate, presence, relay, logger),
		Gate:             gate,
		AuthRateLimitRPM: 60,
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.EnableOTelHTTP,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		DB:            db,
		Redis:         redisClient,
		Observability: runtime,
	}, nil
}

// Run serves until the context is cancelled, then drains. Cancelling the
// base context is what unblocks every live websocket loop, so shutdown
// ordering is: stop accepting, cancel connections, flush telemetry.
func (a *App) Run(ctx context.Context) error {
	connCtx, cancelConns := context.WithCancel(ctx)
	defer cancelConns()
	a.Server.BaseContext = func(net.Listener) context.Context { return connCtx }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr, "env", a.Config.AppEnv)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		a.Logger.Info("shutting down")
		err := a.Server.Shutdown(shutdownCtx)
		cancelConns()
		return err
	})
	return g.Wait()
}

func (a *App) Close(ctx context.Context) error {
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("close redis", "error", err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Logger.Warn("close database", "error", err)
		}
	}
	return a.Observability.Shutdown(ctx)
}

// openDatabase uses postgres when DATABASE_URL is set and falls back to a
// local sqlite file for development.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if cfg.DatabaseURL != "" {
		return gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	}
	return gorm.Open(sqlite.Open("diosa-messaging.db"), gormCfg)
}
