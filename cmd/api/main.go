package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/helpdesk-labs/ticket-sync/internal/api/http"
	"github.com/helpdesk-labs/ticket-sync/internal/api/http/handlers"
	"github.com/helpdesk-labs/ticket-sync/internal/api/realtime"
	"github.com/helpdesk-labs/ticket-sync/internal/auth"
	"github.com/helpdesk-labs/ticket-sync/internal/config"
	"github.com/helpdesk-labs/ticket-sync/internal/events"
	"github.com/helpdesk-labs/ticket-sync/internal/identity"
	"github.com/helpdesk-labs/ticket-sync/internal/livequery"
	"github.com/helpdesk-labs/ticket-sync/internal/observability"
	"github.com/helpdesk-labs/ticket-sync/internal/persistence"
	"github.com/helpdesk-labs/ticket-sync/internal/repository"
	"github.com/helpdesk-labs/ticket-sync/internal/service"
	"github.com/helpdesk-labs/ticket-sync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing := observability.SetupTracing(ctx, cfg.App.Name, cfg.Telemetry, logger)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = shutdownTracing(shutdownCtx)
	}()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var (
		ticketRepo     repository.TicketRepository
		profileRepo    repository.ProfileRepository
		credentialRepo repository.CredentialRepository
	)
	if pool := pg.PoolHandle(); pool != nil {
		ticketRepo = repository.NewTicketRepository(pool)
		profileRepo = repository.NewProfileRepository(pool)
		credentialRepo = repository.NewCredentialRepository(pool)
	} else {
		memory := repository.NewMemoryStore()
		ticketRepo = memory.Tickets()
		profileRepo = memory.Profiles()
		credentialRepo = memory.Credentials()
	}

	hub := livequery.NewHub(ticketRepo, livequery.Options{
		RetryInitial: cfg.Sync.RetryInitial(),
		RetryMax:     cfg.Sync.RetryMax(),
		MaxAttempts:  uint(max(cfg.Sync.RetryMaxAttempts, 1)),
	}, logger.Named("livequery"), metrics)

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		dispatcher  events.Dispatcher
		relayHealth handlers.Pinger
	)
	if redis != nil {
		redisDispatcher := events.NewRedisDispatcher(redis.Client, cfg.Redis.ChangeChannel, logger.Named("events"))
		redisDispatcher.OnSubscribed(hub.RefreshAll)
		go worker.RunChangeRelay(ctx, redisDispatcher, worker.RelayOptions{
			InitialDelay: cfg.Sync.RetryInitial(),
			MaxDelay:     cfg.Sync.RetryMax(),
		}, logger.Named("relay"))
		dispatcher = redisDispatcher
		relayHealth = redisDispatcher
	} else {
		dispatcher = events.NewInMemoryDispatcher()
	}
	hub.Attach(dispatcher)

	resolver := identity.NewResolver(profileRepo, logger.Named("identity"))
	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		CredentialRepo: credentialRepo,
		ProfileRepo:    profileRepo,
		Resolver:       resolver,
		Logger:         logger.Named("auth"),
		Metrics:        metrics,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		Dispatcher: dispatcher,
		Hub:        hub,
		Logger:     logger.Named("tickets"),
		Metrics:    metrics,
	})
	profileService := service.NewProfileService(profileRepo, logger.Named("profiles"))
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), resolver)

	checks := map[string]handlers.Pinger{"postgres": nil, "redis": nil, "change_relay": relayHealth}
	if pg != nil {
		checks["postgres"] = pg
	}
	if redis != nil {
		checks["redis"] = redis
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, checks, metrics),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService, cfg.Sync.Heartbeat(), logger.Named("stream")),
		Profiles:       handlers.NewProfilesHandler(profileService),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	var realtimeServer *http.Server
	if cfg.Realtime.Port != "" {
		rt := realtime.NewServer(authService.TokenManager(), resolver, ticketService, logger.Named("realtime"))
		realtimeServer = &http.Server{
			Addr:        cfg.Realtime.Addr(),
			Handler:     rt.Handler(cfg.Realtime.Prefix),
			ReadTimeout: 10 * time.Second,
			IdleTimeout: 60 * time.Second,
		}
		go func() {
			logger.Info("realtime listening", zap.String("addr", realtimeServer.Addr))
			if err := realtimeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("realtime listen", zap.Error(err))
			}
		}()
	}

	waitForShutdown(logger)
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if realtimeServer != nil {
		_ = realtimeServer.Shutdown(shutdownCtx)
	}
	_ = app.ShutdownWithContext(shutdownCtx)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
