package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prasetyo/tiketin/internal/config"
	"github.com/prasetyo/tiketin/internal/midtrans"
	"github.com/prasetyo/tiketin/internal/postgres"
	"github.com/prasetyo/tiketin/internal/redis"
	postgresrepo "github.com/prasetyo/tiketin/internal/repository/postgres"
	redisrepo "github.com/prasetyo/tiketin/internal/repository/redis"
	"github.com/prasetyo/tiketin/internal/service"
	"github.com/prasetyo/tiketin/internal/service/order"
	httpgin "github.com/prasetyo/tiketin/internal/transport/http/gin"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisrepo.NewEventsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, redisrepo.RateLimitPrefix("checkout"), 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize the payment gateway adapter
	gateway := midtrans.NewClient(midtrans.Config{
		ServerKey:  cfg.Midtrans.ServerKey,
		Production: cfg.Midtrans.Production,
		BaseURL:    cfg.Midtrans.BaseURL,
		Timeout:    cfg.Midtrans.Timeout,
	})
	verifier := midtrans.NewVerifier(cfg.Midtrans.ServerKey)

	// Initialize services
	services := service.NewServices(store, cache, pubsub, limiter, gateway, verifier, logger, service.Config{
		Order: order.Config{PendingTTL: cfg.Orders.PendingTTL},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		services: services,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Periodically fail pending orders that never got a gateway callback
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Orders.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				expired, err := a.services.Order.Expire(gCtx)
				if err != nil {
					a.logger.Error("pending order sweep failed", "error", err)
					continue
				}
				if expired > 0 {
					a.logger.Info("expired stale pending orders", "count", expired)
				}
			}
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
