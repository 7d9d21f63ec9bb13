package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/GobsRuiz/GobsVault/internal/auth"
	"github.com/GobsRuiz/GobsVault/internal/config"
	"github.com/GobsRuiz/GobsVault/internal/database"
	"github.com/GobsRuiz/GobsVault/internal/gamification"
	"github.com/GobsRuiz/GobsVault/internal/idempotency"
	"github.com/GobsRuiz/GobsVault/internal/metrics"
	"github.com/GobsRuiz/GobsVault/internal/portfolio"
	"github.com/GobsRuiz/GobsVault/internal/prices"
	"github.com/GobsRuiz/GobsVault/internal/quests"
	"github.com/GobsRuiz/GobsVault/internal/rate"
	"github.com/GobsRuiz/GobsVault/internal/trading"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.PostgresDSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}
	store := database.NewPostgresStore(db)
	if err := database.SeedQuests(ctx, store); err != nil {
		return err
	}

	// redis is optional: without it the server runs with in-process
	// price fallback, no shared cache and no rate limiting
	var rdb *redis.Client
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, running degraded", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
	} else {
		rdb = client
		defer rdb.Close()
	}
	cancel()

	binance := prices.NewBinanceClient(cfg.BinanceBaseURL)
	oracle := prices.NewService(binance, rdb, cfg.PriceCacheTTL, logger)
	go oracle.Start(ctx, cfg.PriceRefresh)

	gamify := gamification.NewService(store, logger)
	questSvc := quests.NewService(store, logger)
	srv := &server{
		auth:      auth.NewService(store, logger),
		trading:   trading.NewService(store, oracle, gamify, questSvc, logger),
		portfolio: portfolio.NewService(store, oracle, logger),
		quests:    questSvc,
		gamify:    gamify,
		prices:    oracle,
		idem:      idempotency.NewService(store, cfg.IdempotencyTTL),
		logger:    logger,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	middleware := []mux.MiddlewareFunc{metrics.Middleware}
	if rdb != nil {
		limiter := rate.NewLimiter(rdb, cfg.RateLimitCapacity, cfg.RateLimitWindow)
		middleware = append(middleware, rate.Middleware(limiter, logger))
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.routes(middleware...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
