package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/rtc-rooms/config"
	"github.com/mossy-p/rtc-rooms/internal/auth"
	"github.com/mossy-p/rtc-rooms/internal/coordinator"
	"github.com/mossy-p/rtc-rooms/internal/handlers"
	"github.com/mossy-p/rtc-rooms/internal/middleware"
	"github.com/mossy-p/rtc-rooms/internal/redis"
	"github.com/mossy-p/rtc-rooms/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("Store close failed", "error", err)
		}
	}()

	coord := coordinator.New(log, st, coordinator.Options{
		StoreTimeout: cfg.StoreTimeout,
		IdleTimeout:  cfg.RoomIdleTimeout,
	})
	defer coord.Close()

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	h := handlers.New(log, coord, st, st, auth.NewService(log, st, tokens, cfg.BcryptCost), handlers.Options{
		ReadLimit:  cfg.WebSocket.ReadLimit,
		SendBuffer: cfg.WebSocket.SendBuffer,
		RateBurst:  cfg.RateLimitBurst,
		RateRefill: cfg.RateLimitRefill,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))
	h.Routes(router, middleware.JWTAuth(tokens))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting signaling server", "port", cfg.Port, "store", cfg.StoreBackend, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown error", "error", err)
	}
	log.Info("Server stopped cleanly")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case "badger":
		db, err := store.OpenBadger(cfg.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		s, err := store.NewBadgerStore(db, log, cfg.HistoryLimit)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("Badger store opened", "path", cfg.BadgerPath)
		return closers{Store: s, close: db.Close}, nil
	default:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		log.Info("Redis connection established", "addr", cfg.Redis.Addr())
		return closers{Store: store.NewRedisStore(client, log, cfg.HistoryLimit), close: client.Close}, nil
	}
}

// closers closes the store and then the handle it was built on
type closers struct {
	store.Store
	close func() error
}

func (c closers) Close() error {
	return errors.Join(c.Store.Close(), c.close())
}
