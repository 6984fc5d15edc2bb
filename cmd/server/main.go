package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/calebferris/parley/internal/config"
	"github.com/calebferris/parley/internal/message"
	"github.com/calebferris/parley/internal/observability"
	"github.com/calebferris/parley/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := observability.NewLogger("parley")
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()

	store := initStore(cfg, logger)

	srv := server.New(cfg, store, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

// initStore picks the Redis-backed store when REDIS_ADDR is set, falling
// back to the in-memory store otherwise.
func initStore(cfg *config.Config, logger *zap.Logger) message.Store {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory message store")
		return message.NewMemoryStore()
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connect failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	return message.NewRedisStore(rdb)
}
