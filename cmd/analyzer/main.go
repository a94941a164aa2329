// cmd/analyzer/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"yt-analyzer-client/internal/api"
	"yt-analyzer-client/internal/coordinator"
	"yt-analyzer-client/internal/realtime"
	"yt-analyzer-client/internal/storage"
	"yt-analyzer-client/internal/storage/postgresql"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// buildCoordinator wires the client stack from env config.
func buildCoordinator(ctx context.Context) (*coordinator.Coordinator, func(), error) {
	apiURL := envOr("ANALYZER_API_URL", "http://localhost:5000/api")
	wsURL := envOr("ANALYZER_WS_URL", "ws://localhost:5000")

	kv, cleanup, err := buildKV(ctx)
	if err != nil {
		return nil, nil, err
	}

	client := api.NewClient(apiURL)
	store := storage.NewJobStore(kv)
	dialer := &realtime.Dialer{BaseURL: wsURL}

	coord := coordinator.New(client, store, coordinator.RealtimeChannels(dialer), coordinator.StatusPollers(client))
	return coord, cleanup, nil
}

// buildKV picks the store backend: file (default), memory, redis or
// postgres (shared history between machines).
func buildKV(ctx context.Context) (storage.KV, func(), error) {
	backend := envOr("ANALYZER_STORE", "file")

	switch backend {
	case "memory":
		return storage.NewMemoryKV(), func() {}, nil

	case "file":
		dir := os.Getenv("ANALYZER_STORE_DIR")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, nil, fmt.Errorf("resolve home dir: %w", err)
			}
			dir = filepath.Join(home, ".yt-analyzer")
		}
		kv, err := storage.NewFileKV(dir)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() {}, nil

	case "redis":
		addr := mustEnv("REDIS_ADDR")
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return storage.NewRedisKV(rdb, "analyzer:"), func() { _ = rdb.Close() }, nil

	case "postgres":
		dsn := mustEnv("POSTGRES_DSN")
		pool, err := postgresql.NewPool(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("pg: %w", err)
		}
		kv, err := postgresql.NewKVStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return kv, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing env: %s", key)
	}
	return v
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
