package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/flickpick/match-app/internal/messaging"
	"github.com/flickpick/match-app/internal/room"
)

func main() {
	_ = godotenv.Load()

	log.Println("Starting FlickPick janitor...")

	// Redis setup.
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "flickpick-janitor"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	config := room.DefaultCleanupConfig()
	if v := os.Getenv("ROOM_IDLE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.IdleWindow = d
		}
	}
	if v := os.Getenv("JANITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.Interval = d
		}
	}

	store := room.NewStore(rdb, 2)

	log.Printf("FlickPick janitor running")
	log.Printf("  redis_addr:  %s", redisAddr)
	log.Printf("  nats_url:    %s", natsConfig.URL)
	log.Printf("  idle_window: %s", config.IdleWindow)
	log.Printf("  interval:    %s", config.Interval)

	loopCtx, stop := context.WithCancel(context.Background())
	go room.StartCleanup(loopCtx, store, natsClient, config)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	stop()
	natsClient.Close()
	rdb.Close()
}
