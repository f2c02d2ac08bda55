package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/whisper-darkly/conveyor-backend/config"
	"github.com/whisper-darkly/conveyor-backend/gateway"
	"github.com/whisper-darkly/conveyor-backend/journal"
	"github.com/whisper-darkly/conveyor-backend/queue"
	"github.com/whisper-darkly/conveyor-backend/router"
)

var version = "dev"

func main() {
	port := env("BACKEND_PORT", "8080")
	confDir := env("CONF_DIR", "/data/conf")
	redisAddr := env("REDIS_ADDR", "")

	fmt.Printf("conveyor-backend %s\n", version)

	cfg, err := config.Load(confDir)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	d := cfg.Get()
	if redisAddr != "" {
		d.RedisAddr = redisAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Connect the store.
	q := queue.New(queue.Options{
		Addr:         d.RedisAddr,
		Password:     d.RedisPassword,
		DB:           d.RedisDB,
		ItemTTL:      config.Duration(d.ItemTTL, 7*24*time.Hour),
		HistoryCap:   d.HistoryCap,
		FailedLimit:  d.FailedLimit,
		HistoryLimit: d.HistoryLimit,
	})
	if err := q.Connect(ctx); err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer q.Close()

	// 2. Restore work interrupted by the previous shutdown or crash.
	restored, err := q.RestoreInterruptedRuns(ctx)
	if err != nil {
		log.Fatalf("restore interrupted runs: %v", err)
	}
	if len(restored) > 0 {
		log.Printf("queue: restored %d interrupted run(s) to pending", len(restored))
	}

	jnl, err := journal.Open(filepath.Join(confDir, "conveyor.db"))
	if err != nil {
		log.Fatalf("journal: %v", err)
	}
	defer jnl.Close()
	jnl.Attach(q)

	reg := gateway.NewRegistry(
		config.Duration(d.PingInterval, 20*time.Second),
		config.Duration(d.PongTimeout, 30*time.Second),
	)
	gw := gateway.New(ctx, q, reg, d.PendingLimit)

	// 3. Start the cross-instance event listener, after all local
	//    subscribers (journal, gateway) are registered.
	lis, err := q.Listen(ctx)
	if err != nil {
		log.Fatalf("event listener: %v", err)
	}

	go cleanupLoop(ctx, q,
		config.Duration(d.CleanupInterval, 10*time.Minute),
		config.Duration(d.StalePendingAge, 60*time.Minute))

	// 4. Accept connections.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router.New(q, gw, jnl, cfg),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	<-sigCh
	log.Println("shutting down…")

	// Shutdown mirrors startup in reverse: stop accepting, stop the
	// listener, tear down sessions (ping goroutines awaited), then the
	// deferred q.Close() disconnects the store.
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	lis.Close()
	reg.CloseAll()
	cancel()
}

// cleanupLoop periodically repairs orphaned membership entries and fails
// pending items that have waited longer than maxAge.
func cleanupLoop(ctx context.Context, q *queue.Queue, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := q.CleanupStale(ctx, maxAge)
			if err != nil {
				log.Printf("queue: cleanup: %v", err)
				continue
			}
			if stats.Total() > 0 {
				log.Printf("queue: cleanup repaired %d entries (orphan pending %d, timed out %d, wrong state %d, orphan running %d)",
					stats.Total(), stats.OrphanPending, stats.TimedOut, stats.WrongState, stats.OrphanRunning)
			}
		}
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
