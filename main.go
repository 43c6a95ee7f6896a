package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KranzL/shipmates-oss/match-relay/history"
	"github.com/KranzL/shipmates-oss/match-relay/relay"
	"github.com/KranzL/shipmates-oss/match-relay/room"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	opts := relay.Options{
		MaxConnections:   cfg.MaxConnections,
		MaxPendingEvents: cfg.MaxPendingEvents,
		EventsPerSecond:  cfg.EventsPerSecond,
		EventBurst:       cfg.EventBurst,
	}

	var store *history.Store
	var recorder *history.Recorder
	if cfg.DatabaseURL != "" {
		store, err = history.Open(cfg.HistoryDriver, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open history store: %v", err)
		}
		recorder = history.NewRecorder(store, cfg.HistoryWorkers)
		opts.Recorder = recorder
		log.Printf("recording match history (%s, %d workers)", cfg.HistoryDriver, cfg.HistoryWorkers)
	} else {
		log.Println("DATABASE_URL not set, match history disabled")
	}

	registry := room.NewRegistry(room.RandomGenerator{})
	gateway := relay.NewGateway(registry, opts)

	srv := newServer(cfg, gateway)
	if store != nil {
		srv.history = store
		srv.drops = recorder.Drops
	}

	done := make(chan struct{})
	srv.wsLimiter.startCleanup(5*time.Minute, done)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv.routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("match-relay listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("shutting down match-relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	httpServer.Shutdown(shutdownCtx)
	close(done)
	gateway.Shutdown()

	if recorder != nil {
		recorder.Close()
		store.Close()
	}
	log.Println("match-relay stopped")
}
