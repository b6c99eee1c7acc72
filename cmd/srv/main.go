package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/corelaunch/chartfeed/cache"
	"github.com/corelaunch/chartfeed/feed"
	"github.com/corelaunch/chartfeed/indexer"
	"github.com/corelaunch/chartfeed/server"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("srv: load .env: %v", err)
	}

	endpoint := os.Getenv("SUBGRAPH_URL")
	if endpoint == "" {
		log.Fatal("srv: SUBGRAPH_URL is required")
	}
	listenAddr := getEnv("LISTEN_ADDR", ":8080")
	tickerEnabled := getEnvBool("TICKER_ENABLED", true)

	client := indexer.New(endpoint)
	manager := feed.NewManager(client, cache.New())
	defer manager.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ticker *feed.TickerFeed
	if tickerEnabled {
		ticker = feed.NewTickerFeed(client)
		ticker.Start(ctx)
		defer ticker.Close()
	}

	api := server.New(manager, client, ticker)
	defer api.Close()

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("srv: listening on %s", listenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("srv: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
