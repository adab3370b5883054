package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkflow/engine/internal/edge"
	"github.com/linkflow/engine/internal/version"
)

func main() {
	var (
		port         = flag.Int("port", 7239, "Edge proxy port")
		httpPort     = flag.Int("http-port", 8080, "HTTP server port")
		upstreamAddr = flag.String("upstream-addr", getEnv("UPSTREAM_ADDR", "http://localhost:8080"), "Upstream Frontend HTTP address")
		edgeID       = flag.String("edge-id", getEnv("EDGE_ID", "edge-1"), "Identifier for this edge instance")
		region       = flag.String("region", getEnv("EDGE_REGION", ""), "Region/site label for this edge instance")
		syncInterval = flag.Duration("sync-interval", 30*time.Second, "Interval between pending-execution sync attempts")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	printBanner("Edge", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	centralClient := edge.NewHTTPCentralClient(*upstreamAddr, 10*time.Second)
	localStore := edge.NewMemoryStore()

	engine := edge.NewEngine(edge.Config{
		EdgeID:             *edgeID,
		Region:             *region,
		CentralEndpoint:    *upstreamAddr,
		SyncInterval:       *syncInterval,
		OfflineGracePeriod: 24 * time.Hour,
		MaxOfflineEvents:   10000,
		Logger:             logger,
	}, centralClient, localStore)

	if err := engine.Start(ctx); err != nil {
		logger.Error("failed to start edge engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		_ = engine.Stop(context.Background())
		cancel()
	}()

	// Start HTTP Server for local workers and health checks.
	go func() {
		mux := http.NewServeMux()
		edgeHandler := edge.NewHTTPHandler(engine, logger)
		edgeHandler.RegisterRoutes(mux)

		httpServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", *httpPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		logger.Info("starting HTTP server", slog.Int("port", *httpPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	logger.Info("edge proxy started",
		slog.Int("port", *port),
		slog.String("edge_id", *edgeID),
		slog.String("upstream_addr", *upstreamAddr),
	)

	<-ctx.Done()
	logger.Info("edge proxy stopped")
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func printBanner(service string, logger *slog.Logger) {
	logger.Info(fmt.Sprintf("LinkFlow %s Service", service),
		slog.String("version", version.Version),
		slog.String("commit", version.GitCommit),
		slog.String("build_time", version.BuildTime),
	)
}
