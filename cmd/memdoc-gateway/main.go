package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pior/memdoc"
	"github.com/pior/memdoc/promexporter"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	addr := envOrDefault("MEMDOC_HTTP_ADDR", "127.0.0.1:8080")
	nodes := strings.Split(envOrDefault("MEMDOC_NODES", "127.0.0.1:11210"), ",")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cluster, err := memdoc.Connect(ctx, memdoc.Config{
		Nodes:               nodes,
		Bucket:              os.Getenv("MEMDOC_BUCKET"),
		HealthCheckInterval: 10 * time.Second,
		NewCircuitBreaker:   memdoc.NewCircuitBreakerConfig(5, 10*time.Second, 5*time.Second),
		Logger:              logger,
	})
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	exporter := promexporter.NewExporter(cluster)

	srv := &http.Server{
		Addr:              addr,
		Handler:           newServer(cluster, exporter.Handler(), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting gateway", "addr", addr, "nodes", nodes)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
	}

	if err := cluster.Disconnect(context.Background()); err != nil {
		logger.Warn("disconnect", "error", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
