package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tternquist/httpengine/internal/httpengine"
	"github.com/tternquist/httpengine/internal/logging"
	"github.com/tternquist/httpengine/internal/metrics"
)

func main() {
	defaultConfig := os.Getenv("HTTPENGINE_CONFIG")
	configPath := flag.String("config", defaultConfig, "Path to YAML config (empty uses defaults)")
	origin := flag.String("origin", "", "Origin URL to probe, e.g. https://example.com")
	path := flag.String("path", "/", "Request path")
	method := flag.String("method", "GET", "HTTP method")
	count := flag.Int("count", 1, "Number of probe requests to send")
	interval := flag.Duration("interval", time.Second, "Delay between probe requests")
	metricsListen := flag.String("metrics-listen", "", "If set, serve /metrics and /health on this address until interrupted")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	logger := logging.New(os.Stdout, logging.Config{Format: *logFormat, Level: *logLevel})

	if *origin == "" {
		logger.Error("missing required -origin flag")
		os.Exit(2)
	}

	metrics.Init()

	cfg := httpengine.DefaultConfiguration()
	if *configPath != "" {
		loaded, err := httpengine.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	client, err := httpengine.New(*origin, logger, &cfg)
	if err != nil {
		logger.Error("failed to build client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if *metricsListen != "" {
		metricsServer = startMetricsServer(*metricsListen, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	runProbes(ctx, client, *method, *origin, *path, *count, *interval, logger)

	stats := client.PoolStats()
	logger.Info("pool state", "borrowed", stats.Borrowed, "available", stats.Available, "waiting", stats.Waiting)
	for _, entry := range client.RecentErrors() {
		logger.Warn("recent error", "op", entry.Op, "error", entry.Err, "at", entry.Time)
	}

	if metricsServer != nil {
		logger.Info("serving metrics until interrupted", "addr", *metricsListen)
		<-ctx.Done()
	}
}

func runProbes(ctx context.Context, client *httpengine.Client, method, origin, path string, count int, interval time.Duration, logger *slog.Logger) {
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return
		}
		req, err := httpengine.NewRequest(method, origin+path, nil)
		if err != nil {
			logger.Error("failed to build request", "error", err)
			continue
		}

		start := time.Now()
		resp, err := client.Send(ctx, req)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("probe failed", "attempt", i+1, "elapsed", elapsed, "error", err)
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		logger.Info("probe succeeded",
			"attempt", i+1,
			"status", resp.StatusCode,
			"elapsed", elapsed,
			"bytes", len(body),
		)

		if i < count-1 && interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}
}

func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return srv
}
