package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"stash/internal/config"
	"stash/internal/metrics"
	"stash/internal/stash"
)

func Run(ctx context.Context) error {

	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	listen := flag.String("listen", "", "HTTP listen address for the S3 API")
	adminListen := flag.String("admin", "", "HTTP listen address for metrics and health endpoints")
	dataDir := flag.String("data-dir", "", "directory to store object data")
	shardDepth := flag.Int("shard-depth", -1, "number of shard directory levels between a bucket and its objects")
	region := flag.String("region", "", "region reported by the bucket location API")

	flag.Parse()

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}

	// Flags override both the config file and the environment.
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *adminListen != "" {
		cfg.AdminListen = *adminListen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *shardDepth >= 0 {
		cfg.ShardDepth = *shardDepth
	}
	if *region != "" {
		cfg.Region = *region
	}

	if err := cfg.Resolve(); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m := metrics.New()

	server, err := stash.NewServer(stash.Config{
		DataDir:    cfg.DataDir,
		ShardDepth: cfg.ShardDepth,
		Region:     cfg.Region,
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("failed to create stash server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
	}

	var adminServer *http.Server
	if cfg.AdminListen != "" {
		adminMux := http.NewServeMux()
		adminMux.Handle("GET /metrics", m.Handler())
		adminMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})

		adminServer = &http.Server{
			Addr:              cfg.AdminListen,
			Handler:           adminMux,
			ReadHeaderTimeout: 20 * time.Second,
		}
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting stash HTTP server", "addr", cfg.Listen, "data_dir", cfg.DataDir, "shard_depth", cfg.ShardDepth)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	if adminServer != nil {
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return adminServer.Shutdown(shutdownCtx)
		})

		eg.Go(func() error {
			slog.Info("Starting stash admin server", "addr", cfg.AdminListen)
			err := adminServer.ListenAndServe()
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})
	}

	slog.Info("Stash started")
	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("Stash exited with error", "error", err)
		os.Exit(1)
	}
}
