package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tykee/internal/config"
	"tykee/internal/domain"
	"tykee/internal/ingestion"
	"tykee/internal/market"
	"tykee/internal/metatrader"
	"tykee/internal/observability"
	"tykee/internal/storage"
	"tykee/internal/storage/memory"
	"tykee/internal/storage/migrations"
	pgstore "tykee/internal/storage/postgres"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file (or set TYKEE_CONFIG)")
	mode := flag.String("mode", "full", "Sync mode: full, incremental, or watch")
	timeframes := flag.String("timeframes", "H1", "Comma-separated timeframes used when config names no series")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides config, empty uses config)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	// Start metrics server if enabled
	addr := cfg.Metrics.Addr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Info("starting metrics server", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	var runErr error
	switch *mode {
	case "full", "incremental", "watch":
		runErr = runSync(ctx, logger, cfg, *mode, *timeframes, *useMemory)
	default:
		logger.Fatal("unknown mode", zap.String("mode", *mode))
	}

	done <- runErr
	cancel()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Fatal("sync failed", zap.Error(runErr))
	}

	logger.Info("shutdown complete")
}

// runSync reconciles every configured series once, then optionally follows
// the bridge's live candle stream in watch mode.
func runSync(ctx context.Context, logger *zap.Logger, cfg *config.Config, mode, timeframes string, useMemory bool) error {
	if !useMemory && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required (use --use-memory for in-memory storage)")
	}

	var store storage.CandleStore = memory.NewCandleStore()
	if !useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		store = pgstore.NewCandleStore(pool)
	}

	client := metatrader.NewClient(cfg.Metatrader.Endpoint, metatrader.Credentials{
		Login:    cfg.Metatrader.Login,
		Password: cfg.Metatrader.Password,
		Server:   cfg.Metatrader.Server,
	})
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("bridge health check: %w", err)
	}

	series := cfg.Series()
	if len(series) == 0 {
		tfs, err := parseTimeframes(timeframes)
		if err != nil {
			return err
		}
		series = config.AllSeries(tfs...)
	}

	historyStart, err := cfg.HistoryStartUnix()
	if err != nil {
		return err
	}

	engine := ingestion.NewEngine(ingestion.Options{
		Source:       metatrader.NewBridgeSource(client),
		Store:        store,
		HistoryStart: historyStart,
		MaxFetchSpan: cfg.MaxFetchSpan(),
		Incremental:  mode != "full" || cfg.Sync.Incremental,
		Logger:       logger,
	})

	logger.Info("starting reconciliation",
		zap.String("mode", mode),
		zap.Int("series", len(series)))

	report := engine.ReconcileAll(ctx, series)

	for _, res := range report.Results {
		if res.Err != nil {
			logger.Error("series failed",
				zap.String("series", res.Series.String()),
				zap.Error(res.Err))
			continue
		}
		logCoverage(ctx, logger, store, res.Series)
	}
	logger.Info("reconciliation complete",
		zap.Int("series", len(series)),
		zap.Int("failed", len(report.Failed())),
		zap.Int("candles_added", report.TotalAdded()),
		zap.Duration("duration", report.Duration))

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d series failed", len(failed), len(series))
	}

	if mode == "watch" {
		return watch(ctx, logger, cfg, store, series)
	}
	return nil
}

// logCoverage reports the stored extent of one series after its pass.
func logCoverage(ctx context.Context, logger *zap.Logger, store storage.CandleStore, s ingestion.Series) {
	earliest, err := store.Earliest(ctx, s.Symbol, s.Timeframe)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("coverage lookup failed", zap.String("series", s.String()), zap.Error(err))
		}
		return
	}
	latest, err := store.Latest(ctx, s.Symbol, s.Timeframe)
	if err != nil {
		logger.Warn("coverage lookup failed", zap.String("series", s.String()), zap.Error(err))
		return
	}
	logger.Info("series coverage",
		zap.String("series", s.String()),
		zap.Time("earliest", time.Unix(earliest.OpenTime, 0).UTC()),
		zap.Time("latest", time.Unix(latest.OpenTime, 0).UTC()))
}

// watch follows the live closed-candle stream for every series and upserts
// candles as they arrive. Returns when the context is cancelled or any
// stream fails.
func watch(ctx context.Context, logger *zap.Logger, cfg *config.Config, store storage.CandleStore, series []ingestion.Series) error {
	if cfg.Metatrader.StreamEndpoint == "" {
		return fmt.Errorf("metatrader.stream_endpoint is required for watch mode")
	}

	source := metatrader.NewStreamSource(cfg.Metatrader.StreamEndpoint, nil)

	errCh := make(chan error, len(series))
	for _, s := range series {
		stream, err := source.Subscribe(ctx, s.Symbol, s.Timeframe)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		logger.Info("watching series", zap.String("series", s.String()))

		go func(s ingestion.Series, stream *metatrader.Stream) {
			for candle := range stream.C {
				result, err := store.Upsert(ctx, []domain.Candle{candle})
				if err != nil {
					errCh <- fmt.Errorf("upsert %s: %w", s, err)
					return
				}
				observability.RecordUpsert(s.Symbol, string(s.Timeframe), result.Inserted, result.Unchanged)
				logger.Debug("live candle stored",
					zap.String("series", s.String()),
					zap.Int64("open_time", candle.OpenTime))
			}
			if err := stream.Err(); err != nil {
				errCh <- fmt.Errorf("stream %s: %w", s, err)
				return
			}
			errCh <- nil
		}(s, stream)
	}

	for range series {
		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// parseTimeframes parses a comma-separated timeframe list.
func parseTimeframes(s string) ([]market.Timeframe, error) {
	var tfs []market.Timeframe
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tf, err := market.ParseTimeframe(part)
		if err != nil {
			return nil, fmt.Errorf("--timeframes: %w", err)
		}
		tfs = append(tfs, tf)
	}
	if len(tfs) == 0 {
		return nil, fmt.Errorf("--timeframes must name at least one timeframe")
	}
	return tfs, nil
}
