package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"tykee/internal/config"
	"tykee/internal/domain"
	"tykee/internal/features"
	"tykee/internal/market"
	"tykee/internal/storage"
	chstore "tykee/internal/storage/clickhouse"
	"tykee/internal/storage/memory"
	"tykee/internal/storage/migrations"
	pgstore "tykee/internal/storage/postgres"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file (or set TYKEE_CONFIG)")
	symbol := flag.String("symbol", "EURUSD", "Symbol to build the dataset for")
	timeframe := flag.String("timeframe", "H1", "Timeframe to build the dataset for")
	fromStr := flag.String("from", "", "Range start (YYYY-MM-DD or RFC3339)")
	toStr := flag.String("to", "", "Range end (YYYY-MM-DD or RFC3339)")
	out := flag.String("out", "", "CSV output path (empty writes to stdout)")
	snapshot := flag.Bool("snapshot", false, "Also write the dataset to the ClickHouse snapshot cache")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(context.Background(), logger, *configPath, *symbol, *timeframe, *fromStr, *toStr, *out, *snapshot, *useMemory); err != nil {
		logger.Fatal("dataset build failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, configPath, symbol, timeframe, fromStr, toStr, out string, snapshot, useMemory bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sym, err := market.ParseSymbol(symbol)
	if err != nil {
		return fmt.Errorf("--symbol: %w", err)
	}
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return fmt.Errorf("--timeframe: %w", err)
	}
	from, to, err := parseRange(fromStr, toStr)
	if err != nil {
		return err
	}

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
		store = pgstore.NewCandleStore(pool)
	}

	builder := features.NewBuilder(features.Options{
		Store:          store,
		LookbackWindow: cfg.Dataset.LookbackWindow,
		Horizon:        cfg.Dataset.Horizon,
		Policy:         labelPolicy(cfg),
		Logger:         logger,
	})

	dataset, err := builder.BuildDataset(ctx, string(sym), tf, from, to)
	if err != nil {
		return fmt.Errorf("build dataset: %w", err)
	}

	csv := features.RenderCSV(dataset)
	if out == "" {
		fmt.Print(csv)
	} else {
		if err := os.WriteFile(out, []byte(csv), 0o644); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		logger.Info("csv written",
			zap.String("path", out),
			zap.Int("examples", len(dataset.Examples)))
	}

	if snapshot {
		if err := writeSnapshot(ctx, logger, cfg, dataset); err != nil {
			return err
		}
	}
	return nil
}

// writeSnapshot mirrors the dataset into the ClickHouse feature record
// cache. The cache is write-only for the builder; it exists for offline
// analysis, not as a feature source.
func writeSnapshot(ctx context.Context, logger *zap.Logger, cfg *config.Config, dataset *features.Dataset) error {
	if cfg.Clickhouse.DSN == "" {
		return fmt.Errorf("clickhouse.dsn is required for --snapshot")
	}

	conn, err := chstore.NewConn(ctx, cfg.Clickhouse.DSN)
	if err != nil {
		return fmt.Errorf("connect to clickhouse: %w", err)
	}
	defer conn.Close()

	if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	records := make([]*domain.FeatureRecord, 0, len(dataset.Examples))
	for i := range dataset.Examples {
		records = append(records, domain.RecordFromExample(&dataset.Examples[i]))
	}

	recordStore := chstore.NewFeatureRecordStore(conn)
	if err := recordStore.InsertBulk(ctx, records); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	logger.Info("snapshot written", zap.Int("records", len(records)))
	return nil
}

// labelPolicy resolves the configured label policy. Config validation has
// already rejected unknown names.
func labelPolicy(cfg *config.Config) features.LabelPolicy {
	if cfg.Dataset.Label == "big_move" {
		return features.BigMoveLabel{Threshold: cfg.Dataset.BigMoveThreshold}
	}
	return features.DirectionLabel{}
}

// parseRange parses the --from/--to pair. Both are required; --to defaults
// to now when empty.
func parseRange(fromStr, toStr string) (int64, int64, error) {
	if fromStr == "" {
		return 0, 0, fmt.Errorf("--from is required")
	}
	from, err := parseTime(fromStr)
	if err != nil {
		return 0, 0, fmt.Errorf("--from: %w", err)
	}

	to := time.Now().UTC().Unix()
	if toStr != "" {
		to, err = parseTime(toStr)
		if err != nil {
			return 0, 0, fmt.Errorf("--to: %w", err)
		}
	}

	if from > to {
		return 0, 0, fmt.Errorf("--from %s is after --to", fromStr)
	}
	return from, to, nil
}

func parseTime(s string) (int64, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Unix(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("want YYYY-MM-DD or RFC3339, got %q", s)
	}
	return t.Unix(), nil
}
