package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"tykee/internal/config"
	"tykee/internal/features"
	"tykee/internal/market"
	"tykee/internal/storage"
	"tykee/internal/storage/memory"
	pgstore "tykee/internal/storage/postgres"
	"tykee/internal/training"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file (or set TYKEE_CONFIG)")
	symbol := flag.String("symbol", "EURUSD", "Symbol to train on")
	timeframe := flag.String("timeframe", "H1", "Timeframe to train on")
	fromStr := flag.String("from", "", "Range start (YYYY-MM-DD or RFC3339)")
	toStr := flag.String("to", "", "Range end (YYYY-MM-DD or RFC3339)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(context.Background(), logger, *configPath, *symbol, *timeframe, *fromStr, *toStr, *useMemory); err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, configPath, symbol, timeframe, fromStr, toStr string, useMemory bool) error {
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
	if len(dataset.Examples) == 0 {
		return fmt.Errorf("no training examples in range")
	}

	train, eval := training.ChronoSplit(dataset.Examples, cfg.Training.TrainRatio)
	logger.Info("dataset split",
		zap.Int("train", len(train)),
		zap.Int("eval", len(eval)))

	// Scalers fit on the training slice only; the eval slice never leaks
	// into the fitted statistics.
	if scaler := newScaler(cfg); scaler != nil {
		if err := scaler.Fit(train); err != nil {
			return fmt.Errorf("fit scaler: %w", err)
		}
		if train, err = features.TransformExamples(scaler, train); err != nil {
			return fmt.Errorf("scale train: %w", err)
		}
		if eval, err = features.TransformExamples(scaler, eval); err != nil {
			return fmt.Errorf("scale eval: %w", err)
		}
	}

	trainer := training.NewLogisticRegression(training.LogisticOptions{
		Epochs:       cfg.Training.Epochs,
		LearningRate: cfg.Training.LearningRate,
		L2:           cfg.Training.L2,
	})
	model, err := trainer.Fit(ctx, train)
	if err != nil {
		return fmt.Errorf("fit model: %w", err)
	}

	trainEval, err := training.Evaluate(model, train)
	if err != nil {
		return fmt.Errorf("evaluate train: %w", err)
	}
	logger.Info("train metrics",
		zap.Int("examples", trainEval.Examples),
		zap.Float64("accuracy", trainEval.Accuracy),
		zap.Float64("log_loss", trainEval.LogLoss))

	if len(eval) > 0 {
		holdout, err := training.Evaluate(model, eval)
		if err != nil {
			return fmt.Errorf("evaluate holdout: %w", err)
		}
		logger.Info("holdout metrics",
			zap.Int("examples", holdout.Examples),
			zap.Float64("accuracy", holdout.Accuracy),
			zap.Float64("log_loss", holdout.LogLoss))
	}
	return nil
}

func newScaler(cfg *config.Config) features.Scaler {
	switch cfg.Dataset.Scaler {
	case "minmax":
		return &features.MinMaxScaler{}
	case "none":
		return nil
	default:
		return &features.StandardScaler{}
	}
}

func labelPolicy(cfg *config.Config) features.LabelPolicy {
	if cfg.Dataset.Label == "big_move" {
		return features.BigMoveLabel{Threshold: cfg.Dataset.BigMoveThreshold}
	}
	return features.DirectionLabel{}
}

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
