// Package config loads the YAML configuration file and applies environment
// overrides on top of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"tykee/internal/ingestion"
	"tykee/internal/market"
)

// EnvConfigPath names the config file when no flag is given.
const EnvConfigPath = "TYKEE_CONFIG"

// Config represents the full application configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Clickhouse ClickhouseConfig `yaml:"clickhouse"`
	Metatrader MetatraderConfig `yaml:"metatrader"`
	Sync       SyncConfig       `yaml:"sync"`
	Dataset    DatasetConfig    `yaml:"dataset"`
	Training   TrainingConfig   `yaml:"training"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ClickhouseConfig holds the optional feature snapshot cache settings.
type ClickhouseConfig struct {
	DSN string `yaml:"dsn"`
}

// MetatraderConfig holds terminal bridge settings.
type MetatraderConfig struct {
	Endpoint       string `yaml:"endpoint"`
	StreamEndpoint string `yaml:"stream_endpoint"`
	Login          int64  `yaml:"login"`
	Password       string `yaml:"password"`
	Server         string `yaml:"server"`
}

// SeriesConfig names one (symbol, timeframe) pair to reconcile.
type SeriesConfig struct {
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
}

// SyncConfig holds reconciliation settings.
type SyncConfig struct {
	// HistoryStart is the YYYY-MM-DD date full backfills reach back to.
	HistoryStart string `yaml:"history_start"`
	// MaxFetchSpanHours bounds one source request.
	MaxFetchSpanHours int            `yaml:"max_fetch_span_hours"`
	Incremental       bool           `yaml:"incremental"`
	Series            []SeriesConfig `yaml:"series"`
}

// DatasetConfig holds feature/label builder settings.
type DatasetConfig struct {
	LookbackWindow int    `yaml:"lookback_window"`
	Horizon        int    `yaml:"horizon"`
	// Label selects the policy: "direction" or "big_move".
	Label            string  `yaml:"label"`
	BigMoveThreshold float64 `yaml:"big_move_threshold"`
	// Scaler selects feature scaling: "standard", "minmax" or "none".
	Scaler string `yaml:"scaler"`
}

// TrainingConfig holds trainer hyperparameters.
type TrainingConfig struct {
	TrainRatio   float64 `yaml:"train_ratio"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learning_rate"`
	L2           float64 `yaml:"l2"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration defaults applied under any file or
// environment values.
func Default() *Config {
	return &Config{
		Metatrader: MetatraderConfig{
			Endpoint: "http://127.0.0.1:8787",
		},
		Sync: SyncConfig{
			HistoryStart:      "2012-01-01",
			MaxFetchSpanHours: 672,
		},
		Dataset: DatasetConfig{
			LookbackWindow:   50,
			Horizon:          1,
			Label:            "direction",
			BigMoveThreshold: 0.003,
			Scaler:           "standard",
		},
		Training: TrainingConfig{
			TrainRatio:   0.8,
			Epochs:       200,
			LearningRate: 0.1,
			L2:           1e-4,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads the YAML file at path, falling back to $TYKEE_CONFIG when path
// is empty, then applies environment overrides. An empty path with no
// environment variable yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides credentials and endpoints from the environment, so
// secrets can stay out of the file.
func (c *Config) applyEnv() error {
	if v := os.Getenv("TYKEE_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("TYKEE_CLICKHOUSE_DSN"); v != "" {
		c.Clickhouse.DSN = v
	}
	if v := os.Getenv("TYKEE_MT_ENDPOINT"); v != "" {
		c.Metatrader.Endpoint = v
	}
	if v := os.Getenv("TYKEE_MT_LOGIN"); v != "" {
		login, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse TYKEE_MT_LOGIN: %w", err)
		}
		c.Metatrader.Login = login
	}
	if v := os.Getenv("TYKEE_MT_PASSWORD"); v != "" {
		c.Metatrader.Password = v
	}
	if v := os.Getenv("TYKEE_MT_SERVER"); v != "" {
		c.Metatrader.Server = v
	}
	return nil
}

// Validate checks field consistency. DSNs are not validated here; commands
// that do not touch a store run without one.
func (c *Config) Validate() error {
	if _, err := c.HistoryStartUnix(); err != nil {
		return err
	}
	if c.Sync.MaxFetchSpanHours <= 0 {
		return fmt.Errorf("sync.max_fetch_span_hours must be positive, got %d", c.Sync.MaxFetchSpanHours)
	}
	for i, s := range c.Sync.Series {
		if _, err := market.ParseSymbol(s.Symbol); err != nil {
			return fmt.Errorf("sync.series[%d]: %w", i, err)
		}
		if _, err := market.ParseTimeframe(s.Timeframe); err != nil {
			return fmt.Errorf("sync.series[%d]: %w", i, err)
		}
	}

	if c.Dataset.LookbackWindow <= 0 {
		return fmt.Errorf("dataset.lookback_window must be positive, got %d", c.Dataset.LookbackWindow)
	}
	if c.Dataset.Horizon <= 0 {
		return fmt.Errorf("dataset.horizon must be positive, got %d", c.Dataset.Horizon)
	}
	switch c.Dataset.Label {
	case "direction", "big_move":
	default:
		return fmt.Errorf("dataset.label must be direction or big_move, got %q", c.Dataset.Label)
	}
	switch c.Dataset.Scaler {
	case "standard", "minmax", "none":
	default:
		return fmt.Errorf("dataset.scaler must be standard, minmax or none, got %q", c.Dataset.Scaler)
	}

	if c.Training.TrainRatio <= 0 || c.Training.TrainRatio >= 1 {
		return fmt.Errorf("training.train_ratio must be in (0, 1), got %v", c.Training.TrainRatio)
	}
	return nil
}

// HistoryStartUnix parses sync.history_start as a UTC date.
func (c *Config) HistoryStartUnix() (int64, error) {
	t, err := time.Parse("2006-01-02", c.Sync.HistoryStart)
	if err != nil {
		return 0, fmt.Errorf("parse sync.history_start: %w", err)
	}
	return t.Unix(), nil
}

// MaxFetchSpan returns the source request bound as a duration.
func (c *Config) MaxFetchSpan() time.Duration {
	return time.Duration(c.Sync.MaxFetchSpanHours) * time.Hour
}

// Series converts the configured pairs into engine series.
func (c *Config) Series() []ingestion.Series {
	series := make([]ingestion.Series, 0, len(c.Sync.Series))
	for _, s := range c.Sync.Series {
		symbol, _ := market.ParseSymbol(s.Symbol)
		tf, _ := market.ParseTimeframe(s.Timeframe)
		series = append(series, ingestion.Series{Symbol: string(symbol), Timeframe: tf})
	}
	return series
}

// AllSeries returns every known symbol crossed with the given timeframes,
// the default working set when sync.series is empty.
func AllSeries(timeframes ...market.Timeframe) []ingestion.Series {
	var series []ingestion.Series
	for _, symbol := range market.Symbols {
		for _, tf := range timeframes {
			series = append(series, ingestion.Series{Symbol: string(symbol), Timeframe: tf})
		}
	}
	return series
}
