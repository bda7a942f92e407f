package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tykee/internal/market"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Sync.HistoryStart != "2012-01-01" {
		t.Errorf("expected history_start 2012-01-01, got %s", cfg.Sync.HistoryStart)
	}
	if cfg.MaxFetchSpan() != 672*time.Hour {
		t.Errorf("expected max fetch span 672h, got %v", cfg.MaxFetchSpan())
	}
	if cfg.Dataset.LookbackWindow != 50 || cfg.Dataset.Horizon != 1 {
		t.Errorf("unexpected dataset defaults: %+v", cfg.Dataset)
	}
	if cfg.Training.TrainRatio != 0.8 {
		t.Errorf("expected train ratio 0.8, got %v", cfg.Training.TrainRatio)
	}

	start, err := cfg.HistoryStartUnix()
	if err != nil {
		t.Fatalf("HistoryStartUnix: %v", err)
	}
	want := time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	if start != want {
		t.Errorf("expected %d, got %d", want, start)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://app:pw@localhost:5432/candles
metatrader:
  endpoint: http://bridge:8787
  login: 100123
  server: Broker-Demo
sync:
  history_start: "2020-06-15"
  max_fetch_span_hours: 24
  incremental: true
  series:
    - symbol: eurusd
      timeframe: h1
    - symbol: USDJPY
      timeframe: D1
dataset:
  label: big_move
  big_move_threshold: 0.005
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.DSN != "postgres://app:pw@localhost:5432/candles" {
		t.Errorf("unexpected dsn: %s", cfg.Database.DSN)
	}
	if !cfg.Sync.Incremental {
		t.Error("expected incremental true")
	}
	if cfg.MaxFetchSpan() != 24*time.Hour {
		t.Errorf("expected 24h span, got %v", cfg.MaxFetchSpan())
	}
	// Untouched sections keep their defaults
	if cfg.Dataset.LookbackWindow != 50 {
		t.Errorf("expected default lookback, got %d", cfg.Dataset.LookbackWindow)
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Errorf("expected default metrics addr, got %s", cfg.Metrics.Addr)
	}

	series := cfg.Series()
	if len(series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(series))
	}
	if series[0].Symbol != "EURUSD" || series[0].Timeframe != market.H1 {
		t.Errorf("expected EURUSD/H1 (case-insensitive), got %v", series[0])
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://file-value
metatrader:
  login: 1
`)

	t.Setenv("TYKEE_DB_DSN", "postgres://env-value")
	t.Setenv("TYKEE_MT_LOGIN", "200456")
	t.Setenv("TYKEE_MT_PASSWORD", "hunter2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.DSN != "postgres://env-value" {
		t.Errorf("expected env dsn to win, got %s", cfg.Database.DSN)
	}
	if cfg.Metatrader.Login != 200456 {
		t.Errorf("expected env login, got %d", cfg.Metatrader.Login)
	}
	if cfg.Metatrader.Password != "hunter2" {
		t.Errorf("expected env password, got %s", cfg.Metatrader.Password)
	}
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, `
sync:
  history_start: "2019-03-01"
`)
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.HistoryStart != "2019-03-01" {
		t.Errorf("expected file from $TYKEE_CONFIG, got %s", cfg.Sync.HistoryStart)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad history_start", func(c *Config) { c.Sync.HistoryStart = "June 2012" }},
		{"zero fetch span", func(c *Config) { c.Sync.MaxFetchSpanHours = 0 }},
		{"unknown symbol", func(c *Config) {
			c.Sync.Series = []SeriesConfig{{Symbol: "BTCUSD", Timeframe: "H1"}}
		}},
		{"unknown timeframe", func(c *Config) {
			c.Sync.Series = []SeriesConfig{{Symbol: "EURUSD", Timeframe: "H2"}}
		}},
		{"bad label", func(c *Config) { c.Dataset.Label = "micro_macro" }},
		{"bad scaler", func(c *Config) { c.Dataset.Scaler = "robust" }},
		{"bad ratio", func(c *Config) { c.Training.TrainRatio = 1.2 }},
		{"zero lookback", func(c *Config) { c.Dataset.LookbackWindow = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAllSeries(t *testing.T) {
	series := AllSeries(market.H1, market.D1)
	if len(series) != len(market.Symbols)*2 {
		t.Fatalf("expected %d series, got %d", len(market.Symbols)*2, len(series))
	}
}
