package features

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"tykee/internal/domain"
	"tykee/internal/market"
	"tykee/internal/storage/memory"
)

func hourTS(i int) int64 {
	return time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour).Unix()
}

// seriesCandle builds an H1 candle with a deterministic drifting close.
func seriesCandle(i int) domain.Candle {
	close := 1.05 + 0.001*float64(i)
	return domain.Candle{
		Symbol:    "EURUSD",
		Timeframe: market.H1,
		OpenTime:  hourTS(i),
		Open:      close - 0.0005,
		High:      close + 0.001,
		Low:       close - 0.001,
		Close:     close,
		Volume:    100 + float64(i),
	}
}

func seedSeries(t *testing.T, store *memory.CandleStore, n int) {
	t.Helper()
	candles := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		candles[i] = seriesCandle(i)
	}
	if _, err := store.Upsert(context.Background(), candles); err != nil {
		t.Fatalf("seed store: %v", err)
	}
}

func testBuilder(store *memory.CandleStore) *Builder {
	return NewBuilder(Options{
		Store:          store,
		LookbackWindow: 11,
		Horizon:        1,
	})
}

func TestBuilder_BuildFeatures(t *testing.T) {
	store := memory.NewCandleStore()
	seedSeries(t, store, 12)

	builder := testBuilder(store)
	fv, err := builder.BuildFeatures(context.Background(), "EURUSD", market.H1, hourTS(11))
	if err != nil {
		t.Fatalf("BuildFeatures: %v", err)
	}

	if fv.AsOfTime != hourTS(11) {
		t.Errorf("expected as-of %d, got %d", hourTS(11), fv.AsOfTime)
	}
	if len(fv.Names) != len(fv.Values) {
		t.Fatalf("names/values length mismatch: %d vs %d", len(fv.Names), len(fv.Values))
	}
	if len(fv.Values) != 10 {
		t.Errorf("expected 10 features, got %d", len(fv.Values))
	}

	// Drifting closes make the one-step log return positive.
	if fv.Values[0] <= 0 {
		t.Errorf("expected positive log_return_1, got %v", fv.Values[0])
	}
	for i, v := range fv.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("feature %s is %v", fv.Names[i], v)
		}
	}
}

func TestBuilder_BuildFeatures_InsufficientHistory(t *testing.T) {
	store := memory.NewCandleStore()
	seedSeries(t, store, 5)

	builder := testBuilder(store)
	_, err := builder.BuildFeatures(context.Background(), "EURUSD", market.H1, hourTS(4))
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestBuilder_BuildFeatures_NoCandleAtAsOf(t *testing.T) {
	store := memory.NewCandleStore()
	seedSeries(t, store, 12)

	builder := testBuilder(store)
	_, err := builder.BuildFeatures(context.Background(), "EURUSD", market.H1, hourTS(11)+1800)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestBuilder_BuildLabel_Direction(t *testing.T) {
	store := memory.NewCandleStore()
	seedSeries(t, store, 13)

	builder := testBuilder(store)
	label, err := builder.BuildLabel(context.Background(), "EURUSD", market.H1, hourTS(11))
	if err != nil {
		t.Fatalf("BuildLabel: %v", err)
	}

	entry := seriesCandle(11)
	next := seriesCandle(12)
	want := math.Log(next.Close / entry.Close)
	if math.Abs(label.Outcome-want) > 1e-12 {
		t.Errorf("expected outcome %v, got %v", want, label.Outcome)
	}
	if label.Class != 1 {
		t.Errorf("expected class 1 for an up move, got %d", label.Class)
	}
	if label.Horizon != 1 {
		t.Errorf("expected horizon 1, got %d", label.Horizon)
	}
}

func TestBuilder_BuildLabel_InsufficientFuture(t *testing.T) {
	store := memory.NewCandleStore()
	seedSeries(t, store, 12)

	builder := testBuilder(store)
	_, err := builder.BuildLabel(context.Background(), "EURUSD", market.H1, hourTS(11))
	if !errors.Is(err, ErrInsufficientFuture) {
		t.Fatalf("expected ErrInsufficientFuture, got %v", err)
	}
}

func TestBuilder_BuildLabel_SpansMarketClosure(t *testing.T) {
	store := memory.NewCandleStore()
	seedSeries(t, store, 12)
	// Next stored candle opens 49 hours after the entry, as across a
	// weekend. The horizon counts candles, so it still labels the entry.
	far := seriesCandle(60)
	if _, err := store.Upsert(context.Background(), []domain.Candle{far}); err != nil {
		t.Fatalf("seed far candle: %v", err)
	}

	builder := testBuilder(store)
	label, err := builder.BuildLabel(context.Background(), "EURUSD", market.H1, hourTS(11))
	if err != nil {
		t.Fatalf("BuildLabel: %v", err)
	}

	entry := seriesCandle(11)
	want := math.Log(far.Close / entry.Close)
	if math.Abs(label.Outcome-want) > 1e-12 {
		t.Errorf("expected outcome %v, got %v", want, label.Outcome)
	}

	// BuildDataset takes the same next stored candle for that as-of point.
	dataset, err := builder.BuildDataset(context.Background(), "EURUSD", market.H1, hourTS(11), hourTS(11))
	if err != nil {
		t.Fatalf("BuildDataset: %v", err)
	}
	if len(dataset.Examples) != 1 {
		t.Fatalf("expected 1 example, got %d", len(dataset.Examples))
	}
	if got := dataset.Examples[0].Label.Outcome; math.Abs(got-want) > 1e-12 {
		t.Errorf("dataset outcome %v disagrees with BuildLabel %v", got, want)
	}
}

func TestBuilder_BuildDataset(t *testing.T) {
	store := memory.NewCandleStore()
	seedSeries(t, store, 20)

	builder := testBuilder(store)
	dataset, err := builder.BuildDataset(context.Background(), "EURUSD", market.H1, hourTS(0), hourTS(19))
	if err != nil {
		t.Fatalf("BuildDataset: %v", err)
	}

	// Positions 0-9 lack lookback, position 19 lacks a future candle.
	if dataset.SkippedHistory != 10 {
		t.Errorf("expected 10 history skips, got %d", dataset.SkippedHistory)
	}
	if dataset.SkippedFuture != 1 {
		t.Errorf("expected 1 future skip, got %d", dataset.SkippedFuture)
	}
	if len(dataset.Examples) != 9 {
		t.Fatalf("expected 9 examples, got %d", len(dataset.Examples))
	}

	for i, ex := range dataset.Examples {
		if ex.Features.AsOfTime != ex.Label.AsOfTime {
			t.Errorf("example %d: feature/label as-of mismatch", i)
		}
		if i > 0 && ex.AsOfTime() <= dataset.Examples[i-1].AsOfTime() {
			t.Errorf("examples not ascending at %d", i)
		}
	}
}

func TestBuilder_BuildDataset_GapSkipsOnlyAroundIt(t *testing.T) {
	store := memory.NewCandleStore()

	// 30 candles with one missing in the middle.
	var candles []domain.Candle
	for i := 0; i < 30; i++ {
		if i == 20 {
			continue
		}
		candles = append(candles, seriesCandle(i))
	}
	if _, err := store.Upsert(context.Background(), candles); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	builder := testBuilder(store)
	dataset, err := builder.BuildDataset(context.Background(), "EURUSD", market.H1, hourTS(0), hourTS(29))
	if err != nil {
		t.Fatalf("BuildDataset: %v", err)
	}

	// 29 stored candles, 10 lack lookback, the last lacks future: 18 examples.
	if len(dataset.Examples) != 18 {
		t.Errorf("expected 18 examples, got %d", len(dataset.Examples))
	}
	for _, ex := range dataset.Examples {
		if ex.AsOfTime() == hourTS(20) {
			t.Error("missing candle produced an example")
		}
	}
}

// Altering candles after the as-of time must change labels but never the
// feature vector.
func TestBuilder_FeaturesIgnoreTheFuture(t *testing.T) {
	base := memory.NewCandleStore()
	seedSeries(t, base, 15)

	tampered := memory.NewCandleStore()
	var candles []domain.Candle
	for i := 0; i < 15; i++ {
		c := seriesCandle(i)
		if c.OpenTime > hourTS(11) {
			c.Close = 2.0
			c.High = 2.1
		}
		candles = append(candles, c)
	}
	if _, err := tampered.Upsert(context.Background(), candles); err != nil {
		t.Fatalf("seed tampered store: %v", err)
	}

	asOf := hourTS(11)

	fvBase, err := testBuilder(base).BuildFeatures(context.Background(), "EURUSD", market.H1, asOf)
	if err != nil {
		t.Fatalf("BuildFeatures base: %v", err)
	}
	fvTampered, err := testBuilder(tampered).BuildFeatures(context.Background(), "EURUSD", market.H1, asOf)
	if err != nil {
		t.Fatalf("BuildFeatures tampered: %v", err)
	}

	for i := range fvBase.Values {
		if fvBase.Values[i] != fvTampered.Values[i] {
			t.Errorf("feature %s depends on future candles: %v vs %v",
				fvBase.Names[i], fvBase.Values[i], fvTampered.Values[i])
		}
	}

	labelBase, err := testBuilder(base).BuildLabel(context.Background(), "EURUSD", market.H1, asOf)
	if err != nil {
		t.Fatalf("BuildLabel base: %v", err)
	}
	labelTampered, err := testBuilder(tampered).BuildLabel(context.Background(), "EURUSD", market.H1, asOf)
	if err != nil {
		t.Fatalf("BuildLabel tampered: %v", err)
	}
	if labelBase.Outcome == labelTampered.Outcome {
		t.Error("expected tampered future to change the label outcome")
	}
}

func TestBigMoveLabel(t *testing.T) {
	entry := seriesCandle(0)

	quiet := seriesCandle(1)
	quiet.High = entry.Close * 1.0001
	quiet.Low = entry.Close * 0.9999

	policy := BigMoveLabel{Threshold: 0.01}
	outcome, class := policy.Label(&entry, []domain.Candle{quiet})
	if class != 0 {
		t.Errorf("expected class 0 for a quiet candle, got %d (outcome %v)", class, outcome)
	}

	spike := seriesCandle(1)
	spike.High = entry.Close * 1.05
	outcome, class = policy.Label(&entry, []domain.Candle{spike})
	if class != 1 {
		t.Errorf("expected class 1 for a spike, got %d", class)
	}
	if math.Abs(outcome-0.05) > 1e-9 {
		t.Errorf("expected outcome 0.05, got %v", outcome)
	}
}

func TestCyclicEncode_WrapsAround(t *testing.T) {
	// 23:00 and 01:00 must land near each other on the circle.
	lateSin, lateCos := cyclicEncode(23*3600, 24*3600)
	earlySin, earlyCos := cyclicEncode(1*3600, 24*3600)

	dist := math.Hypot(lateSin-earlySin, lateCos-earlyCos)
	noonSin, noonCos := cyclicEncode(12*3600, 24*3600)
	farDist := math.Hypot(lateSin-noonSin, lateCos-noonCos)

	if dist >= farDist {
		t.Errorf("expected 23:00 closer to 01:00 than to 12:00 (%v vs %v)", dist, farDist)
	}
}
