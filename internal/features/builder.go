package features

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tykee/internal/domain"
	"tykee/internal/market"
	"tykee/internal/observability"
	"tykee/internal/storage"
)

// ErrInsufficientHistory is returned when fewer candles precede the as-of
// time than the lookback window needs.
var ErrInsufficientHistory = errors.New("insufficient history")

// ErrInsufficientFuture is returned when the horizon window after the as-of
// time is not fully available yet.
var ErrInsufficientFuture = errors.New("insufficient future")

// Default builder configuration.
const (
	DefaultLookbackWindow = 50
	DefaultHorizon        = 1

	// fetchSpanMult widens store reads beyond the nominal window so market
	// closures (weekends, holidays) still leave enough candles.
	fetchSpanMult = 3
)

// Options contains configuration for creating a Builder.
type Options struct {
	Store storage.CandleStore

	// LookbackWindow is the number of stored candles a feature vector sees.
	LookbackWindow int

	// Horizon is the number of future candles a label consumes.
	Horizon int

	Definition FeatureDefinition
	Policy     LabelPolicy
	Logger     *zap.Logger
}

// Builder derives leak-free feature vectors and labels from stored candles.
// Features read only candles at or before the as-of time; labels read only
// candles strictly after it.
type Builder struct {
	store      storage.CandleStore
	lookback   int
	horizon    int
	definition FeatureDefinition
	policy     LabelPolicy
	logger     *zap.Logger
}

// NewBuilder creates a new feature/label builder.
func NewBuilder(opts Options) *Builder {
	lookback := opts.LookbackWindow
	if lookback <= 0 {
		lookback = DefaultLookbackWindow
	}

	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	definition := opts.Definition
	if definition == nil {
		definition = DefaultDefinition{}
	}
	if lookback < definition.MinHistory() {
		lookback = definition.MinHistory()
	}

	policy := opts.Policy
	if policy == nil {
		policy = DirectionLabel{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Builder{
		store:      opts.Store,
		lookback:   lookback,
		horizon:    horizon,
		definition: definition,
		policy:     policy,
		logger:     logger,
	}
}

// BuildFeatures computes the feature vector anchored at asOf: the last
// LookbackWindow stored candles at or before asOf, the newest of which must
// have opened exactly at asOf.
func (b *Builder) BuildFeatures(ctx context.Context, symbol string, tf market.Timeframe, asOf int64) (*domain.FeatureVector, error) {
	window, err := b.lookbackWindow(ctx, symbol, tf, asOf)
	if err != nil {
		return nil, err
	}

	return &domain.FeatureVector{
		Symbol:    symbol,
		Timeframe: tf,
		AsOfTime:  asOf,
		Names:     b.definition.Names(),
		Values:    b.definition.Compute(window),
	}, nil
}

// BuildLabel computes the label anchored at asOf from the next Horizon
// stored candles, all opening strictly after asOf.
func (b *Builder) BuildLabel(ctx context.Context, symbol string, tf market.Timeframe, asOf int64) (*domain.Label, error) {
	entryRows, err := b.store.Range(ctx, symbol, tf, asOf, asOf)
	if err != nil {
		return nil, fmt.Errorf("range entry candle: %w", err)
	}
	if len(entryRows) == 0 {
		return nil, fmt.Errorf("%w: no candle at %d", ErrInsufficientHistory, asOf)
	}
	entry := entryRows[0]

	// Horizon counts stored candles, not grid steps, so the search widens
	// across market closures until the series runs out of data.
	step := tf.Seconds()
	span := int64(b.horizon) * step * fetchSpanMult
	var rows []domain.Candle
	for {
		rows, err = b.store.Range(ctx, symbol, tf, asOf+step, asOf+span)
		if err != nil {
			return nil, fmt.Errorf("range future candles: %w", err)
		}
		if len(rows) >= b.horizon {
			break
		}
		latest, err := b.store.Latest(ctx, symbol, tf)
		if err != nil {
			return nil, fmt.Errorf("latest %s/%s: %w", symbol, tf, err)
		}
		if asOf+span >= latest.OpenTime {
			return nil, fmt.Errorf("%w: %d of %d horizon candles after %d", ErrInsufficientFuture, len(rows), b.horizon, asOf)
		}
		span *= 2
	}
	future := rows[:b.horizon]

	outcome, class := b.policy.Label(&entry, future)
	return &domain.Label{
		Symbol:    symbol,
		Timeframe: tf,
		AsOfTime:  asOf,
		Horizon:   b.horizon,
		Outcome:   outcome,
		Class:     class,
	}, nil
}

// Dataset is the output of one BuildDataset call. Examples are ascending by
// as-of time; skip counters explain grid points that produced no example.
type Dataset struct {
	Symbol         string
	Timeframe      market.Timeframe
	Examples       []domain.TrainingExample
	SkippedHistory int
	SkippedFuture  int
}

// BuildDataset builds one example per stored candle with open time in
// [from, to]. Points without a full lookback window or a full horizon are
// counted and skipped, never fatal.
func (b *Builder) BuildDataset(ctx context.Context, symbol string, tf market.Timeframe, from, to int64) (*Dataset, error) {
	step := tf.Seconds()
	lookbackSpan := int64(b.lookback) * step * fetchSpanMult
	horizonSpan := int64(b.horizon) * step * fetchSpanMult

	candles, err := b.store.Range(ctx, symbol, tf, from-lookbackSpan, to+horizonSpan)
	if err != nil {
		return nil, fmt.Errorf("range %s/%s: %w", symbol, tf, err)
	}

	// The horizon counts stored candles. Widen the fetch past `to` across
	// market closures until the horizon for the last in-range point is
	// covered or the series runs out of data.
	for candlesAfter(candles, to) < b.horizon {
		latest, err := b.store.Latest(ctx, symbol, tf)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("latest %s/%s: %w", symbol, tf, err)
		}
		if to+horizonSpan >= latest.OpenTime {
			break
		}
		horizonSpan *= 2
		candles, err = b.store.Range(ctx, symbol, tf, from-lookbackSpan, to+horizonSpan)
		if err != nil {
			return nil, fmt.Errorf("range %s/%s: %w", symbol, tf, err)
		}
	}

	dataset := &Dataset{Symbol: symbol, Timeframe: tf}
	names := b.definition.Names()

	for i := range candles {
		asOf := candles[i].OpenTime
		if asOf < from || asOf > to {
			continue
		}

		if i+1 < b.lookback {
			dataset.SkippedHistory++
			continue
		}
		window := candles[i+1-b.lookback : i+1]

		if i+b.horizon >= len(candles) {
			dataset.SkippedFuture++
			continue
		}
		future := candles[i+1 : i+1+b.horizon]

		outcome, class := b.policy.Label(&candles[i], future)
		dataset.Examples = append(dataset.Examples, domain.TrainingExample{
			Features: domain.FeatureVector{
				Symbol:    symbol,
				Timeframe: tf,
				AsOfTime:  asOf,
				Names:     names,
				Values:    b.definition.Compute(window),
			},
			Label: domain.Label{
				Symbol:    symbol,
				Timeframe: tf,
				AsOfTime:  asOf,
				Horizon:   b.horizon,
				Outcome:   outcome,
				Class:     class,
			},
		})
	}

	observability.RecordDataset(symbol, string(tf),
		len(dataset.Examples), dataset.SkippedHistory, dataset.SkippedFuture)

	b.logger.Info("dataset built",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(tf)),
		zap.Time("from", time.Unix(from, 0).UTC()),
		zap.Time("to", time.Unix(to, 0).UTC()),
		zap.Int("examples", len(dataset.Examples)),
		zap.Int("skipped_history", dataset.SkippedHistory),
		zap.Int("skipped_future", dataset.SkippedFuture))

	return dataset, nil
}

// candlesAfter counts candles opening strictly after ts.
func candlesAfter(candles []domain.Candle, ts int64) int {
	n := 0
	for i := len(candles) - 1; i >= 0 && candles[i].OpenTime > ts; i-- {
		n++
	}
	return n
}

// lookbackWindow returns the last lookback candles at or before asOf,
// requiring the as-of candle itself to be stored.
func (b *Builder) lookbackWindow(ctx context.Context, symbol string, tf market.Timeframe, asOf int64) ([]domain.Candle, error) {
	step := tf.Seconds()
	span := int64(b.lookback) * step * fetchSpanMult

	candles, err := b.store.Range(ctx, symbol, tf, asOf-span, asOf)
	if err != nil {
		return nil, fmt.Errorf("range lookback candles: %w", err)
	}

	if len(candles) < b.lookback {
		return nil, fmt.Errorf("%w: %d of %d candles at %d", ErrInsufficientHistory, len(candles), b.lookback, asOf)
	}
	window := candles[len(candles)-b.lookback:]

	if window[len(window)-1].OpenTime != asOf {
		return nil, fmt.Errorf("%w: no candle at %d", ErrInsufficientHistory, asOf)
	}

	return window, nil
}
