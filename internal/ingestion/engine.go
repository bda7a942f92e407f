package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tykee/internal/domain"
	"tykee/internal/market"
	"tykee/internal/metatrader"
	"tykee/internal/observability"
	"tykee/internal/storage"
)

// DefaultMaxFetchSpan bounds one source request to four weeks of data.
const DefaultMaxFetchSpan = 672 * time.Hour

// Series identifies one (symbol, timeframe) pair.
type Series struct {
	Symbol    string
	Timeframe market.Timeframe
}

func (s Series) String() string {
	return s.Symbol + "/" + string(s.Timeframe)
}

// Options contains configuration for creating an Engine.
type Options struct {
	Source metatrader.CandleSource
	Store  storage.CandleStore

	// HistoryStart is the unix second full reconciliation reaches back to.
	HistoryStart int64

	// MaxFetchSpan bounds the range of one source request.
	MaxFetchSpan time.Duration

	// Incremental starts from the latest stored candle instead of
	// HistoryStart, falling back to HistoryStart on an empty series.
	Incremental bool

	Logger *zap.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine reconciles stored candle series against their expected grids.
// One finite pass per invocation; scheduling belongs to the caller.
type Engine struct {
	source       metatrader.CandleSource
	store        storage.CandleStore
	historyStart int64
	maxFetchSpan time.Duration
	incremental  bool
	logger       *zap.Logger
	now          func() time.Time
}

// NewEngine creates a new reconciliation engine.
func NewEngine(opts Options) *Engine {
	maxFetchSpan := opts.MaxFetchSpan
	if maxFetchSpan <= 0 {
		maxFetchSpan = DefaultMaxFetchSpan
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		source:       opts.Source,
		store:        opts.Store,
		historyStart: opts.HistoryStart,
		maxFetchSpan: maxFetchSpan,
		incremental:  opts.Incremental,
		logger:       logger,
		now:          now,
	}
}

// ReconcileResult contains statistics from one reconcile pass over a series.
type ReconcileResult struct {
	Symbol           string
	Timeframe        market.Timeframe
	CandlesAdded     int
	CandlesUnchanged int
	GapsDetected     int
	GapsUnresolved   []domain.Gap
	MalformedSkipped int
	Duration         time.Duration
}

// Reconcile runs one pass over a single series: build the expected grid,
// detect gaps against stored data, fetch and upsert what the source has.
// A gap whose fetch fails with ErrSourceUnavailable is recorded unresolved
// and the pass continues; a conflicting candle aborts the pass.
func (e *Engine) Reconcile(ctx context.Context, symbol string, tf market.Timeframe) (*ReconcileResult, error) {
	// e.now drives the grid only; durations always come from the wall clock.
	start := time.Now()
	result := &ReconcileResult{Symbol: symbol, Timeframe: tf}

	from := e.historyStart
	if e.incremental {
		latest, err := e.store.Latest(ctx, symbol, tf)
		switch {
		case err == nil:
			from = latest.OpenTime
		case errors.Is(err, storage.ErrNotFound):
			// Empty series; full backfill
		default:
			return nil, fmt.Errorf("latest %s/%s: %w", symbol, tf, err)
		}
	}

	grid := ExpectedGrid(tf, from, e.now().Unix())
	if len(grid) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	stored, err := e.store.Range(ctx, symbol, tf, grid[0], grid[len(grid)-1])
	if err != nil {
		return nil, fmt.Errorf("range %s/%s: %w", symbol, tf, err)
	}

	gaps := DetectGaps(symbol, tf, grid, stored)
	result.GapsDetected = len(gaps)

	e.logger.Info("reconcile pass",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(tf)),
		zap.Int64("from", grid[0]),
		zap.Int64("to", grid[len(grid)-1]),
		zap.Int("stored", len(stored)),
		zap.Int("gaps", len(gaps)))

	for _, gap := range gaps {
		if err := e.fillGap(ctx, gap, result); err != nil {
			if errors.Is(err, metatrader.ErrSourceUnavailable) {
				result.GapsUnresolved = append(result.GapsUnresolved, gap)
				e.logger.Warn("gap unresolved",
					zap.String("gap", gap.String()),
					zap.Error(err))
				continue
			}
			result.Duration = time.Since(start)
			return result, err
		}
	}

	result.Duration = time.Since(start)

	observability.RecordReconcile(symbol, string(tf),
		result.GapsDetected, len(result.GapsUnresolved), result.Duration.Seconds())
	if len(result.GapsUnresolved) == 0 {
		observability.DefaultMetrics.LastSuccessfulReconcile.SetToCurrentTime()
	}

	e.logger.Info("reconcile done",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(tf)),
		zap.Int("added", result.CandlesAdded),
		zap.Int("unchanged", result.CandlesUnchanged),
		zap.Int("unresolved", len(result.GapsUnresolved)),
		zap.Int("malformed", result.MalformedSkipped),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// fillGap fetches one gap in bounded chunks and upserts what came back.
// Open times the source has nothing for stay missing; that is a market
// gap, not a failure.
func (e *Engine) fillGap(ctx context.Context, gap domain.Gap, result *ReconcileResult) error {
	step := gap.Timeframe.Seconds()
	span := int64(e.maxFetchSpan / time.Second)
	if span < step {
		span = step
	}

	for cur := gap.Start; cur < gap.End; cur += span {
		chunkEnd := cur + span
		if chunkEnd > gap.End {
			chunkEnd = gap.End
		}

		fetchStart := time.Now()
		candles, err := e.source.Fetch(ctx, gap.Symbol, gap.Timeframe, cur, chunkEnd-step)
		observability.RecordFetch(gap.Symbol, string(gap.Timeframe),
			len(candles), time.Since(fetchStart).Seconds(), err)
		if err != nil {
			return fmt.Errorf("fetch %s/%s [%d, %d): %w", gap.Symbol, gap.Timeframe, cur, chunkEnd, err)
		}

		keep := candles[:0]
		malformed := 0
		for _, c := range candles {
			if e.malformed(&c, gap) {
				malformed++
				continue
			}
			keep = append(keep, c)
		}
		if malformed > 0 {
			result.MalformedSkipped += malformed
			observability.RecordMalformed(gap.Symbol, string(gap.Timeframe), malformed)
		}

		if len(keep) == 0 {
			continue
		}

		upserted, err := e.store.Upsert(ctx, keep)
		if err != nil {
			return fmt.Errorf("upsert %s/%s: %w", gap.Symbol, gap.Timeframe, err)
		}
		result.CandlesAdded += upserted.Inserted
		result.CandlesUnchanged += upserted.Unchanged
		observability.RecordUpsert(gap.Symbol, string(gap.Timeframe), upserted.Inserted, upserted.Unchanged)
	}

	return nil
}

// malformed reports whether a fetched candle must be discarded instead of
// stored: wrong series, off-grid open time, or inconsistent prices.
func (e *Engine) malformed(c *domain.Candle, gap domain.Gap) bool {
	switch {
	case c.Symbol != gap.Symbol || c.Timeframe != gap.Timeframe:
		return true
	case !c.Aligned():
		return true
	case c.High < c.Low:
		return true
	case c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0:
		return true
	case c.Volume < 0:
		return true
	}
	return false
}

// SeriesResult pairs one series with its reconcile outcome.
type SeriesResult struct {
	Series Series
	Result *ReconcileResult
	Err    error
}

// RunReport collects per-series outcomes from one ReconcileAll invocation.
type RunReport struct {
	Results  []SeriesResult
	Duration time.Duration
}

// Failed returns the series whose pass returned an error.
func (r *RunReport) Failed() []SeriesResult {
	var failed []SeriesResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// TotalAdded sums candles added across all successful series.
func (r *RunReport) TotalAdded() int {
	total := 0
	for _, res := range r.Results {
		if res.Result != nil {
			total += res.Result.CandlesAdded
		}
	}
	return total
}

// ReconcileAll reconciles every series concurrently. Series key spaces are
// disjoint, so passes need no coordination beyond the store's own locking.
// Results come back in input order.
func (e *Engine) ReconcileAll(ctx context.Context, series []Series) *RunReport {
	start := time.Now()
	report := &RunReport{Results: make([]SeriesResult, len(series))}

	var wg sync.WaitGroup
	for i, s := range series {
		wg.Add(1)
		go func(i int, s Series) {
			defer wg.Done()
			result, err := e.Reconcile(ctx, s.Symbol, s.Timeframe)
			report.Results[i] = SeriesResult{Series: s, Result: result, Err: err}
		}(i, s)
	}
	wg.Wait()

	report.Duration = time.Since(start)
	return report
}
