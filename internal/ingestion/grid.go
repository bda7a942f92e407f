package ingestion

import (
	"tykee/internal/domain"
	"tykee/internal/market"
)

// ExpectedGrid returns the aligned open times a complete series would hold
// between historyStart and now. The first point is historyStart rounded up
// to the grid; the last is the most recent candle already fully closed at
// now. Empty when the window holds no closed candle.
func ExpectedGrid(tf market.Timeframe, historyStart, now int64) []int64 {
	step := tf.Seconds()

	first := tf.Truncate(historyStart)
	if first < historyStart {
		first += step
	}

	// Last open time whose close is at or before now. The candle opening
	// at Truncate(now) is still forming unless now sits exactly on the grid.
	last := tf.Truncate(now) - step

	if last < first {
		return nil
	}

	grid := make([]int64, 0, (last-first)/step+1)
	for ts := first; ts <= last; ts += step {
		grid = append(grid, ts)
	}
	return grid
}

// DetectGaps compares the expected grid against stored candles and returns
// the maximal contiguous runs of missing open times as half-open gaps,
// ascending. Stored candles outside the grid are ignored.
func DetectGaps(symbol string, tf market.Timeframe, grid []int64, stored []domain.Candle) []domain.Gap {
	present := make(map[int64]struct{}, len(stored))
	for i := range stored {
		present[stored[i].OpenTime] = struct{}{}
	}

	step := tf.Seconds()
	var gaps []domain.Gap

	for _, ts := range grid {
		if _, ok := present[ts]; ok {
			continue
		}
		if n := len(gaps); n > 0 && gaps[n-1].End == ts {
			gaps[n-1].End = ts + step
			continue
		}
		gaps = append(gaps, domain.Gap{
			Symbol:    symbol,
			Timeframe: tf,
			Start:     ts,
			End:       ts + step,
		})
	}

	return gaps
}
