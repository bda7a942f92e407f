package features

import (
	"math"

	"tykee/internal/domain"
)

// LabelPolicy turns the strictly-future horizon window of a candle into a
// label outcome and class. entry is the as-of candle; future holds the next
// horizon candles, ascending, all opening after the as-of time.
type LabelPolicy interface {
	Name() string
	Label(entry *domain.Candle, future []domain.Candle) (outcome float64, class int)
}

// DirectionLabel classifies the sign of the forward close-to-close return
// across the horizon. Outcome is the log return itself.
type DirectionLabel struct{}

// Name implements LabelPolicy.
func (DirectionLabel) Name() string { return "direction" }

// Label implements LabelPolicy.
func (DirectionLabel) Label(entry *domain.Candle, future []domain.Candle) (float64, int) {
	exit := future[len(future)-1].Close
	if entry.Close <= 0 || exit <= 0 {
		return 0, 0
	}
	outcome := math.Log(exit / entry.Close)
	class := 0
	if outcome > 0 {
		class = 1
	}
	return outcome, class
}

// BigMoveLabel classifies whether price travels at least Threshold (as a
// fraction of the entry close) in either direction within the horizon,
// judged against future highs and lows. Outcome is the largest fractional
// excursion observed.
type BigMoveLabel struct {
	Threshold float64
}

// Name implements LabelPolicy.
func (BigMoveLabel) Name() string { return "big_move" }

// Label implements LabelPolicy.
func (p BigMoveLabel) Label(entry *domain.Candle, future []domain.Candle) (float64, int) {
	if entry.Close <= 0 {
		return 0, 0
	}

	maxMove := 0.0
	for i := range future {
		up := (future[i].High - entry.Close) / entry.Close
		down := (entry.Close - future[i].Low) / entry.Close
		if up > maxMove {
			maxMove = up
		}
		if down > maxMove {
			maxMove = down
		}
	}

	class := 0
	if maxMove >= p.Threshold {
		class = 1
	}
	return maxMove, class
}
