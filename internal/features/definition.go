package features

import (
	"math"
	"time"

	"tykee/internal/domain"
)

// FeatureDefinition computes a named feature set from a lookback window of
// candles, ascending, the last of which opened at the as-of time.
type FeatureDefinition interface {
	// Names returns the feature names, in Compute's output order.
	Names() []string

	// MinHistory returns the smallest window length Compute accepts.
	MinHistory() int

	// Compute derives the feature values. len(window) >= MinHistory.
	Compute(window []domain.Candle) []float64
}

// DefaultDefinition is the stock feature set:
//   - log returns of the close at lags 1, 5 and 10
//   - rolling volatility: stddev of one-step log returns over the window
//   - body ratio: |close-open| / (high-low) of the as-of candle
//   - range ratio: (high-low) / close of the as-of candle
//   - sin/cos encodings of time-of-day and day-of-week at the as-of time
type DefaultDefinition struct{}

var defaultNames = []string{
	"log_return_1",
	"log_return_5",
	"log_return_10",
	"rolling_volatility",
	"body_ratio",
	"range_ratio",
	"day_sin",
	"day_cos",
	"week_sin",
	"week_cos",
}

// Names implements FeatureDefinition.
func (DefaultDefinition) Names() []string {
	return defaultNames
}

// MinHistory implements FeatureDefinition. Eleven candles cover the longest
// return lag.
func (DefaultDefinition) MinHistory() int {
	return 11
}

// Compute implements FeatureDefinition.
func (DefaultDefinition) Compute(window []domain.Candle) []float64 {
	last := window[len(window)-1]

	values := make([]float64, 0, len(defaultNames))
	values = append(values,
		logReturn(window, 1),
		logReturn(window, 5),
		logReturn(window, 10),
		rollingVolatility(window),
		bodyRatio(&last),
		rangeRatio(&last),
	)

	daySin, dayCos := cyclicEncode(last.OpenTime, 24*3600)
	weekSin, weekCos := cyclicEncode(weekSecond(last.OpenTime), 7*24*3600)
	values = append(values, daySin, dayCos, weekSin, weekCos)

	return values
}

// logReturn is ln(close_t / close_{t-lag}), 0 when prices degenerate.
func logReturn(window []domain.Candle, lag int) float64 {
	cur := window[len(window)-1].Close
	prev := window[len(window)-1-lag].Close
	if cur <= 0 || prev <= 0 {
		return 0
	}
	return math.Log(cur / prev)
}

// rollingVolatility is the population stddev of one-step log returns.
func rollingVolatility(window []domain.Candle) float64 {
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i].Close <= 0 || window[i-1].Close <= 0 {
			continue
		}
		returns = append(returns, math.Log(window[i].Close/window[i-1].Close))
	}
	if len(returns) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance)
}

func bodyRatio(c *domain.Candle) float64 {
	span := c.High - c.Low
	if span == 0 {
		return 0
	}
	return math.Abs(c.Close-c.Open) / span
}

func rangeRatio(c *domain.Candle) float64 {
	if c.Close == 0 {
		return 0
	}
	return (c.High - c.Low) / c.Close
}

// cyclicEncode maps a timestamp position within a period onto the unit
// circle, so 23:59 sits next to 00:00.
func cyclicEncode(ts, period int64) (sin, cos float64) {
	angle := 2 * math.Pi * float64(ts%period) / float64(period)
	return math.Sin(angle), math.Cos(angle)
}

// weekSecond returns the second within the week, Monday 00:00 UTC = 0.
func weekSecond(ts int64) int64 {
	t := time.Unix(ts, 0).UTC()
	day := (int(t.Weekday()) + 6) % 7
	return int64(day)*24*3600 + int64(t.Hour())*3600 + int64(t.Minute())*60 + int64(t.Second())
}
