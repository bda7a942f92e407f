package market

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe represents a fixed candle period.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M10 Timeframe = "M10"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
	W1  Timeframe = "W1"
)

// timeframeSeconds maps each timeframe to its fixed duration in seconds.
// W1 candles open on Monday 00:00 UTC.
var timeframeSeconds = map[Timeframe]int64{
	M1:  60,
	M5:  300,
	M10: 600,
	M15: 900,
	M30: 1800,
	H1:  3600,
	H4:  14400,
	D1:  86400,
	W1:  604800,
}

// Timeframes lists all supported timeframes in ascending duration order.
var Timeframes = []Timeframe{M1, M5, M10, M15, M30, H1, H4, D1, W1}

// String returns the string representation of the timeframe.
func (tf Timeframe) String() string {
	return string(tf)
}

// IsValid checks if the timeframe is a supported value.
func (tf Timeframe) IsValid() bool {
	_, ok := timeframeSeconds[tf]
	return ok
}

// Seconds returns the timeframe duration in seconds.
func (tf Timeframe) Seconds() int64 {
	return timeframeSeconds[tf]
}

// Duration returns the timeframe as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Seconds()) * time.Second
}

// Aligned reports whether ts (unix seconds UTC) falls on the timeframe grid.
func (tf Timeframe) Aligned(ts int64) bool {
	return tf.Truncate(ts) == ts
}

// Truncate rounds ts (unix seconds UTC) down to the nearest grid boundary.
func (tf Timeframe) Truncate(ts int64) int64 {
	step := tf.Seconds()
	if tf == W1 {
		// The epoch (Thursday) is three days after the preceding Monday.
		const mondayOffset = 3 * 86400
		return (ts+mondayOffset)/step*step - mondayOffset
	}
	if ts < 0 {
		return ((ts - step + 1) / step) * step
	}
	return ts / step * step
}

// Next returns the grid point immediately after ts.
func (tf Timeframe) Next(ts int64) int64 {
	return tf.Truncate(ts) + tf.Seconds()
}

// ParseTimeframe constructs a Timeframe from its string name,
// case-insensitively.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(s))
	if !tf.IsValid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}
