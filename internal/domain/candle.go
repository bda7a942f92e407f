package domain

import (
	"fmt"
	"time"

	"tykee/internal/market"
)

// Candle is one immutable OHLCV bar. OpenTime is unix seconds UTC, aligned
// to the timeframe grid. Key = (Symbol, Timeframe, OpenTime).
type Candle struct {
	Symbol    string
	Timeframe market.Timeframe
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// CloseTime returns the unix second at which the candle closed.
func (c *Candle) CloseTime() int64 {
	return c.OpenTime + c.Timeframe.Seconds()
}

// OpenTimeUTC returns the open time as a time.Time in UTC.
func (c *Candle) OpenTimeUTC() time.Time {
	return time.Unix(c.OpenTime, 0).UTC()
}

// Aligned reports whether the candle's open time falls on its timeframe grid.
func (c *Candle) Aligned() bool {
	return c.Timeframe.Aligned(c.OpenTime)
}

// SamePayload reports whether two candles carry identical OHLCV values.
// Key fields are not compared.
func (c *Candle) SamePayload(other *Candle) bool {
	return c.Open == other.Open &&
		c.High == other.High &&
		c.Low == other.Low &&
		c.Close == other.Close &&
		c.Volume == other.Volume
}

// Key returns the candle's unique series key as a string.
func (c *Candle) Key() string {
	return fmt.Sprintf("%s/%s@%d", c.Symbol, c.Timeframe, c.OpenTime)
}
