package domain

import (
	"fmt"
	"time"

	"tykee/internal/market"
)

// Gap is a half-open interval [Start, End) of missing open times for one
// (symbol, timeframe) series. Derived from the expected grid, never stored.
type Gap struct {
	Symbol    string
	Timeframe market.Timeframe
	Start     int64
	End       int64
}

// Candles returns the number of grid points the gap covers.
func (g Gap) Candles() int {
	return int((g.End - g.Start) / g.Timeframe.Seconds())
}

// String formats the gap for logs and reports.
func (g Gap) String() string {
	return fmt.Sprintf("%s/%s [%s, %s)",
		g.Symbol, g.Timeframe,
		time.Unix(g.Start, 0).UTC().Format(time.RFC3339),
		time.Unix(g.End, 0).UTC().Format(time.RFC3339))
}
