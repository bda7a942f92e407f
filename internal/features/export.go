package features

import (
	"fmt"
	"strings"
)

// RenderCSV renders a dataset as a CSV string. Feature columns follow the
// definition's name order; rows keep the dataset's ascending as-of order.
func RenderCSV(d *Dataset) string {
	var sb strings.Builder

	// Header
	sb.WriteString("symbol,timeframe,as_of_time")
	if len(d.Examples) > 0 {
		for _, name := range d.Examples[0].Features.Names {
			sb.WriteString(",")
			sb.WriteString(name)
		}
	}
	sb.WriteString(",horizon,outcome,class\n")

	// Rows
	for _, e := range d.Examples {
		sb.WriteString(fmt.Sprintf("%s,%s,%d", e.Features.Symbol, e.Features.Timeframe, e.Features.AsOfTime))
		for _, v := range e.Features.Values {
			sb.WriteString(fmt.Sprintf(",%.10g", v))
		}
		sb.WriteString(fmt.Sprintf(",%d,%.10g,%d\n", e.Label.Horizon, e.Label.Outcome, e.Label.Class))
	}

	return sb.String()
}
