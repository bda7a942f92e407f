package domain

import "tykee/internal/market"

// FeatureVector is an ordered numeric feature set computed from candles with
// OpenTime <= AsOfTime only. Names runs parallel to Values.
type FeatureVector struct {
	Symbol    string
	Timeframe market.Timeframe
	AsOfTime  int64
	Names     []string
	Values    []float64
}

// Label is a forward-looking outcome computed from candles strictly after
// AsOfTime through AsOfTime + Horizon candles.
type Label struct {
	Symbol    string
	Timeframe market.Timeframe
	AsOfTime  int64
	Horizon   int
	Outcome   float64
	Class     int
}

// TrainingExample pairs one FeatureVector and one Label sharing
// (Symbol, Timeframe, AsOfTime). The feature window ends at or before
// AsOfTime and the label window begins strictly after it.
type TrainingExample struct {
	Features FeatureVector
	Label    Label
}

// AsOfTime returns the shared as-of timestamp of the pair.
func (e *TrainingExample) AsOfTime() int64 {
	return e.Features.AsOfTime
}

// FeatureRecord is a flattened TrainingExample row for the snapshot cache
// and CSV export. Recomputable from the candle store; never read back by
// the feature builder.
type FeatureRecord struct {
	Symbol    string
	Timeframe market.Timeframe
	AsOfTime  int64
	Names     []string
	Values    []float64
	Horizon   int
	Outcome   float64
	Class     int
}

// RecordFromExample flattens a TrainingExample into a FeatureRecord.
func RecordFromExample(e *TrainingExample) *FeatureRecord {
	return &FeatureRecord{
		Symbol:    e.Features.Symbol,
		Timeframe: e.Features.Timeframe,
		AsOfTime:  e.Features.AsOfTime,
		Names:     e.Features.Names,
		Values:    e.Features.Values,
		Horizon:   e.Label.Horizon,
		Outcome:   e.Label.Outcome,
		Class:     e.Label.Class,
	}
}
