package stub

import (
	"context"
	"sync"

	"tykee/internal/domain"
	"tykee/internal/market"
	"tykee/internal/metatrader"
)

// FetchCall records one Fetch invocation.
type FetchCall struct {
	Symbol    string
	Timeframe market.Timeframe
	From      int64
	To        int64
}

// Source implements metatrader.CandleSource for testing. Candles added to
// the stub are served filtered to the requested range; scripted errors are
// returned once each, in order, before any candles.
type Source struct {
	mu      sync.Mutex
	candles map[string][]domain.Candle
	spill   map[string][]domain.Candle
	errs    []error
	calls   []FetchCall
}

// NewSource creates a new stub candle source.
func NewSource() *Source {
	return &Source{
		candles: make(map[string][]domain.Candle),
		spill:   make(map[string][]domain.Candle),
	}
}

// Compile-time interface check.
var _ metatrader.CandleSource = (*Source)(nil)

// Add registers candles the stub will serve. Caller keeps them sorted.
func (s *Source) Add(candles ...domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candles {
		key := c.Symbol + "|" + string(c.Timeframe)
		s.candles[key] = append(s.candles[key], c)
	}
}

// AddSpill registers candles served on every fetch for their series
// regardless of the requested range, mimicking a bridge that over-delivers.
func (s *Source) AddSpill(candles ...domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candles {
		key := c.Symbol + "|" + string(c.Timeframe)
		s.spill[key] = append(s.spill[key], c)
	}
}

// FailNext scripts errors to be returned by upcoming Fetch calls, one per
// call, before any candle data.
func (s *Source) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
}

// Calls returns a copy of the recorded Fetch invocations.
func (s *Source) Calls() []FetchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FetchCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Fetch serves scripted errors first, then stored candles within the range.
func (s *Source) Fetch(_ context.Context, symbol string, tf market.Timeframe, from, to int64) ([]domain.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, FetchCall{Symbol: symbol, Timeframe: tf, From: from, To: to})

	if from > to {
		return nil, metatrader.ErrInvalidRange
	}

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}

	key := symbol + "|" + string(tf)
	var out []domain.Candle
	for _, c := range s.candles[key] {
		if c.OpenTime >= from && c.OpenTime <= to {
			out = append(out, c)
		}
	}
	out = append(out, s.spill[key]...)
	return out, nil
}
