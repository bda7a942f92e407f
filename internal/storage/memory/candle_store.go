package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tykee/internal/domain"
	"tykee/internal/market"
	"tykee/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore for
// tests and --use-memory runs.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]domain.Candle // keyed by (symbol, timeframe, open_time)
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]domain.Candle),
	}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

func candleKey(symbol string, tf market.Timeframe, openTime int64) string {
	return fmt.Sprintf("%s|%s|%d", symbol, tf, openTime)
}

// Upsert writes a batch of candles. The whole batch is validated before
// anything becomes visible, matching the postgres store's transactional
// semantics.
func (s *CandleStore) Upsert(_ context.Context, candles []domain.Candle) (storage.UpsertResult, error) {
	var result storage.UpsertResult
	if len(candles) == 0 {
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: validate alignment and detect conflicts.
	batch := make(map[string]domain.Candle, len(candles))
	for i := range candles {
		c := candles[i]
		if !c.Aligned() {
			return storage.UpsertResult{}, fmt.Errorf("%w: open time %d off %s grid",
				storage.ErrInvalidInput, c.OpenTime, c.Timeframe)
		}
		key := candleKey(c.Symbol, c.Timeframe, c.OpenTime)

		if stored, exists := s.data[key]; exists {
			if !c.SamePayload(&stored) {
				return storage.UpsertResult{}, fmt.Errorf("%w: %s", storage.ErrConflictingCandle, c.Key())
			}
			result.Unchanged++
			continue
		}
		if prev, exists := batch[key]; exists {
			if !c.SamePayload(&prev) {
				return storage.UpsertResult{}, fmt.Errorf("%w: %s", storage.ErrConflictingCandle, c.Key())
			}
			result.Unchanged++
			continue
		}
		batch[key] = c
		result.Inserted++
	}

	// Second pass: commit.
	for key, c := range batch {
		s.data[key] = c
	}

	return result, nil
}

// Range retrieves stored candles within [from, to] inclusive, ascending.
func (s *CandleStore) Range(_ context.Context, symbol string, tf market.Timeframe, from, to int64) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Candle
	for _, c := range s.data {
		if c.Symbol == symbol && c.Timeframe == tf && c.OpenTime >= from && c.OpenTime <= to {
			result = append(result, c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenTime < result[j].OpenTime
	})

	return result, nil
}

// Latest returns the most recent candle of a series, or ErrNotFound.
func (s *CandleStore) Latest(_ context.Context, symbol string, tf market.Timeframe) (*domain.Candle, error) {
	return s.edge(symbol, tf, func(cand, best int64) bool { return cand > best })
}

// Earliest returns the oldest candle of a series, or ErrNotFound.
func (s *CandleStore) Earliest(_ context.Context, symbol string, tf market.Timeframe) (*domain.Candle, error) {
	return s.edge(symbol, tf, func(cand, best int64) bool { return cand < best })
}

func (s *CandleStore) edge(symbol string, tf market.Timeframe, better func(cand, best int64) bool) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Candle
	for _, c := range s.data {
		if c.Symbol != symbol || c.Timeframe != tf {
			continue
		}
		if best == nil || better(c.OpenTime, best.OpenTime) {
			cc := c
			best = &cc
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return best, nil
}

// Len returns the number of stored candles across all series.
func (s *CandleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
