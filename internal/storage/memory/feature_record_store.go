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

// FeatureRecordStore is an in-memory implementation of
// storage.FeatureRecordStore.
type FeatureRecordStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FeatureRecord
}

// NewFeatureRecordStore creates a new in-memory feature record store.
func NewFeatureRecordStore() *FeatureRecordStore {
	return &FeatureRecordStore{
		data: make(map[string]*domain.FeatureRecord),
	}
}

// Compile-time interface check.
var _ storage.FeatureRecordStore = (*FeatureRecordStore)(nil)

func recordKey(r *domain.FeatureRecord) string {
	return fmt.Sprintf("%s|%s|%d|%d", r.Symbol, r.Timeframe, r.AsOfTime, r.Horizon)
}

// InsertBulk adds multiple records. Fails the entire batch on a duplicate.
func (s *FeatureRecordStore) InsertBulk(_ context.Context, records []*domain.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := recordKey(r)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range records {
		rc := *r
		s.data[recordKey(r)] = &rc
	}

	return nil
}

// GetByTimeRange retrieves records for a series within [start, end]
// inclusive, ordered by as_of_time ASC.
func (s *FeatureRecordStore) GetByTimeRange(_ context.Context, symbol string, tf market.Timeframe, start, end int64) ([]*domain.FeatureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureRecord
	for _, r := range s.data {
		if r.Symbol == symbol && r.Timeframe == tf && r.AsOfTime >= start && r.AsOfTime <= end {
			rc := *r
			result = append(result, &rc)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AsOfTime < result[j].AsOfTime
	})

	return result, nil
}
