package storage

import (
	"context"

	"tykee/internal/domain"
	"tykee/internal/market"
)

// UpsertResult reports what one Upsert batch did.
type UpsertResult struct {
	Inserted  int // new candles written
	Unchanged int // identical candles already present (no-ops)
}

// CandleStore provides durable, ordered, deduplicated candle persistence
// keyed by (symbol, timeframe, open_time).
type CandleStore interface {
	// Upsert writes a batch of candles. Idempotent: re-inserting an
	// identical candle is a no-op counted in Unchanged. A candle whose key
	// exists with a different payload fails the whole batch with
	// ErrConflictingCandle; nothing from the failing batch becomes visible.
	// Misaligned open times fail with ErrInvalidInput.
	Upsert(ctx context.Context, candles []domain.Candle) (UpsertResult, error)

	// Range retrieves stored candles within [from, to] inclusive, ascending
	// by open time. Stored data only; never touches the network.
	Range(ctx context.Context, symbol string, tf market.Timeframe, from, to int64) ([]domain.Candle, error)

	// Latest returns the most recent candle of a series, or ErrNotFound.
	Latest(ctx context.Context, symbol string, tf market.Timeframe) (*domain.Candle, error)

	// Earliest returns the oldest candle of a series, or ErrNotFound.
	Earliest(ctx context.Context, symbol string, tf market.Timeframe) (*domain.Candle, error)
}

// FeatureRecordStore caches built training datasets for offline analysis.
// Optional: the feature builder never reads from it.
type FeatureRecordStore interface {
	// InsertBulk adds multiple records. Fails the entire batch on a
	// duplicate (symbol, timeframe, as_of_time, horizon).
	InsertBulk(ctx context.Context, records []*domain.FeatureRecord) error

	// GetByTimeRange retrieves records for a series within [start, end]
	// inclusive, ordered by as_of_time ASC.
	GetByTimeRange(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]*domain.FeatureRecord, error)
}
