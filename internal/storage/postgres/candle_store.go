package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tykee/internal/domain"
	"tykee/internal/market"
	"tykee/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL.
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// Upsert writes a batch of candles in one transaction. A per-series
// advisory lock serializes writers to the same (symbol, timeframe) key
// space; writers to disjoint series do not contend. Identical re-inserts
// are no-ops; payload mismatches roll the batch back with
// ErrConflictingCandle.
func (s *CandleStore) Upsert(ctx context.Context, candles []domain.Candle) (storage.UpsertResult, error) {
	var result storage.UpsertResult
	if len(candles) == 0 {
		return result, nil
	}

	for i := range candles {
		if !candles[i].Aligned() {
			return result, fmt.Errorf("%w: open time %d off %s grid",
				storage.ErrInvalidInput, candles[i].OpenTime, candles[i].Timeframe)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// One lock per distinct series in the batch, in sorted order is not
	// needed: batches are per-series in practice, and advisory xact locks
	// are reentrant within the transaction.
	locked := make(map[string]struct{})
	for i := range candles {
		key := candles[i].Symbol + "/" + string(candles[i].Timeframe)
		if _, ok := locked[key]; ok {
			continue
		}
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return result, fmt.Errorf("lock series %s: %w", key, err)
		}
		locked[key] = struct{}{}
	}

	insert := `
		INSERT INTO candles (symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, open_time) DO NOTHING
	`
	existing := `
		SELECT open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND open_time = $3
	`

	for i := range candles {
		c := &candles[i]
		tag, err := tx.Exec(ctx, insert,
			c.Symbol, string(c.Timeframe), c.OpenTime,
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return storage.UpsertResult{}, fmt.Errorf("insert candle %s: %w", c.Key(), err)
		}
		if tag.RowsAffected() == 1 {
			result.Inserted++
			continue
		}

		// Conflict: verify the stored payload is identical.
		var stored domain.Candle
		err = tx.QueryRow(ctx, existing, c.Symbol, string(c.Timeframe), c.OpenTime).Scan(
			&stored.Open, &stored.High, &stored.Low, &stored.Close, &stored.Volume,
		)
		if err != nil {
			return storage.UpsertResult{}, fmt.Errorf("read conflicting candle %s: %w", c.Key(), err)
		}
		if !c.SamePayload(&stored) {
			return storage.UpsertResult{}, fmt.Errorf("%w: %s", storage.ErrConflictingCandle, c.Key())
		}
		result.Unchanged++
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.UpsertResult{}, fmt.Errorf("commit tx: %w", err)
	}

	return result, nil
}

// Range retrieves stored candles within [from, to] inclusive, ascending.
func (s *CandleStore) Range(ctx context.Context, symbol string, tf market.Timeframe, from, to int64) ([]domain.Candle, error) {
	query := `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND open_time >= $3 AND open_time <= $4
		ORDER BY open_time ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, string(tf), from, to)
	if err != nil {
		return nil, fmt.Errorf("range candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// Latest returns the most recent candle of a series.
func (s *CandleStore) Latest(ctx context.Context, symbol string, tf market.Timeframe) (*domain.Candle, error) {
	return s.edge(ctx, symbol, tf, "DESC")
}

// Earliest returns the oldest candle of a series.
func (s *CandleStore) Earliest(ctx context.Context, symbol string, tf market.Timeframe) (*domain.Candle, error) {
	return s.edge(ctx, symbol, tf, "ASC")
}

func (s *CandleStore) edge(ctx context.Context, symbol string, tf market.Timeframe, order string) (*domain.Candle, error) {
	query := fmt.Sprintf(`
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY open_time %s
		LIMIT 1
	`, order)

	var c domain.Candle
	var tfStr string
	err := s.pool.QueryRow(ctx, query, symbol, string(tf)).Scan(
		&c.Symbol, &tfStr, &c.OpenTime,
		&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read series edge: %w", err)
	}
	c.Timeframe = market.Timeframe(tfStr)
	return &c, nil
}

// scanCandles scans multiple rows into a slice of Candle.
func scanCandles(rows pgx.Rows) ([]domain.Candle, error) {
	var candles []domain.Candle

	for rows.Next() {
		var c domain.Candle
		var tfStr string

		err := rows.Scan(
			&c.Symbol, &tfStr, &c.OpenTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Timeframe = market.Timeframe(tfStr)
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
