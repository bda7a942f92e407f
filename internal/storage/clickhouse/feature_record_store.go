package clickhouse

import (
	"context"
	"fmt"

	"tykee/internal/domain"
	"tykee/internal/market"
	"tykee/internal/storage"
)

// FeatureRecordStore implements storage.FeatureRecordStore using ClickHouse.
// MergeTree does not enforce uniqueness, so duplicates are rejected with
// explicit checks before insert.
type FeatureRecordStore struct {
	conn *Conn
}

// NewFeatureRecordStore creates a new FeatureRecordStore.
func NewFeatureRecordStore(conn *Conn) *FeatureRecordStore {
	return &FeatureRecordStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeatureRecordStore = (*FeatureRecordStore)(nil)

// InsertBulk adds multiple records. Fails entire batch on duplicate.
func (s *FeatureRecordStore) InsertBulk(ctx context.Context, records []*domain.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	for _, r := range records {
		if r == nil || r.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	// Check for intra-batch duplicates
	type key struct {
		symbol    string
		timeframe market.Timeframe
		asOfTime  int64
		horizon   int
	}
	seen := make(map[key]struct{})
	for _, r := range records {
		k := key{r.Symbol, r.Timeframe, r.AsOfTime, r.Horizon}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, r := range records {
		exists, err := s.exists(ctx, r)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO feature_records (
			symbol, timeframe, as_of_time,
			names, "values",
			horizon, outcome, class
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.Symbol, string(r.Timeframe), r.AsOfTime,
			r.Names, r.Values,
			int32(r.Horizon), r.Outcome, int32(r.Class),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves records for a series within [start, end] (inclusive).
func (s *FeatureRecordStore) GetByTimeRange(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]*domain.FeatureRecord, error) {
	query := `
		SELECT
			symbol, timeframe, as_of_time,
			names, "values",
			horizon, outcome, class
		FROM feature_records
		WHERE symbol = ? AND timeframe = ? AND as_of_time >= ? AND as_of_time <= ?
		ORDER BY as_of_time ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, string(tf), start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanFeatureRecords(rows)
}

// exists checks if a record with the given key exists.
func (s *FeatureRecordStore) exists(ctx context.Context, r *domain.FeatureRecord) (bool, error) {
	query := `
		SELECT count(*) FROM feature_records
		WHERE symbol = ? AND timeframe = ? AND as_of_time = ? AND horizon = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, r.Symbol, string(r.Timeframe), r.AsOfTime, int32(r.Horizon)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanFeatureRecords scans multiple rows into a slice.
func scanFeatureRecords(rows chRows) ([]*domain.FeatureRecord, error) {
	var records []*domain.FeatureRecord

	for rows.Next() {
		var r domain.FeatureRecord
		var timeframe string
		var horizon, class int32

		err := rows.Scan(
			&r.Symbol, &timeframe, &r.AsOfTime,
			&r.Names, &r.Values,
			&horizon, &r.Outcome, &class,
		)
		if err != nil {
			return nil, fmt.Errorf("scan feature record row: %w", err)
		}

		r.Timeframe = market.Timeframe(timeframe)
		r.Horizon = int(horizon)
		r.Class = int(class)

		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature record rows: %w", err)
	}

	return records, nil
}
