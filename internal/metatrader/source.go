package metatrader

import (
	"context"
	"errors"

	"tykee/internal/domain"
	"tykee/internal/market"
)

// ErrSourceUnavailable is returned when the terminal bridge cannot be
// reached or reports an initialization failure.
var ErrSourceUnavailable = errors.New("source unavailable")

// ErrInvalidRange is returned when from > to.
var ErrInvalidRange = errors.New("invalid range")

// CandleSource provides read-only access to historical candles.
type CandleSource interface {
	// Fetch retrieves closed candles for a series within [from, to]
	// (inclusive open times), ascending by open time. May return an empty
	// slice when the market produced no candles in the range.
	Fetch(ctx context.Context, symbol string, tf market.Timeframe, from, to int64) ([]domain.Candle, error)
}

// BridgeSource implements CandleSource on top of the terminal bridge client.
type BridgeSource struct {
	client *Client
}

// NewBridgeSource creates a CandleSource backed by the bridge client.
func NewBridgeSource(client *Client) *BridgeSource {
	return &BridgeSource{client: client}
}

// Compile-time interface check.
var _ CandleSource = (*BridgeSource)(nil)

// Fetch retrieves candles from the bridge, ascending by open time.
func (s *BridgeSource) Fetch(ctx context.Context, symbol string, tf market.Timeframe, from, to int64) ([]domain.Candle, error) {
	if from > to {
		return nil, ErrInvalidRange
	}
	return s.client.GetCandles(ctx, symbol, tf, from, to)
}
