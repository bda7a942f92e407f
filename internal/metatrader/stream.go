package metatrader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tykee/internal/domain"
	"tykee/internal/market"
)

// StreamConfig configures the closed-candle stream.
type StreamConfig struct {
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Buffer is the capacity of the delivery channel.
	Buffer int
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  90 * time.Second,
		WriteTimeout: 10 * time.Second,
		Buffer:       256,
	}
}

// StreamSource subscribes to the bridge's closed-candle WebSocket stream.
// One connection per series; reconnection is the caller's decision.
type StreamSource struct {
	endpoint string
	config   StreamConfig
}

// NewStreamSource creates a StreamSource for the given ws:// endpoint.
func NewStreamSource(endpoint string, config *StreamConfig) *StreamSource {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	return &StreamSource{endpoint: endpoint, config: cfg}
}

// Stream is a live subscription to one series. Candles arrives on C until
// the context is cancelled or the connection fails; after C is closed,
// Err reports the terminal error, nil for a clean shutdown.
type Stream struct {
	C <-chan domain.Candle

	mu  sync.Mutex
	err error
}

// Err returns the terminal stream error. Valid after C is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// streamMessage is one frame from the bridge stream.
type streamMessage struct {
	Type   string       `json:"type"` // "candle" or "error"
	Candle *wireCandle  `json:"candle,omitempty"`
	Error  *bridgeError `json:"error,omitempty"`
}

// Subscribe opens a WebSocket subscription for one series. Closed candles
// are delivered ascending as the market produces them.
func (s *StreamSource) Subscribe(ctx context.Context, symbol string, tf market.Timeframe) (*Stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial: %v", ErrSourceUnavailable, err)
	}

	sub := struct {
		Symbol    string `json:"symbol"`
		Timeframe string `json:"timeframe"`
	}{Symbol: symbol, Timeframe: string(tf)}

	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: write subscribe: %v", ErrSourceUnavailable, err)
	}

	ch := make(chan domain.Candle, s.config.Buffer)
	stream := &Stream{C: ch}

	done := make(chan struct{})

	// Ping keeps the bridge from dropping idle series.
	go func() {
		ticker := time.NewTicker(s.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}()

	// Cancellation unblocks the reader by closing the connection.
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(ch)
		defer close(done)
		defer conn.Close()

		for {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
			_, message, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return
				}
				stream.setErr(fmt.Errorf("%w: read stream: %v", ErrSourceUnavailable, err))
				return
			}

			var msg streamMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				stream.setErr(fmt.Errorf("unmarshal stream message: %w", err))
				return
			}

			switch msg.Type {
			case "candle":
				if msg.Candle == nil {
					continue
				}
				candle := domain.Candle{
					Symbol:    symbol,
					Timeframe: tf,
					OpenTime:  msg.Candle.Time,
					Open:      msg.Candle.Open,
					High:      msg.Candle.High,
					Low:       msg.Candle.Low,
					Close:     msg.Candle.Close,
					Volume:    msg.Candle.TickVolume,
				}
				select {
				case ch <- candle:
				case <-ctx.Done():
					return
				}
			case "error":
				if msg.Error != nil && msg.Error.initFailure() {
					stream.setErr(fmt.Errorf("%w: %v", ErrSourceUnavailable, msg.Error))
				} else if msg.Error != nil {
					stream.setErr(msg.Error)
				}
				return
			}
		}
	}()

	return stream, nil
}
