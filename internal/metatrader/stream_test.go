package metatrader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tykee/internal/market"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTestServer upgrades one connection, verifies the subscribe frame and
// hands the connection to serve.
func wsTestServer(t *testing.T, serve func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub struct {
			Symbol    string `json:"symbol"`
			Timeframe string `json:"timeframe"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Symbol != "EURUSD" || sub.Timeframe != "H1" {
			t.Errorf("unexpected subscription %s/%s", sub.Symbol, sub.Timeframe)
		}

		serve(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestStreamSource_DeliversCandles(t *testing.T) {
	server := wsTestServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 3; i++ {
			msg := map[string]interface{}{
				"type": "candle",
				"candle": map[string]interface{}{
					"time":        int64(1700006400 + i*3600),
					"open":        1.05,
					"high":        1.06,
					"low":         1.04,
					"close":       1.055,
					"tick_volume": float64(100 + i),
				},
			}
			data, _ := json.Marshal(msg)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	source := NewStreamSource(wsURL(server), nil)
	stream, err := source.Subscribe(ctx, "EURUSD", market.H1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var got []int64
	for c := range stream.C {
		if c.Symbol != "EURUSD" || c.Timeframe != market.H1 {
			t.Errorf("unexpected series %s/%s", c.Symbol, c.Timeframe)
		}
		got = append(got, c.OpenTime)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Errorf("expected ascending open times, got %v", got)
		}
	}
}

func TestStreamSource_BridgeErrorEndsStream(t *testing.T) {
	server := wsTestServer(t, func(conn *websocket.Conn) {
		msg := map[string]interface{}{
			"type": "error",
			"error": map[string]interface{}{
				"code":    -10004,
				"message": "terminal gone",
			},
		}
		data, _ := json.Marshal(msg)
		conn.WriteMessage(websocket.TextMessage, data)
		// Keep connection open so the client sees the frame, not EOF
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	source := NewStreamSource(wsURL(server), nil)
	stream, err := source.Subscribe(ctx, "EURUSD", market.H1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for range stream.C {
		t.Error("expected no candles")
	}

	if !errors.Is(stream.Err(), ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", stream.Err())
	}
}

func TestStreamSource_ContextCancellation(t *testing.T) {
	server := wsTestServer(t, func(conn *websocket.Conn) {
		// Serve nothing; wait for the client to go away
		conn.ReadMessage()
	})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())

	source := NewStreamSource(wsURL(server), nil)
	stream, err := source.Subscribe(ctx, "EURUSD", market.H1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()

	select {
	case _, ok := <-stream.C:
		if ok {
			t.Error("expected closed channel, got candle")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}

	if stream.Err() != nil {
		t.Errorf("expected clean shutdown, got %v", stream.Err())
	}
}

func TestStreamSource_DialFailure(t *testing.T) {
	source := NewStreamSource("ws://127.0.0.1:1", nil)

	_, err := source.Subscribe(context.Background(), "EURUSD", market.H1)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}
