package metatrader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tykee/internal/market"
)

func testCreds() Credentials {
	return Credentials{Login: 100123, Password: "secret", Server: "Broker-Demo"}
}

func TestClient_GetCandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/candles" {
			t.Errorf("expected path /api/candles, got %s", r.URL.Path)
		}

		var req candlesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Symbol != "EURUSD" {
			t.Errorf("expected symbol EURUSD, got %s", req.Symbol)
		}
		if req.Timeframe != "H1" {
			t.Errorf("expected timeframe H1, got %s", req.Timeframe)
		}
		if req.Login != 100123 {
			t.Errorf("expected login 100123, got %d", req.Login)
		}

		resp := map[string]interface{}{
			"result": map[string]interface{}{
				"candles": []map[string]interface{}{
					// Out of order on purpose; client must sort
					{"time": int64(1700010000), "open": 1.06, "high": 1.07, "low": 1.05, "close": 1.065, "tick_volume": float64(900)},
					{"time": int64(1700006400), "open": 1.05, "high": 1.06, "low": 1.04, "close": 1.055, "tick_volume": float64(1200)},
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(server.URL, testCreds())
	ctx := context.Background()

	candles, err := client.GetCandles(ctx, "EURUSD", market.H1, 1700000000, 1700020000)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}

	if candles[0].OpenTime != 1700006400 {
		t.Errorf("expected ascending order, first open time %d", candles[0].OpenTime)
	}

	if candles[0].Symbol != "EURUSD" || candles[0].Timeframe != market.H1 {
		t.Errorf("unexpected series on candle: %s/%s", candles[0].Symbol, candles[0].Timeframe)
	}

	if candles[1].Close != 1.065 {
		t.Errorf("expected close 1.065, got %v", candles[1].Close)
	}

	if candles[0].Volume != 1200 {
		t.Errorf("expected volume 1200, got %v", candles[0].Volume)
	}
}

func TestClient_GetCandles_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"result": map[string]interface{}{
				"candles": []map[string]interface{}{},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(server.URL, testCreds())

	candles, err := client.GetCandles(context.Background(), "EURUSD", market.H1, 1700000000, 1700000000)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}

	if len(candles) != 0 {
		t.Errorf("expected empty result, got %d candles", len(candles))
	}
}

func TestClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		resp := map[string]interface{}{
			"result": map[string]interface{}{
				"candles": []map[string]interface{}{
					{"time": int64(1700006400), "open": 1.05, "high": 1.06, "low": 1.04, "close": 1.055, "tick_volume": float64(10)},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(server.URL, testCreds(),
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	candles, err := client.GetCandles(context.Background(), "EURUSD", market.H1, 1700000000, 1700020000)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}

	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, testCreds(),
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
	)

	_, err := client.GetCandles(context.Background(), "EURUSD", market.H1, 1700000000, 1700020000)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestClient_InitFailureRetriedThenUnavailable(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		resp := map[string]interface{}{
			"error": map[string]interface{}{
				"code":    -10003,
				"message": "IPC initialization failed",
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(server.URL, testCreds(),
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
	)

	_, err := client.GetCandles(context.Background(), "EURUSD", market.H1, 1700000000, 1700020000)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestClient_BridgeErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		resp := map[string]interface{}{
			"error": map[string]interface{}{
				"code":    -2,
				"message": "invalid symbol",
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(server.URL, testCreds(),
		WithMaxRetries(3),
		WithRetryDelay(time.Millisecond),
	)

	_, err := client.GetCandles(context.Background(), "NOPE", market.H1, 1700000000, 1700020000)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var bErr *bridgeError
	if !errors.As(err, &bErr) {
		t.Fatalf("expected bridgeError, got %T", err)
	}
	if bErr.Code != -2 {
		t.Errorf("expected code -2, got %d", bErr.Code)
	}

	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("expected path /api/health, got %s", r.URL.Path)
		}
		resp := map[string]interface{}{
			"result": map[string]interface{}{
				"connected": true,
				"build":     int64(4120),
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(server.URL, testCreds())
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestClient_Health_NotConnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"result": map[string]interface{}{
				"connected": false,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(server.URL, testCreds())
	err := client.Health(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestBridgeSource_InvalidRange(t *testing.T) {
	source := NewBridgeSource(NewClient("http://unused", testCreds()))

	_, err := source.Fetch(context.Background(), "EURUSD", market.H1, 200, 100)
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, testCreds())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetCandles(ctx, "EURUSD", market.H1, 1700000000, 1700020000)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
