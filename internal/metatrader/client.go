package metatrader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"tykee/internal/domain"
	"tykee/internal/market"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 5
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Credentials identify a terminal account on the bridge.
type Credentials struct {
	Login    int64  `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

// Client talks to the MetaTrader 5 terminal bridge over HTTP JSON.
type Client struct {
	endpoint    string
	creds       Credentials
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new bridge client.
func NewClient(endpoint string, creds Credentials, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		creds:       creds,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// bridgeError is an error payload reported by the bridge.
type bridgeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *bridgeError) Error() string {
	return fmt.Sprintf("bridge error %d: %s", e.Code, e.Message)
}

// Terminal initialization failures reported by the bridge use the MT5
// IPC error family; those mean the source is down, not that the request
// was bad.
func (e *bridgeError) initFailure() bool {
	return e.Code <= -10000
}

// post performs an HTTP JSON call with retries and exponential backoff.
func (c *Client) post(ctx context.Context, path string, reqBody, result interface{}) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrSourceUnavailable, ctx.Err())
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("bridge status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		var envelope struct {
			Result json.RawMessage `json:"result,omitempty"`
			Error  *bridgeError    `json:"error,omitempty"`
		}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if envelope.Error != nil {
			if envelope.Error.initFailure() {
				// Terminal down; worth retrying like a transport failure
				lastErr = envelope.Error
				continue
			}
			return envelope.Error
		}

		if result != nil && envelope.Result != nil {
			if err := json.Unmarshal(envelope.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("%w: max retries exceeded: %v", ErrSourceUnavailable, lastErr)
}

// Health verifies the bridge is reachable and logged in to the terminal.
func (c *Client) Health(ctx context.Context) error {
	var result struct {
		Connected bool  `json:"connected"`
		Build     int64 `json:"build"`
	}
	if err := c.post(ctx, "/api/health", c.creds, &result); err != nil {
		return err
	}
	if !result.Connected {
		return fmt.Errorf("%w: terminal not connected", ErrSourceUnavailable)
	}
	return nil
}

// candlesRequest is the wire request for GetCandles.
type candlesRequest struct {
	Credentials
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	From      int64  `json:"from"`
	To        int64  `json:"to"`
}

// wireCandle is the wire representation of one rate bar.
type wireCandle struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume float64 `json:"tick_volume"`
}

// GetCandles retrieves closed candles with open times in [from, to],
// ascending by open time.
func (c *Client) GetCandles(ctx context.Context, symbol string, tf market.Timeframe, from, to int64) ([]domain.Candle, error) {
	req := candlesRequest{
		Credentials: c.creds,
		Symbol:      symbol,
		Timeframe:   string(tf),
		From:        from,
		To:          to,
	}

	var result struct {
		Candles []wireCandle `json:"candles"`
	}
	if err := c.post(ctx, "/api/candles", req, &result); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(result.Candles))
	for _, w := range result.Candles {
		candles = append(candles, domain.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  w.Time,
			Open:      w.Open,
			High:      w.High,
			Low:       w.Low,
			Close:     w.Close,
			Volume:    w.TickVolume,
		})
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime < candles[j].OpenTime
	})

	return candles, nil
}
