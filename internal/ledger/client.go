// Package ledger provides a Go client for the GG Monad room-ledger gateway.
//
// The gateway fronts the on-chain points ledger with a single JSON RPC
// endpoint; the client adds automatic retry for transport failures,
// structured rejection errors, and request identifiers for replay
// deduplication on mutating calls.
//
// # Authentication
//
// All requests carry a session token issued by the platform. There is no
// programmatic token refresh; callers must provide a fresh token when the
// current one expires.
//
// # Usage
//
//	client := ledger.NewClient(ledger.Config{
//	    BaseURL:      "https://ledger.ggmonad.example",
//	    SessionToken: "your-session-token",
//	})
//
//	room, err := client.GetRoom(ctx, 7)
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// rpcPath is the single RPC endpoint on the ledger gateway.
const rpcPath = "api/v1/rpc"

// Config holds configuration for the ledger gateway client.
type Config struct {
	// BaseURL is the ledger gateway origin. A bare host gets an https
	// scheme prepended.
	BaseURL string

	// SessionToken authenticates every call. Required.
	SessionToken string

	// MaxRetries is the maximum number of retry attempts for retryable
	// errors. Defaults to 3 if zero.
	MaxRetries int

	// BaseRetryDelay is the initial delay before the first retry.
	// Defaults to 2 seconds if zero.
	BaseRetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff delay.
	// Defaults to 10 seconds if zero.
	MaxRetryDelay time.Duration

	// HTTPClient allows injecting a custom HTTP client (useful for
	// testing). Defaults to a client with 30s timeout.
	HTTPClient *http.Client

	// UserAgent overrides the User-Agent header. Optional.
	UserAgent string
}

// Client is a ledger gateway client. Safe for concurrent use.
type Client struct {
	config Config
	http   *http.Client
	mu     sync.RWMutex
}

// NewClient creates a new ledger client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = 2 * time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 10 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		config: cfg,
		http:   httpClient,
	}
}

// SetSessionToken updates the session token (thread-safe).
func (c *Client) SetSessionToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.SessionToken = token
}

// SessionToken returns the current session token (thread-safe).
func (c *Client) SessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.SessionToken
}

// BaseURL returns the configured gateway origin.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// --- Core request methods ---

// doRequest sends a single RPC call to the gateway and decodes the envelope.
func (c *Client) doRequest(ctx context.Context, req *rpcRequest) (*Response, error) {
	base := c.config.BaseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	url := fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), rpcPath)

	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("ledger: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-access-token", c.SessionToken())
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ledger: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ledger: read response: %w", err)
	}

	if resp.StatusCode == 401 {
		return nil, &AuthError{StatusCode: 401, Message: "session token expired or invalid"}
	}
	if resp.StatusCode != 200 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	// Parse the envelope. Older gateway builds return the data object bare,
	// without the {"data": ...} wrapper, so probe and normalize.
	var ledgerResp Response

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(respBody, &probe); err != nil {
		return nil, fmt.Errorf("ledger: invalid response JSON: %w", err)
	}

	if errData, hasErrors := probe["errors"]; hasErrors {
		json.Unmarshal(errData, &ledgerResp.Errors)
		for i := range ledgerResp.Errors {
			ledgerResp.Errors[i].normalize()
		}
	}

	if dataField, hasData := probe["data"]; hasData {
		ledgerResp.Data = dataField
	} else if !ledgerResp.HasError() {
		ledgerResp.Data = respBody
	}

	return &ledgerResp, nil
}

// doRequestWithRetry sends a request with automatic retry on retryable errors.
func (c *Client) doRequestWithRetry(ctx context.Context, req *rpcRequest) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, req)
		if err != nil {
			lastErr = err

			if httpErr, ok := err.(*HTTPError); ok && httpErr.IsRetryable() {
				continue
			}

			// Auth errors and other non-retryable errors fail immediately.
			return nil, err
		}

		if resp.HasError() {
			rpcErr := resp.FirstError()

			// Sequencer contention is silently retried.
			if rpcErr.IsBusy() {
				lastErr = rpcErr
				continue
			}

			// All other rejections are returned for the caller to classify.
			return resp, nil
		}

		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("ledger: max retries exceeded: %w", lastErr)
	}
	return nil, fmt.Errorf("ledger: max retries exceeded")
}

// retryDelay calculates the backoff delay for a given attempt number.
func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.config.BaseRetryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > c.config.MaxRetryDelay {
		delay = c.config.MaxRetryDelay
	}
	return delay
}

// call sends an RPC operation and returns the decoded envelope.
func (c *Client) call(ctx context.Context, op string, params map[string]any) (*Response, error) {
	return c.doRequestWithRetry(ctx, &rpcRequest{Op: op, Params: params})
}

// mutate sends a mutating RPC operation with a replay-dedup identifier.
func (c *Client) mutate(ctx context.Context, op string, params map[string]any) (*Response, error) {
	return c.doRequestWithRetry(ctx, &rpcRequest{
		Op:        op,
		Params:    params,
		RequestID: RequestIdentifier(),
	})
}
