// Package gateway contains the provider adapters and the HTTP plumbing they
// share. Adapters translate ledger intents into provider calls; nothing in
// here touches storage or the state machine.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"payment-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// retryBackoffBase is doubled per attempt: 200ms, 400ms, 800ms...
const retryBackoffBase = 200 * time.Millisecond

// Response is a completed gateway HTTP exchange.
type Response struct {
	Status int
	Body   []byte
}

// Client is the shared outbound HTTP client. Timeouts and 5xx responses are
// retried with exponential backoff up to the configured attempt budget; 4xx
// responses are returned to the adapter untouched since retrying a rejected
// request cannot change the answer.
type Client struct {
	http    *http.Client
	retries int
	log     zerolog.Logger
}

// NewClient creates a gateway HTTP client. timeout bounds one attempt,
// retries is the number of re-attempts after the first.
func NewClient(timeout time.Duration, retries int, log zerolog.Logger) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		retries: retries,
		log:     log,
	}
}

// PostJSON sends a JSON body and returns the provider's response.
// An error return means the provider is unreachable after all attempts; the
// outcome of the last request is unknown and must not be treated as failed.
func (c *Client) PostJSON(ctx context.Context, provider, url string, headers map[string]string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal request: %w", err))
	}
	return c.do(ctx, provider, http.MethodPost, url, headers, payload)
}

// GetJSON performs a GET and returns the provider's response.
func (c *Client) GetJSON(ctx context.Context, provider, url string, headers map[string]string) (*Response, error) {
	return c.do(ctx, provider, http.MethodGet, url, headers, nil)
}

func (c *Client) do(ctx context.Context, provider, method, url string, headers map[string]string, payload []byte) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, apperror.ErrGatewayUnavailable(provider, ctx.Err())
			case <-time.After(backoff):
			}
			c.log.Warn().
				Str("provider", provider).
				Str("url", url).
				Int("attempt", attempt+1).
				Err(lastErr).
				Msg("retrying gateway call")
		}

		resp, err := c.attempt(ctx, method, url, headers, payload)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Status >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("gateway returned %d", resp.Status)
			continue
		}
		return resp, nil
	}
	return nil, apperror.ErrGatewayUnavailable(provider, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, url string, headers map[string]string, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// decode unmarshals a 2xx response body, treating anything else as a
// provider rejection.
func decode(provider string, resp *Response, out any) error {
	if resp.Status < http.StatusOK || resp.Status >= http.StatusMultipleChoices {
		return apperror.ErrGatewayRejected(provider, fmt.Sprintf("HTTP %d: %s", resp.Status, truncate(resp.Body, 200)))
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return apperror.ErrGatewayRejected(provider, fmt.Sprintf("unparseable response: %v", err))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
