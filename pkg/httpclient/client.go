// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient wraps net/http with transport-level retries for the
// outbound LLM and embedding calls. Retries cover connection failures and
// retryable status codes only; once a streaming response body is handed to
// the caller it is never retried.
package httpclient

import (
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryStrategy classifies how a failed attempt should be retried.
type RetryStrategy int

const (
	// NoRetry fails immediately.
	NoRetry RetryStrategy = iota
	// BackoffRetry retries with exponential backoff from the base delay.
	BackoffRetry
	// HeaderRetry prefers the server's Retry-After/reset hints, falling back
	// to exponential backoff.
	HeaderRetry
)

// RateLimitInfo carries server-provided retry hints parsed from headers.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

// RateLimitHeaderParser extracts RateLimitInfo from response headers.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// RetryStrategyFunc decides the retry strategy for a status code.
type RetryStrategyFunc func(int) RetryStrategy

// Client is a retrying HTTP client. The zero value is not usable; construct
// with New.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithMaxRetries sets how many times a failed request is re-attempted.
func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

// WithBaseDelay sets the first backoff delay; subsequent delays double.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

// WithHeaderParser installs a provider-specific rate limit header parser.
func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) { c.headerParser = parser }
}

// WithRetryStrategy replaces the status-code classification.
func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = strategyFunc }
}

// New builds a Client. Defaults: 2 retries, 500ms base delay, 60s request
// timeout.
func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   2,
		baseDelay:    500 * time.Millisecond,
		strategyFunc: DefaultRetryStrategy,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// DefaultRetryStrategy retries rate limits and transient server errors.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return HeaderRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return BackoffRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying per the configured strategy. The request
// context bounds the whole exchange including backoff waits; requests with a
// GetBody hook are safe to retry.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, &RetryableError{Message: "recreating request body for retry", Err: err}
			}
			req.Body = body
		}

		resp, strategy, hints, err := c.attempt(req)
		if err == nil {
			return resp, nil
		}
		lastResp, lastErr = resp, err

		if strategy == NoRetry || attempt >= c.maxRetries {
			break
		}

		delay := c.delayFor(strategy, attempt, hints)
		status := 0
		if resp != nil {
			status = resp.StatusCode
			// Drain so the connection can be reused by the next attempt.
			resp.Body.Close()
		}
		slog.Debug("Retrying HTTP request",
			"status", status, "delay", delay, "attempt", attempt+1, "max", c.maxRetries)

		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}

	if lastResp != nil {
		return lastResp, &RetryableError{
			StatusCode: lastResp.StatusCode,
			Message:    "retries exhausted",
			Err:        lastErr,
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		// Connection-level failure. Context errors must not be retried.
		if req.Context().Err() != nil {
			return nil, NoRetry, RateLimitInfo{}, err
		}
		return nil, BackoffRetry, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var hints RateLimitInfo
	if c.headerParser != nil {
		hints = c.headerParser(resp.Header)
	}
	return resp, c.strategyFunc(resp.StatusCode), hints, &RetryableError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}
}

func (c *Client) delayFor(strategy RetryStrategy, attempt int, hints RateLimitInfo) time.Duration {
	if strategy == HeaderRetry {
		if hints.RetryAfter > 0 {
			return hints.RetryAfter
		}
		if hints.ResetTime > 0 {
			if until := time.Until(time.Unix(hints.ResetTime, 0)); until > 0 {
				return until
			}
		}
	}
	return time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
}
