// Package gateway builds the HTTP clients used for every outbound platform
// call, with bounded timeouts and an explicit retry policy.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
)

// BackoffPolicy decides whether and how long to wait before a retry. Only
// 429 responses are retried; connection errors and 5xx are returned as-is.
type BackoffPolicy struct {
	MaxRetries int
	MaxWait    time.Duration
	// OnRetry is called before each retry sleep, if set.
	OnRetry func(wait time.Duration)
}

// NoRetry is the policy for calls that must not repeat.
var NoRetry = BackoffPolicy{}

// DefaultPolicy retries a rate-limited call once after the advertised wait.
var DefaultPolicy = BackoffPolicy{MaxRetries: 1, MaxWait: 5 * time.Second}

// CheckRetry implements retryablehttp.CheckRetry.
func (p BackoffPolicy) CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	return resp != nil && resp.StatusCode == http.StatusTooManyRequests, nil
}

// Backoff implements retryablehttp.Backoff using the server's advertised
// wait, capped at MaxWait.
func (p BackoffPolicy) Backoff(_, max time.Duration, _ int, resp *http.Response) time.Duration {
	wait := RetryAfter(resp)
	if wait <= 0 {
		wait = time.Second
	}
	if p.MaxWait > 0 && wait > p.MaxWait {
		wait = p.MaxWait
	}
	if max > 0 && wait > max {
		wait = max
	}
	if p.OnRetry != nil {
		p.OnRetry(wait)
	}
	return wait
}

// RetryAfter reads the advertised wait from a 429 response: Retry-After in
// seconds, or the finer-grained X-RateLimit-Reset-After used by Discord.
// The body is not consulted; the retry loop drains it before backoff.
func RetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	for _, h := range []string{"Retry-After", "X-RateLimit-Reset-After"} {
		v := resp.Header.Get(h)
		if v == "" {
			continue
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 && !math.IsInf(secs, 0) {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}

// LeveledLogger adapts the package logger to retryablehttp.
type LeveledLogger struct{}

func (LeveledLogger) Error(msg string, kv ...interface{}) { logger.Errorf("%s %v", msg, kv) }
func (LeveledLogger) Info(msg string, kv ...interface{})  { logger.Infof("%s %v", msg, kv) }
func (LeveledLogger) Debug(msg string, kv ...interface{}) { logger.Debugf("%s %v", msg, kv) }
func (LeveledLogger) Warn(msg string, kv ...interface{})  { logger.Warningf("%s %v", msg, kv) }

// NewClient returns a client applying policy with a per-attempt timeout.
func NewClient(policy BackoffPolicy, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = policy.MaxRetries
	c.RetryWaitMin = 0
	c.RetryWaitMax = policy.MaxWait
	c.CheckRetry = policy.CheckRetry
	c.Backoff = policy.Backoff
	c.Logger = retryablehttp.LeveledLogger(LeveledLogger{})
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.HTTPClient.Timeout = timeout
	return c
}

// StatusError is a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

// Do sends a JSON request and decodes a JSON response into out (if non-nil).
// It returns the status code for every completed exchange.
func Do(ctx context.Context, c *retryablehttp.Client, method, url string, header http.Header, in, out interface{}) (int, error) {
	var body interface{}
	if in != nil {
		switch v := in.(type) {
		case []byte, io.Reader:
			body = v
		case string:
			body = []byte(v)
		default:
			b, err := json.Marshal(in)
			if err != nil {
				return 0, fmt.Errorf("encode request: %w", err)
			}
			body = b
		}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &StatusError{Op: method + " " + req.URL.Path, Status: resp.StatusCode, Body: string(snippet)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
