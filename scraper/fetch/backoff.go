package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxBodyBytes caps how much of a page is held in memory.
const maxBodyBytes = 16 << 20

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// BackoffConfig bounds GetWithBackoff.
type BackoffConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxTotalTime time.Duration
	Headers      http.Header
	// OnRetry, if set, is called before each sleep with the status that
	// triggered it (0 for a transport error).
	OnRetry func(status int, delay time.Duration)
}

// DefaultBackoff returns 2 retries, a 1s base and a 12s total budget.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{MaxRetries: 2, BaseDelay: time.Second, MaxTotalTime: 12 * time.Second}
}

// GetWithBackoff issues GET requests until it gets a final answer or the
// retry budget runs out. 2xx and 400/401/403/404 return at once. Anything
// else is retried after Retry-After (429 and 5xx only) or base*2^attempt.
//
// The whole sequence, including the request in flight, is bounded by
// MaxTotalTime. When the budget is spent the last response is returned
// with a nil error; if no response was ever received the error wraps
// ErrNoResponse.
func GetWithBackoff(ctx context.Context, client *http.Client, rawURL string, cfg BackoffConfig) (*Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxTotalTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MaxTotalTime)
		defer cancel()
	}
	deadline, hasDeadline := ctx.Deadline()

	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var (
		last    *Response
		lastErr error
	)

	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := get(ctx, client, rawURL, cfg.Headers)
		status := 0
		if err != nil {
			lastErr = err
		} else {
			last = resp
			status = resp.StatusCode
			if resp.OK() || isDefinitive(status) {
				return resp, nil
			}
		}

		if attempt == attempts-1 || ctx.Err() != nil {
			break
		}

		delay := cfg.BaseDelay << attempt
		if err == nil && honorsRetryAfter(status) {
			if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				delay = d
			}
		}
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			if delay > remaining {
				delay = remaining
			}
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(status, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	if last != nil {
		return last, nil
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, fmt.Errorf("fetch %s: %w: %w", rawURL, ErrNoResponse, lastErr)
}

func get(ctx context.Context, client *http.Client, rawURL string, headers http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &Response{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func isDefinitive(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

func honorsRetryAfter(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
