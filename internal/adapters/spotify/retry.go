package spotify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond

	// Longer Retry-After hints are returned to the caller instead of waited out; a
	// voice reply cannot sit on a rate limit for that long.
	maxRetryAfter = 10 * time.Second
)

// Options tunes request retries. Zero values take the defaults.
type Options struct {
	// MaxAttempts bounds the tries per request, the first one included.
	MaxAttempts int
	// Backoff is the first retry delay. It doubles on every further retry.
	Backoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = defaultBackoff
	}
	return o
}

// retryDelay decides whether an attempt may be repeated and how long to wait first.
// A 429 means Spotify did not act, so any method is retried. Transport errors and 5xx
// statuses may come after the request took effect, so only idempotent methods are
// retried for those: a repeated POST /me/player/next would skip a second track.
func retryDelay(method string, resp *http.Response, err error, backoff time.Duration) (time.Duration, bool) {
	if err != nil {
		return backoff, idempotent(method)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if wait, ok := retryAfter(resp); ok {
			return wait, wait <= maxRetryAfter
		}
		return backoff, true
	case resp.StatusCode >= http.StatusInternalServerError:
		return backoff, idempotent(method)
	}
	return 0, false
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(raw); err == nil {
		return max(time.Until(when), 0), true
	}
	return 0, false
}

// do sends req, repeating it per retryDelay. When attempts run out on an error status
// the last response is returned so the caller can decode Spotify's error body.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := rewindable(req); err != nil {
		return nil, err
	}

	ctx := req.Context()
	backoff := c.retry.Backoff
	for attempt := 1; ; attempt++ {
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("reset request body: %w", err)
			}
			req.Body = body
		}

		// #nosec G107 -- host is the configured Spotify API root
		resp, err := c.httpClient.Do(req)
		if ctx.Err() != nil {
			if resp != nil {
				_ = resp.Body.Close()
			}
			return nil, fmt.Errorf("request canceled: %w", ctx.Err())
		}

		wait, again := retryDelay(req.Method, resp, err, backoff)
		if !again || attempt >= c.retry.MaxAttempts {
			if err != nil {
				return nil, fmt.Errorf("after %d attempt(s): %w", attempt, err)
			}
			return resp, nil
		}

		entry := c.log.WithFields(logrus.Fields{
			"method":  req.Method,
			"path":    req.URL.Path,
			"attempt": attempt,
			"wait":    wait.String(),
		})
		if err != nil {
			entry.WithError(err).Warn("spotify request failed, retrying")
		} else {
			entry.WithField("status", resp.StatusCode).Warn("spotify request throttled or failed, retrying")
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		if err := c.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("request canceled: %w", err)
		}
		backoff *= 2
	}
}

// rewindable makes sure every attempt can send the full body again.
func rewindable(req *http.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	raw, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
