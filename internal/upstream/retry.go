package upstream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"glmgate/internal/apierr"
	"glmgate/internal/metrics"
)

// RetryPolicy governs the connection-establishment phase of an upstream
// call. It is never consulted once response bytes have reached the
// transcoder; a later failure becomes a stream error instead, because
// chunks already delivered to the client cannot be un-sent.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first (default: 3)
	BaseDelay   time.Duration // initial backoff (default: 100ms)
	MaxDelay    time.Duration // backoff cap (default: 30s)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Backoff calculates the delay before the given retry using exponential
// growth with full jitter. Full jitter spreads concurrent retries over
// the whole window, which avoids synchronized retry storms.
//
// Example progression (base=100ms):
// Attempt 0: 0-100ms
// Attempt 1: 0-200ms
// Attempt 2: 0-400ms
// ...capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	// Cap the exponent to prevent overflow.
	const maxExponent = 10
	if attempt > maxExponent {
		attempt = maxExponent
	}

	ceiling := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if ceiling > p.MaxDelay {
		ceiling = p.MaxDelay
	}

	return time.Duration(rand.Float64() * float64(ceiling))
}

// RetryableStatus reports whether the HTTP status warrants a fresh
// connection attempt.
func (p RetryPolicy) RetryableStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests: // 429
		return true
	case status == http.StatusRequestTimeout: // 408
		return true
	case status >= 500 && status <= 599:
		return true
	default:
		// Success, redirects and the remaining 4xx are never retried:
		// retrying cannot fix a caller error.
		return false
	}
}

// RetryableError reports whether a transport error is worth retrying.
func (p RetryPolicy) RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write" {
			return true
		}
	}

	// Wrapped transport errors sometimes only expose a message.
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure",
		"awaiting headers",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// timeoutPhase classifies a transport timeout as connect or first-byte.
func timeoutPhase(err error) apierr.TimeoutPhase {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return apierr.PhaseConnect
	}
	if strings.Contains(strings.ToLower(err.Error()), "awaiting headers") {
		return apierr.PhaseFirstByte
	}
	return apierr.PhaseConnect
}

// transportError maps a failed Do() into the taxonomy.
func transportError(err error) *apierr.Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierr.Timeout(timeoutPhase(err), err)
	}
	return apierr.UpstreamServer(0, fmt.Sprintf("upstream connection failed: %v", err))
}

// connect performs the connection-establishment phase with retries.
// build must produce a fresh *http.Request per attempt. A non-2xx
// response with a non-retryable status is returned to the caller for
// error-body decoding; retryable statuses and transient transport
// errors are retried with backoff until the policy is exhausted.
func (c *Client) connect(
	ctx context.Context,
	build func(ctx context.Context) (*http.Request, error),
) (*http.Response, error) {
	policy := c.cfg.Retry
	var lastErr *apierr.Error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := build(ctx)
		if err != nil {
			return nil, apierr.Internal(err)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}

		c.logger.Debug("upstream connection attempt",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.Error(err),
		)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				metrics.UpstreamAttemptsTotal.WithLabelValues("canceled").Inc()
				return nil, err
			}
			if !policy.RetryableError(err) {
				metrics.UpstreamAttemptsTotal.WithLabelValues("error").Inc()
				return nil, transportError(err)
			}
			metrics.UpstreamAttemptsTotal.WithLabelValues("retry").Inc()
			lastErr = transportError(err)
		} else if !policy.RetryableStatus(status) {
			metrics.UpstreamAttemptsTotal.WithLabelValues("ok").Inc()
			return resp, nil
		} else {
			metrics.UpstreamAttemptsTotal.WithLabelValues("retry").Inc()
			lastErr = apierr.FromStatus(status, fmt.Sprintf("upstream returned status %d", status))

			// Check Retry-After before closing the body.
			retryAfter := parseRetryAfter(resp)
			if resp.Body != nil {
				resp.Body.Close()
			}

			if retryAfter > 0 && attempt < policy.MaxAttempts-1 {
				c.logger.Info("honoring Retry-After header",
					zap.Duration("wait", retryAfter),
					zap.Int("status", status),
				)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(retryAfter):
				}
				continue
			}
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		backoff := policy.Backoff(attempt)
		c.logger.Debug("backing off before retry",
			zap.Duration("backoff", backoff),
			zap.Int("next_attempt", attempt+2),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	c.logger.Warn("upstream connection exhausted all retries",
		zap.Int("attempts", policy.MaxAttempts),
		zap.Error(lastErr),
	)

	if lastErr == nil {
		lastErr = apierr.UpstreamServer(0, "upstream connection failed")
	}
	return nil, lastErr
}

// parseRetryAfter extracts the retry delay from a Retry-After header,
// either seconds or an HTTP date. Returns 0 if missing or invalid.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	const maxRetryAfter = 5 * time.Minute

	if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
		if seconds <= 0 {
			return 0
		}
		d := time.Duration(seconds) * time.Second
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		d := time.Until(t)
		if d <= 0 {
			return 0
		}
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}

	return 0
}
