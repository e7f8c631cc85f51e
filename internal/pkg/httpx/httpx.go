package httpx

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPStatusCoder is implemented by client errors that know the upstream status.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// IsRetryableHTTPStatus covers request timeouts, throttling and any 5xx.
func IsRetryableHTTPStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return code >= 500 && code < 600
	}
}

// IsRetryableError reports whether another attempt could succeed. Caller cancellation is
// final; deadlines and network timeouts are not.
func IsRetryableError(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RetryAfterDuration reads Retry-After as delta seconds or an HTTP date, capped at ceiling.
// Missing or unparsable headers yield fallback.
func RetryAfterDuration(resp *http.Response, fallback, ceiling time.Duration) time.Duration {
	d := fallback
	if resp != nil {
		if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				d = time.Duration(secs) * time.Second
			} else if at, err := http.ParseTime(v); err == nil {
				if until := time.Until(at); until > 0 {
					d = until
				}
			}
		}
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

// JitterSleep spreads base by up to 20% either way so concurrent clients do not retry in lockstep.
func JitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	spread := int64(base) / 5
	return time.Duration(int64(base) - spread + rand.Int64N(2*spread+1))
}

// RetryAfterHinter is implemented by errors that carry a server-provided Retry-After delay.
type RetryAfterHinter interface {
	RetryAfter() time.Duration
}

type Backoff struct {
	Retries    int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoff() Backoff {
	return Backoff{Retries: 5, Initial: time.Second, Max: 60 * time.Second, Multiplier: 2}
}

// Delay returns the jittered wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	return JitterSleep(d)
}

var sleepCtx = func(ctx context.Context, d time.Duration) error {
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

// Retry runs fn until it succeeds, returns a non-retryable error, or the retry budget is spent.
func Retry(ctx context.Context, b Backoff, fn func(attempt int) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		err = fn(attempt)
		if err == nil || !IsRetryableError(err) || attempt >= b.Retries {
			return err
		}
		wait := b.Delay(attempt)
		var hint RetryAfterHinter
		if errors.As(err, &hint) && hint.RetryAfter() > 0 {
			wait = hint.RetryAfter()
			if b.Max > 0 && wait > b.Max {
				wait = b.Max
			}
		}
		if serr := sleepCtx(ctx, wait); serr != nil {
			return err
		}
	}
}
