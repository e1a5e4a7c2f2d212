package remote

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/errors"
)

const (
	jitterLow  = 0.8
	jitterHigh = 1.2
)

// RetryPolicy decides whether and when a failed attempt is retried.
type RetryPolicy struct {
	MaxAttempts int // total attempts including the first
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponent    float64
	RetryOn408  bool

	// Rand returns a value in [0, 1). Defaults to a locked math/rand source.
	Rand func() float64
}

// PolicyFromConfig builds the retry policy from configuration.
func PolicyFromConfig(cfg am.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		Exponent:    cfg.Exponent,
		RetryOn408:  cfg.RetryOn408,
	}
}

var (
	defaultRandMu sync.Mutex
	defaultRand   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func lockedFloat64() float64 {
	defaultRandMu.Lock()
	defer defaultRandMu.Unlock()
	return defaultRand.Float64()
}

// raw is the un-jittered delay before retry n (n >= 1).
func (p RetryPolicy) raw(n int) time.Duration {
	exp := p.Exponent
	if exp < 1 {
		exp = 1
	}
	d := float64(p.BaseDelay) * math.Pow(exp, float64(n-1))
	if d > float64(p.MaxDelay) || math.IsInf(d, 1) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Delay returns the wait before retry n (1-based), given any Retry-After the
// server sent. Delays never decrease from one retry to the next: the jittered
// value is floored at the previous retry's highest possible delay, then capped
// at MaxDelay. Retry-After only ever lengthens the wait.
func (p RetryPolicy) Delay(n int, retryAfter time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	random := p.Rand
	if random == nil {
		random = lockedFloat64
	}

	f := jitterLow + (jitterHigh-jitterLow)*random()
	d := time.Duration(float64(p.raw(n)) * f)
	if n > 1 {
		if floor := time.Duration(float64(p.raw(n-1)) * jitterHigh); d < floor {
			d = floor
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

// RetryableStatus reports whether an HTTP status is worth another attempt.
func (p RetryPolicy) RetryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests:
		return true
	case code == http.StatusRequestTimeout:
		return p.RetryOn408
	case code >= 500:
		return true
	}
	return false
}

// retryable reports whether an attempt outcome should be retried. Caller
// cancellation never is.
func (p RetryPolicy) retryable(ctx context.Context, resp *http.Response, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, errBlocked)
	}
	return resp != nil && p.RetryableStatus(resp.StatusCode)
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
