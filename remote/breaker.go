package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
)

// ErrCircuitOpen marks a call rejected without touching the network because
// the provider's circuit breaker is open (or half-open and already probing).
var ErrCircuitOpen = errors.New("circuit breaker open")

// errRetryableStatus tells the breaker a response counts as a failure while
// the response itself still reaches the retry loop.
var errRetryableStatus = errors.New("retryable status")

// BreakerSettings configures the breaker transport.
type BreakerSettings struct {
	Name             string
	FailureThreshold int
	Window           time.Duration // failure counts reset after this long in the closed state
	Cooldown         time.Duration // open → half-open
}

// BreakerSettingsFromConfig converts configuration to BreakerSettings.
func BreakerSettingsFromConfig(name string, cfg am.BreakerConfig) BreakerSettings {
	return BreakerSettings{
		Name:             name,
		FailureThreshold: cfg.FailureThreshold,
		Window:           time.Duration(cfg.WindowSeconds) * time.Second,
		Cooldown:         time.Duration(cfg.CooldownSeconds) * time.Second,
	}
}

// breakerTransport runs every round trip through one shared circuit breaker.
type breakerTransport struct {
	next   http.RoundTripper
	cb     *gobreaker.CircuitBreaker[*http.Response]
	policy RetryPolicy
}

func newBreakerTransport(next http.RoundTripper, s BreakerSettings, policy RetryPolicy, log *zap.SugaredLogger) *breakerTransport {
	threshold := uint32(s.FailureThreshold)
	if threshold == 0 {
		threshold = 1
	}
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    s.Window,
		Timeout:     s.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about provider health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("Circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				logger.FieldState, to.String(),
			)
		},
	})
	return &breakerTransport{next: next, cb: cb, policy: policy}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.cb.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if t.policy.RetryableStatus(resp.StatusCode) {
			return resp, errRetryableStatus
		}
		return resp, nil
	})
	if errors.Is(err, errRetryableStatus) {
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Mark(errors.Wrapf(err, "%s %s", req.Method, req.URL.Path), ErrCircuitOpen)
	}
	return resp, err
}

// State reports the breaker state ("closed", "half-open", "open").
func (t *breakerTransport) State() string {
	return t.cb.State().String()
}
