package remote

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
)

// ErrAttemptTimeout marks an attempt that ran past its own deadline while the
// caller's context was still live.
var ErrAttemptTimeout = errors.New("attempt timed out")

type attemptTimeoutKey struct{}

// WithAttemptTimeout overrides the per-attempt timeout for calls made with ctx.
// Uploads of large files use it; everything else keeps the configured value.
func WithAttemptTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, attemptTimeoutKey{}, d)
}

// timeoutTransport bounds each attempt. The deadline also covers reading the
// response body, so it is released only when the body is closed.
type timeoutTransport struct {
	next    http.RoundTripper
	timeout time.Duration
}

func (t *timeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	timeout := t.timeout
	if d, ok := req.Context().Value(attemptTimeoutKey{}).(time.Duration); ok {
		timeout = d
	}
	if timeout <= 0 {
		return t.next.RoundTrip(req)
	}

	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	resp, err := t.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		if ctx.Err() == context.DeadlineExceeded && req.Context().Err() == nil {
			return nil, errors.Mark(errors.Wrapf(err, "%s %s exceeded %s", req.Method, req.URL.Path, timeout), ErrAttemptTimeout)
		}
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// rateTransport waits for a limiter token before each attempt.
type rateTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func newRateTransport(next http.RoundTripper, perSecond float64) http.RoundTripper {
	if perSecond <= 0 {
		return next
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &rateTransport{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *rateTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}
	return t.next.RoundTrip(req)
}

// loggingTransport logs one line per attempt.
type loggingTransport struct {
	next   http.RoundTripper
	logger *zap.SugaredLogger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	fields := []interface{}{
		logger.FieldMethod, req.Method,
		logger.FieldPath, req.URL.Path,
		logger.FieldCorrelationID, req.Header.Get(CorrelationHeader),
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	}
	if err != nil {
		t.logger.Debugw("Remote attempt failed", append(fields, logger.FieldError, err.Error())...)
		return nil, err
	}
	t.logger.Debugw("Remote attempt", append(fields, logger.FieldStatus, resp.StatusCode)...)
	return resp, nil
}
