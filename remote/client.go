// Package remote is the resilient client every provider call goes through.
//
// One round trip passes, inner to outer, through: a per-attempt timeout, the
// provider's circuit breaker, an optional rate limiter, and attempt logging.
// go-retryablehttp drives the retry loop around that chain and uses
// RetryPolicy for both the retry decision and the delay.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/internal/httpclient"
	"github.com/teranos/scribe/internal/util"
	"github.com/teranos/scribe/logger"
)

// CorrelationHeader carries the correlation id on every attempt.
const CorrelationHeader = "X-Correlation-ID"

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 4 << 10

var errBlocked = httpclient.ErrBlockedDestination

// StatusError is a final non-2xx response.
type StatusError struct {
	Method        string
	Path          string
	StatusCode    int
	Body          string
	CorrelationID string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Options configures a Client.
type Options struct {
	BaseURL              string
	Policy               RetryPolicy
	Breaker              BreakerSettings
	AttemptTimeout       time.Duration
	RequestsPerSecond    float64
	AllowPrivateNetworks bool
	Header               http.Header // sent on every request (auth, user agent)
	Logger               *zap.SugaredLogger

	// Transport replaces the network transport under the policy chain.
	Transport http.RoundTripper
}

// Client executes HTTP calls against one provider with retry, breaker,
// timeout and rate limit policies applied.
type Client struct {
	baseURL *url.URL
	rc      *retryablehttp.Client
	safer   *httpclient.SaferClient
	breaker *breakerTransport
	policy  RetryPolicy
	header  http.Header
	logger  *zap.SugaredLogger
}

// NewFromConfig builds a Client from the remote configuration section.
func NewFromConfig(cfg am.RemoteConfig, log *zap.SugaredLogger) (*Client, error) {
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return New(Options{
		BaseURL:              cfg.BaseURL,
		Policy:               PolicyFromConfig(cfg.Retry),
		Breaker:              BreakerSettingsFromConfig("provider", cfg.Breaker),
		AttemptTimeout:       cfg.AttemptTimeout(),
		RequestsPerSecond:    cfg.RequestsPerSecond,
		AllowPrivateNetworks: cfg.AllowPrivateNetworks,
		Header:               header,
		Logger:               log,
	})
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, errors.NewInvalidRequestError("invalid provider base URL %q", opts.BaseURL)
	}
	if opts.Policy.MaxAttempts < 1 {
		opts.Policy.MaxAttempts = 1
	}
	log := logger.OrNop(opts.Logger).Named("remote")

	// The per-attempt timeout does the bounding; the outer client has none.
	safer := httpclient.NewSaferClientWithOptions(0, httpclient.SaferClientOptions{
		BlockPrivateIP: util.Ptr(!opts.AllowPrivateNetworks),
	})

	var transport http.RoundTripper = safer.Transport
	if opts.Transport != nil {
		transport = opts.Transport
	}
	transport = &timeoutTransport{next: transport, timeout: opts.AttemptTimeout}
	breaker := newBreakerTransport(transport, opts.Breaker, opts.Policy, log)
	transport = newRateTransport(breaker, opts.RequestsPerSecond)
	transport = &loggingTransport{next: transport, logger: log}
	safer.Transport = transport

	c := &Client{
		baseURL: base,
		safer:   safer,
		breaker: breaker,
		policy:  opts.Policy,
		header:  opts.Header,
		logger:  log,
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = safer.Client
	rc.Logger = leveledLogger{log}
	rc.RetryMax = opts.Policy.MaxAttempts - 1
	rc.RetryWaitMin = opts.Policy.BaseDelay
	rc.RetryWaitMax = opts.Policy.MaxDelay
	rc.CheckRetry = c.checkRetry
	rc.Backoff = c.backoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log.Infow("Retrying remote call",
				logger.FieldMethod, req.Method,
				logger.FieldPath, req.URL.Path,
				logger.FieldAttempt, attempt+1,
				logger.FieldCorrelationID, req.Header.Get(CorrelationHeader),
			)
		}
	}
	c.rc = rc

	return c, nil
}

func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return c.policy.retryable(ctx, resp, err), nil
}

// backoff adapts RetryPolicy.Delay to retryablehttp, whose attemptNum counts
// from 0 for the first retry.
func (c *Client) backoff(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
	var retryAfter time.Duration
	if resp != nil {
		retryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	d := c.policy.Delay(attemptNum+1, retryAfter)
	c.logger.Debugw("Backing off", logger.FieldAttempt, attemptNum+1, logger.FieldDelayMS, d.Milliseconds())
	return d
}

// BreakerState reports the provider circuit breaker state.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL.String() + "/" + strings.TrimLeft(path, "/")
}

// Do performs method on path. body may be nil, []byte, or an io.ReadSeeker
// (rewound on every retry). A 2xx response is returned open; the caller closes it.
// Anything else comes back as an error:
//   - *StatusError marked ErrTransientRemote or ErrProviderRejection
//   - transport failures after the last retry, marked ErrTransientRemote
//   - context.Canceled when the caller cancelled
func (c *Client) Do(ctx context.Context, method, path string, body interface{}, header http.Header) (*http.Response, error) {
	target := c.URL(path)
	if _, err := c.safer.ValidateURL(target); err != nil {
		return nil, errors.Mark(err, errors.ErrProviderRejection)
	}

	correlationID, ok := logger.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = uuid.NewString()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s %s", method, path)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(CorrelationHeader, correlationID)

	resp, err := c.rc.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, c.finalError(ctx, method, path, correlationID, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &StatusError{
		Method:        method,
		Path:          path,
		StatusCode:    resp.StatusCode,
		Body:          strings.TrimSpace(string(snippet)),
		CorrelationID: correlationID,
	}
	if c.policy.RetryableStatus(resp.StatusCode) {
		return nil, errors.Mark(statusErr, errors.ErrTransientRemote)
	}
	return nil, errors.Mark(statusErr, errors.ErrProviderRejection)
}

func (c *Client) finalError(ctx context.Context, method, path, correlationID string, err error) error {
	if ctx.Err() == context.Canceled {
		return context.Canceled
	}
	err = errors.WithDetailf(errors.Wrapf(err, "%s %s", method, path), "correlation_id: %s", correlationID)
	if errors.Is(err, errBlocked) {
		return errors.Mark(err, errors.ErrProviderRejection)
	}
	return errors.Mark(err, errors.ErrTransientRemote)
}

// leveledLogger lets retryablehttp log through zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
