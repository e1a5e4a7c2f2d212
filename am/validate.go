package am

import (
	"net/url"
	"strings"

	"github.com/teranos/scribe/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Attempts: at least one, otherwise nothing would ever run
	if c.Pipeline.MaxAttempts < 1 {
		return errors.NewInvalidRequestError("pipeline.max_attempts must be >= 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.MaxSilenceRatio < 0 || c.Pipeline.MaxSilenceRatio > 1 {
		return errors.NewInvalidRequestError("pipeline.max_silence_ratio must be within [0, 1], got %f", c.Pipeline.MaxSilenceRatio)
	}
	if c.Pipeline.RetryPauseMS < 0 {
		return errors.NewInvalidRequestError("pipeline.retry_pause_ms must be >= 0, got %d", c.Pipeline.RetryPauseMS)
	}
	for _, ext := range c.Pipeline.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return errors.NewInvalidRequestError("pipeline.extensions entries must start with '.', got %q", ext)
		}
	}

	if c.Media.FFmpegPath == "" {
		return errors.NewInvalidRequestError("media.ffmpeg_path cannot be empty")
	}
	if c.Media.SampleRate <= 0 {
		return errors.NewInvalidRequestError("media.sample_rate must be > 0, got %d", c.Media.SampleRate)
	}
	if c.Media.SilenceMinDurationSec < 0 {
		return errors.NewInvalidRequestError("media.silence_min_duration_sec must be >= 0, got %f", c.Media.SilenceMinDurationSec)
	}

	if err := c.Remote.validate(); err != nil {
		return err
	}

	// Watch debounce: 0 = react to every event, negative = invalid
	if c.Watch.DebounceMS < 0 {
		return errors.NewInvalidRequestError("watch.debounce_ms must be >= 0, got %d", c.Watch.DebounceMS)
	}

	return nil
}

func (r *RemoteConfig) validate() error {
	if r.BaseURL == "" {
		return errors.NewInvalidRequestError("remote.base_url cannot be empty")
	}
	u, err := url.Parse(r.BaseURL)
	if err != nil || u.Host == "" {
		return errors.NewInvalidRequestError("remote.base_url is not an absolute URL: %q", r.BaseURL)
	}
	if r.AttemptTimeoutSeconds <= 0 {
		return errors.NewInvalidRequestError("remote.attempt_timeout_seconds must be > 0, got %d", r.AttemptTimeoutSeconds)
	}
	// Rate: 0 = unlimited, negative = invalid
	if r.RequestsPerSecond < 0 {
		return errors.NewInvalidRequestError("remote.requests_per_second must be >= 0, got %f", r.RequestsPerSecond)
	}
	if r.PollIntervalMS <= 0 {
		return errors.NewInvalidRequestError("remote.poll_interval_ms must be > 0, got %d", r.PollIntervalMS)
	}
	if r.MaxProcessingMinutes <= 0 {
		return errors.NewInvalidRequestError("remote.max_processing_minutes must be > 0, got %d", r.MaxProcessingMinutes)
	}

	if r.Retry.MaxAttempts < 1 {
		return errors.NewInvalidRequestError("remote.retry.max_attempts must be >= 1, got %d", r.Retry.MaxAttempts)
	}
	if r.Retry.BaseDelayMS < 0 {
		return errors.NewInvalidRequestError("remote.retry.base_delay_ms must be >= 0, got %d", r.Retry.BaseDelayMS)
	}
	if r.Retry.MaxDelayMS < r.Retry.BaseDelayMS {
		return errors.NewInvalidRequestError("remote.retry.max_delay_ms (%d) must be >= base_delay_ms (%d)", r.Retry.MaxDelayMS, r.Retry.BaseDelayMS)
	}
	if r.Retry.Exponent < 1 {
		return errors.NewInvalidRequestError("remote.retry.exponent must be >= 1, got %f", r.Retry.Exponent)
	}

	if r.Breaker.FailureThreshold < 1 {
		return errors.NewInvalidRequestError("remote.breaker.failure_threshold must be >= 1, got %d", r.Breaker.FailureThreshold)
	}
	if r.Breaker.WindowSeconds < 0 {
		return errors.NewInvalidRequestError("remote.breaker.window_seconds must be >= 0, got %d", r.Breaker.WindowSeconds)
	}
	if r.Breaker.CooldownSeconds <= 0 {
		return errors.NewInvalidRequestError("remote.breaker.cooldown_seconds must be > 0, got %d", r.Breaker.CooldownSeconds)
	}
	return nil
}
