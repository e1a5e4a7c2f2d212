// Package am holds scribe's configuration ("I am"): the settings every
// command starts from.
package am

import "time"

// DefaultDirPermissions is used for ~/.scribe and output directories.
const DefaultDirPermissions = 0750

// Config represents the scribe configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Pipeline PipelineConfig `mapstructure:"pipeline" toml:"pipeline" json:"pipeline" yaml:"pipeline"`
	Media    MediaConfig    `mapstructure:"media" toml:"media" json:"media" yaml:"media"`
	Remote   RemoteConfig   `mapstructure:"remote" toml:"remote" json:"remote" yaml:"remote"`
	Watch    WatchConfig    `mapstructure:"watch" toml:"watch" json:"watch" yaml:"watch"`
}

// DatabaseConfig configures the SQLite database holding content records and job history
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// PipelineConfig configures job lifecycle and output placement
type PipelineConfig struct {
	MaxAttempts     int      `mapstructure:"max_attempts" toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"`                     // phase-level attempts per job before failed_permanently (default: 3)
	OutputDir       string   `mapstructure:"output_dir" toml:"output_dir" json:"output_dir" yaml:"output_dir"`                             // "" = next to the input file
	WorkDir         string   `mapstructure:"work_dir" toml:"work_dir" json:"work_dir" yaml:"work_dir"`                                     // scratch space for extracted audio, "" = os temp dir
	Extensions      []string `mapstructure:"extensions" toml:"extensions" json:"extensions" yaml:"extensions"`                             // media extensions picked up by folder scans
	Recursive       bool     `mapstructure:"recursive" toml:"recursive" json:"recursive" yaml:"recursive"`                                 // descend into subfolders
	MaxSilenceRatio float64  `mapstructure:"max_silence_ratio" toml:"max_silence_ratio" json:"max_silence_ratio" yaml:"max_silence_ratio"` // reject files at least this silent, 0 disables
	RetryPauseMS    int      `mapstructure:"retry_pause_ms" toml:"retry_pause_ms" json:"retry_pause_ms" yaml:"retry_pause_ms"`             // wait before retrying jobs that failed with attempts left, 0 = 5s
}

// MediaConfig configures the ffmpeg-based media toolkit
type MediaConfig struct {
	FFmpegPath            string  `mapstructure:"ffmpeg_path" toml:"ffmpeg_path" json:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath           string  `mapstructure:"ffprobe_path" toml:"ffprobe_path" json:"ffprobe_path" yaml:"ffprobe_path"`
	SilenceThresholdDB    float64 `mapstructure:"silence_threshold_db" toml:"silence_threshold_db" json:"silence_threshold_db" yaml:"silence_threshold_db"`
	SilenceMinDurationSec float64 `mapstructure:"silence_min_duration_sec" toml:"silence_min_duration_sec" json:"silence_min_duration_sec" yaml:"silence_min_duration_sec"`
	SampleRate            int     `mapstructure:"sample_rate" toml:"sample_rate" json:"sample_rate" yaml:"sample_rate"`
	ExtraArgs             string  `mapstructure:"extra_args" toml:"extra_args" json:"extra_args" yaml:"extra_args"` // appended to the extraction command, shell quoting rules
}

// RemoteConfig configures the transcription provider and the resilience policies around it
type RemoteConfig struct {
	BaseURL               string        `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	APIKey                string        `mapstructure:"api_key" toml:"api_key" json:"-" yaml:"-"`
	Language              string        `mapstructure:"language" toml:"language" json:"language" yaml:"language"`
	AttemptTimeoutSeconds int           `mapstructure:"attempt_timeout_seconds" toml:"attempt_timeout_seconds" json:"attempt_timeout_seconds" yaml:"attempt_timeout_seconds"`
	RequestsPerSecond     float64       `mapstructure:"requests_per_second" toml:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second"` // 0 = unlimited
	PollIntervalMS        int           `mapstructure:"poll_interval_ms" toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`
	MaxProcessingMinutes  int           `mapstructure:"max_processing_minutes" toml:"max_processing_minutes" json:"max_processing_minutes" yaml:"max_processing_minutes"`
	AllowPrivateNetworks  bool          `mapstructure:"allow_private_networks" toml:"allow_private_networks" json:"allow_private_networks" yaml:"allow_private_networks"` // self-hosted providers on localhost/LAN
	CancelRemoteOnAbort   bool          `mapstructure:"cancel_remote_on_abort" toml:"cancel_remote_on_abort" json:"cancel_remote_on_abort" yaml:"cancel_remote_on_abort"`
	Retry                 RetryConfig   `mapstructure:"retry" toml:"retry" json:"retry" yaml:"retry"`
	Breaker               BreakerConfig `mapstructure:"breaker" toml:"breaker" json:"breaker" yaml:"breaker"`
}

// RetryConfig configures the per-call retry policy
type RetryConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts" toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"` // total attempts including the first
	BaseDelayMS int     `mapstructure:"base_delay_ms" toml:"base_delay_ms" json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMS  int     `mapstructure:"max_delay_ms" toml:"max_delay_ms" json:"max_delay_ms" yaml:"max_delay_ms"`
	Exponent    float64 `mapstructure:"exponent" toml:"exponent" json:"exponent" yaml:"exponent"`
	RetryOn408  bool    `mapstructure:"retry_on_408" toml:"retry_on_408" json:"retry_on_408" yaml:"retry_on_408"`
}

// BreakerConfig configures the circuit breaker shared by all calls to one provider
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold" toml:"failure_threshold" json:"failure_threshold" yaml:"failure_threshold"`
	WindowSeconds    int `mapstructure:"window_seconds" toml:"window_seconds" json:"window_seconds" yaml:"window_seconds"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds" toml:"cooldown_seconds" json:"cooldown_seconds" yaml:"cooldown_seconds"`
}

// WatchConfig configures `scribe watch`
type WatchConfig struct {
	DebounceMS int `mapstructure:"debounce_ms" toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// AttemptTimeout returns the per-attempt timeout as a duration
func (r RemoteConfig) AttemptTimeout() time.Duration {
	return time.Duration(r.AttemptTimeoutSeconds) * time.Second
}

// PollInterval returns the status poll interval as a duration
func (r RemoteConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

// MaxProcessing returns how long a submitted job may stay unfinished
func (r RemoteConfig) MaxProcessing() time.Duration {
	return time.Duration(r.MaxProcessingMinutes) * time.Minute
}

// RetryPause returns the wait between processing passes as a duration
func (p PipelineConfig) RetryPause() time.Duration {
	return time.Duration(p.RetryPauseMS) * time.Millisecond
}

// Debounce returns the watch debounce period as a duration
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMS) * time.Millisecond
}
