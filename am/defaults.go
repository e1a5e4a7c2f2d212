package am

import (
	"github.com/spf13/viper"
)

// DefaultExtensions are the media types folder scans pick up.
var DefaultExtensions = []string{
	".mp3", ".wav", ".m4a", ".aac", ".flac", ".ogg", ".opus",
	".mp4", ".mov", ".mkv", ".webm", ".avi",
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "scribe.db")

	// Pipeline defaults
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.output_dir", "")
	v.SetDefault("pipeline.work_dir", "")
	v.SetDefault("pipeline.extensions", DefaultExtensions)
	v.SetDefault("pipeline.recursive", true)
	v.SetDefault("pipeline.max_silence_ratio", 0.98)
	v.SetDefault("pipeline.retry_pause_ms", 5000)

	// Media toolkit defaults
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.silence_threshold_db", -35.0)
	v.SetDefault("media.silence_min_duration_sec", 2.0)
	v.SetDefault("media.sample_rate", 16000)
	v.SetDefault("media.extra_args", "")

	// Remote provider defaults
	v.SetDefault("remote.base_url", "https://api.transcribe.example.com")
	v.SetDefault("remote.language", "auto")
	v.SetDefault("remote.attempt_timeout_seconds", 60)
	v.SetDefault("remote.requests_per_second", 0.0)
	v.SetDefault("remote.poll_interval_ms", 5000)
	v.SetDefault("remote.max_processing_minutes", 120)
	v.SetDefault("remote.allow_private_networks", false)
	v.SetDefault("remote.cancel_remote_on_abort", false)

	v.SetDefault("remote.retry.max_attempts", 4)
	v.SetDefault("remote.retry.base_delay_ms", 1000)
	v.SetDefault("remote.retry.max_delay_ms", 30000)
	v.SetDefault("remote.retry.exponent", 2.0)
	v.SetDefault("remote.retry.retry_on_408", true)

	v.SetDefault("remote.breaker.failure_threshold", 5)
	v.SetDefault("remote.breaker.window_seconds", 60)
	v.SetDefault("remote.breaker.cooldown_seconds", 30)

	// Watch defaults
	v.SetDefault("watch.debounce_ms", 2000)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("remote.api_key", "SCRIBE_REMOTE_API_KEY", "SCRIBE_API_KEY")
}

func newDefaultsViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}
