// Package media prepares input files for transcription: it measures silence
// and extracts a mono speech track, using ffmpeg.
package media

import "context"

// ProgressFunc receives a completion percentage in [0, 100].
type ProgressFunc func(percent float64)

// Interval is a span of the media timeline in seconds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SilenceReport summarizes silence detection for one file.
type SilenceReport struct {
	Duration float64    `json:"duration"` // seconds, 0 if unknown
	Silences []Interval `json:"silences"`
}

// SilentSeconds is the total length of all silent intervals.
func (r SilenceReport) SilentSeconds() float64 {
	var total float64
	for _, s := range r.Silences {
		if s.End > s.Start {
			total += s.End - s.Start
		}
	}
	return total
}

// SilenceRatio is the silent share of the duration, 0 when the duration is unknown.
func (r SilenceReport) SilenceRatio() float64 {
	if r.Duration <= 0 {
		return 0
	}
	ratio := r.SilentSeconds() / r.Duration
	if ratio > 1 {
		return 1
	}
	return ratio
}

// Toolkit is the media processing collaborator of the executor.
type Toolkit interface {
	DetectSilence(ctx context.Context, path string, thresholdDB, minDuration float64, progress ProgressFunc) (SilenceReport, error)
	ExtractAudio(ctx context.Context, in, out string, progress ProgressFunc) error
}

func report(progress ProgressFunc, percent float64) {
	if progress == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	progress(percent)
}
