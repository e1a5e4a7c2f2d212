// Package pulse holds the pieces of job progress that do not depend on how
// jobs are run: the processing stages and how they add up to one number.
package pulse

import "math"

// Stage is one weighted step of a transcription.
type Stage string

const (
	StageSilenceDetection Stage = "silence_detection"
	StageAudioExtraction  Stage = "audio_extraction"
	StageUpload           Stage = "upload"
	StageTranscribe       Stage = "transcribe"
	StageDownload         Stage = "download"
)

// Stages lists the weighted stages in execution order.
var Stages = []Stage{
	StageSilenceDetection,
	StageAudioExtraction,
	StageUpload,
	StageTranscribe,
	StageDownload,
}

// Weights are the share of overall progress each stage contributes. They sum to 1.
var Weights = map[Stage]float64{
	StageSilenceDetection: 0.05,
	StageAudioExtraction:  0.15,
	StageUpload:           0.20,
	StageTranscribe:       0.50,
	StageDownload:         0.10,
}

// StageProgress holds per-stage completion percentages in [0, 100].
type StageProgress struct {
	SilenceDetection float64 `json:"silence_detection"`
	AudioExtraction  float64 `json:"audio_extraction"`
	Upload           float64 `json:"upload"`
	Transcribe       float64 `json:"transcribe"`
	Download         float64 `json:"download"`
}

// Get returns the percentage recorded for stage.
func (p StageProgress) Get(stage Stage) float64 {
	switch stage {
	case StageSilenceDetection:
		return p.SilenceDetection
	case StageAudioExtraction:
		return p.AudioExtraction
	case StageUpload:
		return p.Upload
	case StageTranscribe:
		return p.Transcribe
	case StageDownload:
		return p.Download
	}
	return 0
}

// Set records percent for stage, clamped to [0, 100]. Unknown stages are ignored.
func (p *StageProgress) Set(stage Stage, percent float64) {
	percent = Clamp(percent)
	switch stage {
	case StageSilenceDetection:
		p.SilenceDetection = percent
	case StageAudioExtraction:
		p.AudioExtraction = percent
	case StageUpload:
		p.Upload = percent
	case StageTranscribe:
		p.Transcribe = percent
	case StageDownload:
		p.Download = percent
	}
}

// Overall is the weighted sum of all stages, in [0, 100].
func (p StageProgress) Overall() float64 {
	var total float64
	for _, s := range Stages {
		total += Weights[s] * p.Get(s)
	}
	return Clamp(total)
}

// Clamp limits percent to [0, 100]. NaN counts as 0.
func Clamp(percent float64) float64 {
	if math.IsNaN(percent) || percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
