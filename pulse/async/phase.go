package async

import (
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/pulse"
)

// Phase is where a job is in its transcription.
type Phase string

const (
	PhaseQueued            Phase = "queued"
	PhaseSilenceDetection  Phase = "silence_detection"
	PhaseAudioExtraction   Phase = "audio_extraction"
	PhaseUploading         Phase = "uploading"
	PhaseSubmitted         Phase = "submitted"
	PhaseProcessing        Phase = "processing"
	PhaseDownloading       Phase = "downloading"
	PhaseCompleted         Phase = "completed"
	PhaseFailed            Phase = "failed"
	PhaseFailedPermanently Phase = "failed_permanently"
	PhaseCancelled         Phase = "cancelled"
)

// DefaultMaxAttempts bounds failed → queued when no limit is configured.
const DefaultMaxAttempts = 3

// ErrIllegalTransition is returned for any edge missing from the transition table.
var ErrIllegalTransition = errors.New("illegal phase transition")

// Phases lists every phase, normal path first.
var Phases = []Phase{
	PhaseQueued,
	PhaseSilenceDetection,
	PhaseAudioExtraction,
	PhaseUploading,
	PhaseSubmitted,
	PhaseProcessing,
	PhaseDownloading,
	PhaseCompleted,
	PhaseFailed,
	PhaseFailedPermanently,
	PhaseCancelled,
}

// forward is the normal path. Failure and cancellation edges are added for
// every non-terminal phase in CanTransition.
var forward = map[Phase][]Phase{
	PhaseQueued:           {PhaseSilenceDetection, PhaseCompleted},
	PhaseSilenceDetection: {PhaseAudioExtraction},
	PhaseAudioExtraction:  {PhaseUploading},
	PhaseUploading:        {PhaseSubmitted},
	PhaseSubmitted:        {PhaseProcessing},
	PhaseProcessing:       {PhaseDownloading},
	PhaseDownloading:      {PhaseCompleted},
	PhaseFailed:           {PhaseQueued, PhaseFailedPermanently},
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// Terminal phases never change again.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailedPermanently || p == PhaseCancelled
}

// Working phases are the ones only an executor may be in.
func (p Phase) Working() bool {
	switch p {
	case PhaseSilenceDetection, PhaseAudioExtraction, PhaseUploading,
		PhaseSubmitted, PhaseProcessing, PhaseDownloading:
		return true
	}
	return false
}

// Stage is the weighted progress stage reported while in p, "" outside working phases.
func (p Phase) Stage() pulse.Stage {
	switch p {
	case PhaseSilenceDetection:
		return pulse.StageSilenceDetection
	case PhaseAudioExtraction:
		return pulse.StageAudioExtraction
	case PhaseUploading:
		return pulse.StageUpload
	case PhaseSubmitted, PhaseProcessing:
		return pulse.StageTranscribe
	case PhaseDownloading:
		return pulse.StageDownload
	}
	return ""
}

// CanTransition reports whether from → to is legal for a job that has
// already made attempts attempts out of limit.
func CanTransition(from, to Phase, attempts, limit int) bool {
	if !from.Valid() || !to.Valid() || from == to || from.Terminal() {
		return false
	}
	if to == PhaseFailed || to == PhaseCancelled {
		return true
	}
	if from == PhaseFailed && to == PhaseQueued {
		if limit <= 0 {
			limit = DefaultMaxAttempts
		}
		return attempts < limit
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Phase, attempts, limit int) error {
	if CanTransition(from, to, attempts, limit) {
		return nil
	}
	err := errors.Mark(errors.Newf("cannot move from %s to %s", from, to), ErrIllegalTransition)
	if from == PhaseFailed && to == PhaseQueued {
		err = errors.WithDetailf(err, "attempts: %d of %d", attempts, limit)
	}
	return err
}
