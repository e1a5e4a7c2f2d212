// Package provider talks to the remote transcription service.
package provider

import "context"

// ProgressFunc receives a completion percentage in [0, 100].
type ProgressFunc func(percent float64)

// Phase is the provider-side state of a submitted transcription.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether the provider will not change this phase again.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Status is one poll result.
type Status struct {
	Phase   Phase
	Percent float64
	Message string
}

// SubmitOptions accompany a submission.
type SubmitOptions struct {
	Language string
	// IdempotencyKey lets the provider collapse repeated submissions of the
	// same content into one transcription. The content hash is used.
	IdempotencyKey string
	Metadata       map[string]string
}

// Provider is the remote transcription service.
type Provider interface {
	// Submit uploads the audio and starts a transcription, returning its remote id.
	Submit(ctx context.Context, audioPath string, opts SubmitOptions, progress ProgressFunc) (string, error)
	GetStatus(ctx context.Context, remoteJobID string) (Status, error)
	// DownloadResult writes the finished transcript to outPath.
	DownloadResult(ctx context.Context, remoteJobID, outPath string, progress ProgressFunc) error
	Cancel(ctx context.Context, remoteJobID string) error
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
