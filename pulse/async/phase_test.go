package async

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/pulse"
)

// legalEdges lists every allowed edge with attempts below the limit.
var legalEdges = map[Phase][]Phase{
	PhaseQueued:           {PhaseSilenceDetection, PhaseCompleted, PhaseFailed, PhaseCancelled},
	PhaseSilenceDetection: {PhaseAudioExtraction, PhaseFailed, PhaseCancelled},
	PhaseAudioExtraction:  {PhaseUploading, PhaseFailed, PhaseCancelled},
	PhaseUploading:        {PhaseSubmitted, PhaseFailed, PhaseCancelled},
	PhaseSubmitted:        {PhaseProcessing, PhaseFailed, PhaseCancelled},
	PhaseProcessing:       {PhaseDownloading, PhaseFailed, PhaseCancelled},
	PhaseDownloading:      {PhaseCompleted, PhaseFailed, PhaseCancelled},
	PhaseFailed:           {PhaseQueued, PhaseFailedPermanently, PhaseCancelled},
}

func TestCanTransition_OnlyLegalEdges(t *testing.T) {
	for _, from := range Phases {
		allowed := map[Phase]bool{}
		for _, to := range legalEdges[from] {
			allowed[to] = true
		}
		for _, to := range Phases {
			assert.Equal(t, allowed[to], CanTransition(from, to, 0, 3), "%s → %s", from, to)
		}
	}
}

func TestCanTransition_RetryBoundedByAttempts(t *testing.T) {
	assert.True(t, CanTransition(PhaseFailed, PhaseQueued, 2, 3))
	assert.False(t, CanTransition(PhaseFailed, PhaseQueued, 3, 3))
	assert.False(t, CanTransition(PhaseFailed, PhaseQueued, 4, 3))
	assert.True(t, CanTransition(PhaseFailed, PhaseFailedPermanently, 3, 3))

	// zero limit falls back to the default
	assert.True(t, CanTransition(PhaseFailed, PhaseQueued, DefaultMaxAttempts-1, 0))
	assert.False(t, CanTransition(PhaseFailed, PhaseQueued, DefaultMaxAttempts, 0))
}

func TestCanTransition_UnknownPhases(t *testing.T) {
	assert.False(t, CanTransition(Phase("warming_up"), PhaseQueued, 0, 3))
	assert.False(t, CanTransition(PhaseQueued, Phase("warming_up"), 0, 3))
}

func TestPhaseClassification(t *testing.T) {
	terminal := []Phase{PhaseCompleted, PhaseFailedPermanently, PhaseCancelled}
	for _, p := range Phases {
		assert.Equal(t, contains(terminal, p), p.Terminal(), p)
	}

	assert.True(t, PhaseUploading.Working())
	assert.False(t, PhaseQueued.Working())
	assert.False(t, PhaseFailed.Working())

	assert.Equal(t, pulse.StageUpload, PhaseUploading.Stage())
	assert.Equal(t, pulse.StageTranscribe, PhaseSubmitted.Stage())
	assert.Equal(t, pulse.StageTranscribe, PhaseProcessing.Stage())
	assert.Equal(t, pulse.Stage(""), PhaseQueued.Stage())
}

func TestCheckTransition_Error(t *testing.T) {
	err := checkTransition(PhaseCompleted, PhaseQueued, 0, 3)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Contains(t, err.Error(), "completed to queued")

	err = checkTransition(PhaseFailed, PhaseQueued, 3, 3)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Contains(t, errors.FlattenDetails(err), "attempts: 3 of 3")
}

func contains(phases []Phase, p Phase) bool {
	for _, x := range phases {
		if x == p {
			return true
		}
	}
	return false
}
