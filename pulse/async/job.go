// Package async runs transcription jobs: the per-file Job, its phase state
// machine, the executor that walks one Job through it, and the orchestrator
// that runs many at once.
package async

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/scribe/pulse"
)

// JobState is a point-in-time copy of a Job. Observers only ever see these.
type JobState struct {
	ID              string              `json:"id"`
	FilePath        string              `json:"file_path"`
	FileName        string              `json:"file_name"`
	ContentHash     string              `json:"content_hash,omitempty"`
	Phase           Phase               `json:"phase"`
	StageProgress   pulse.StageProgress `json:"stage_progress"`
	OverallProgress float64             `json:"overall_progress"`
	AttemptCount    int                 `json:"attempt_count"`
	LastAttemptAt   *time.Time          `json:"last_attempt_at,omitempty"`
	OutputFilePath  string              `json:"output_file_path,omitempty"`
	RemoteJobID     string              `json:"remote_job_id,omitempty"`
	Verified        bool                `json:"verified"`
	Error           string              `json:"error,omitempty"`
	ErrorCode       ErrorCode           `json:"error_code,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}

// Job is one file's way through the pipeline.
//
// Phase and progress are written by the executor that owns the job, or by the
// orchestrator while no executor does. Everything else reads Snapshot.
type Job struct {
	mu    sync.RWMutex
	state JobState
}

// NewJob creates a queued job for an absolute file path.
func NewJob(path, contentHash string) *Job {
	now := time.Now()
	return &Job{state: JobState{
		ID:          uuid.NewString(),
		FilePath:    path,
		FileName:    filepath.Base(path),
		ContentHash: contentHash,
		Phase:       PhaseQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
}

// ID never changes.
func (j *Job) ID() string {
	return j.state.ID
}

// FilePath never changes.
func (j *Job) FilePath() string {
	return j.state.FilePath
}

// Phase returns the current phase.
func (j *Job) Phase() Phase {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.Phase
}

// Snapshot returns a copy of the job's state.
func (j *Job) Snapshot() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := j.state
	if s.LastAttemptAt != nil {
		t := *s.LastAttemptAt
		s.LastAttemptAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// transition moves the job to phase to, if the edge is legal.
func (j *Job) transition(to Phase, limit int) (Phase, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	from := j.state.Phase
	if err := checkTransition(from, to, j.state.AttemptCount, limit); err != nil {
		return from, err
	}

	now := time.Now()
	j.state.Phase = to
	j.state.UpdatedAt = now
	switch to {
	case PhaseQueued:
		j.state.StageProgress = pulse.StageProgress{}
		j.state.OverallProgress = 0
		j.state.Error = ""
		j.state.ErrorCode = ""
		j.state.Verified = false
		j.state.RemoteJobID = ""
	case PhaseCompleted:
		j.state.OverallProgress = 100
		j.state.Error = ""
		j.state.ErrorCode = ""
	}
	if to.Terminal() {
		j.state.CompletedAt = &now
	}
	return from, nil
}

// setStageProgress records stage progress and recomputes the overall figure.
// Progress only moves forward within an attempt.
func (j *Job) setStageProgress(stage pulse.Stage, percent float64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if pulse.Clamp(percent) <= j.state.StageProgress.Get(stage) {
		return false
	}
	j.state.StageProgress.Set(stage, percent)
	j.state.OverallProgress = j.state.StageProgress.Overall()
	j.state.UpdatedAt = time.Now()
	return true
}

func (j *Job) beginAttempt(hash, outputPath string) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.state.ContentHash = hash
	j.state.OutputFilePath = outputPath
	j.state.AttemptCount++
	j.state.LastAttemptAt = &now
	j.state.UpdatedAt = now
	return j.state.AttemptCount
}

// countAttempt charges an attempt that failed before any work was registered.
func (j *Job) countAttempt() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.state.AttemptCount++
	j.state.LastAttemptAt = &now
	j.state.UpdatedAt = now
	return j.state.AttemptCount
}

func (j *Job) setContentHash(hash string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.ContentHash = hash
	j.state.UpdatedAt = time.Now()
}

func (j *Job) setRemoteJobID(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.RemoteJobID = id
	j.state.UpdatedAt = time.Now()
}

func (j *Job) setVerified(outputPath string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.OutputFilePath = outputPath
	j.state.Verified = true
	j.state.UpdatedAt = time.Now()
}

func (j *Job) setError(ec ErrorContext) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.Error = ec.Message
	j.state.ErrorCode = ec.Code
	j.state.Verified = false
	j.state.UpdatedAt = time.Now()
}
