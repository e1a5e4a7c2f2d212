package async

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/identity"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/media"
	"github.com/teranos/scribe/provider"
	"github.com/teranos/scribe/pulse"
)

// Stage names used in error contexts that are not weighted progress stages.
const (
	stageIdentity = "identity"
	stageVerify   = "verify"
	stageExecutor = "executor"
)

// cleanupTimeout bounds record updates and remote cancels made after the
// job's own context is gone.
const cleanupTimeout = 10 * time.Second

// ContentIdentity is what the executor needs from the identity service.
type ContentIdentity interface {
	Hash(path string) (string, error)
	IsAlreadyProcessed(ctx context.Context, path, hash string) (bool, error)
	ExpectedOutputPath(path string) string
	Register(ctx context.Context, path, hash, remoteJobID, outputPath string, status identity.RecordStatus) error
	UpdateStatus(ctx context.Context, hash, remoteJobID string, status identity.RecordStatus, verified bool) error
	VerifyOutput(outputPath string) error
	Lookup(ctx context.Context, hash string) (*identity.Record, error)
}

// ExecutorConfig holds the knobs of one job run.
type ExecutorConfig struct {
	MaxAttempts         int
	WorkDir             string // "" = os.TempDir()
	SilenceThresholdDB  float64
	SilenceMinDuration  float64
	MaxSilenceRatio     float64 // 0 disables rejection of silent media
	Language            string
	PollInterval        time.Duration
	MaxProcessing       time.Duration
	CancelRemoteOnAbort bool
}

// ExecutorConfigFromConfig builds an ExecutorConfig from the loaded configuration.
func ExecutorConfigFromConfig(cfg *am.Config) ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts:         cfg.Pipeline.MaxAttempts,
		WorkDir:             cfg.Pipeline.WorkDir,
		SilenceThresholdDB:  cfg.Media.SilenceThresholdDB,
		SilenceMinDuration:  cfg.Media.SilenceMinDurationSec,
		MaxSilenceRatio:     cfg.Pipeline.MaxSilenceRatio,
		Language:            cfg.Remote.Language,
		PollInterval:        cfg.Remote.PollInterval(),
		MaxProcessing:       cfg.Remote.MaxProcessing(),
		CancelRemoteOnAbort: cfg.Remote.CancelRemoteOnAbort,
	}
}

func (c ExecutorConfig) limit() int {
	if c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

// Executor walks one job at a time through the phase state machine. It is
// safe for concurrent use by one goroutine per job.
type Executor struct {
	identity ContentIdentity
	media    media.Toolkit
	provider provider.Provider
	cfg      ExecutorConfig
	emitter  *JobEmitter
	log      *zap.SugaredLogger
}

// NewExecutor creates an executor. emitter may be nil.
func NewExecutor(ident ContentIdentity, toolkit media.Toolkit, prov provider.Provider, cfg ExecutorConfig, emitter *JobEmitter, log *zap.SugaredLogger) *Executor {
	if emitter == nil {
		emitter = NewJobEmitter(nil, log)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Executor{
		identity: ident,
		media:    toolkit,
		provider: prov,
		cfg:      cfg,
		emitter:  emitter,
		log:      logger.OrNop(log).Named("executor"),
	}
}

// attempt tracks what one run has set up so far.
type attempt struct {
	hash        string
	outputPath  string
	remoteJobID string
	registered  bool
	counted     bool
}

// Execute runs job until it completes, fails or is cancelled. Nothing it
// does escapes as an error or panic; the outcome is in the job's phase.
func (e *Executor) Execute(ctx context.Context, job *Job) {
	log := e.log.With(logger.FieldJobID, job.ID(), logger.FieldFile, job.FilePath())
	run := &attempt{}

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Executor panic", "panic", r)
			if !job.Phase().Terminal() {
				e.fail(ctx, job, run, stageExecutor, errors.Mark(errors.Newf("panic: %v", r), errPanic), log)
			}
		}
	}()

	switch p := job.Phase(); p {
	case PhaseQueued:
	case PhaseFailed:
		if err := e.transition(job, PhaseQueued); err != nil {
			log.Warnw("Job cannot be retried", logger.FieldError, err)
			e.transition(job, PhaseFailedPermanently)
			return
		}
	default:
		log.Warnw("Job is not runnable", logger.FieldPhase, p)
		return
	}

	stage, err := e.run(ctx, job, run, log)
	switch {
	case err == nil:
		return
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		e.cancel(ctx, job, run, log)
	default:
		e.fail(ctx, job, run, stage, err, log)
	}
}

func (e *Executor) run(ctx context.Context, job *Job, run *attempt, log *zap.SugaredLogger) (string, error) {
	if err := ctx.Err(); err != nil {
		return stageIdentity, err
	}

	hash, err := e.identity.Hash(job.FilePath())
	if err != nil {
		return stageIdentity, err
	}
	run.hash = hash
	job.setContentHash(hash)

	done, err := e.identity.IsAlreadyProcessed(ctx, job.FilePath(), hash)
	if err != nil {
		return stageIdentity, err
	}
	if err := ctx.Err(); err != nil {
		return stageIdentity, err
	}
	if done {
		out := e.identity.ExpectedOutputPath(job.FilePath())
		if rec, err := e.identity.Lookup(ctx, hash); err == nil && rec.OutputPath != "" {
			out = rec.OutputPath
		}
		job.setVerified(out)
		log.Infow("Already transcribed, skipping", logger.FieldContentHash, identity.ShortID(hash), logger.FieldOutput, out)
		return "", e.transition(job, PhaseCompleted)
	}

	run.outputPath = e.identity.ExpectedOutputPath(job.FilePath())
	n := job.beginAttempt(hash, run.outputPath)
	run.counted = true
	log = log.With(logger.FieldAttempt, n, logger.FieldContentHash, identity.ShortID(hash))
	if err := e.identity.Register(ctx, job.FilePath(), hash, "", run.outputPath, identity.StatusPending); err != nil {
		return stageIdentity, err
	}
	run.registered = true

	audio, cleanup, err := e.prepareAudio(ctx, job, log)
	defer cleanup()
	if err != nil {
		return string(job.Phase().Stage()), err
	}

	if err := e.submit(ctx, job, run, audio); err != nil {
		return string(pulse.StageUpload), err
	}
	log = log.With(logger.FieldRemoteJobID, run.remoteJobID)

	if err := e.awaitTranscript(ctx, job, run, log); err != nil {
		return string(pulse.StageTranscribe), err
	}

	if err := e.transition(job, PhaseDownloading); err != nil {
		return string(pulse.StageDownload), err
	}
	if err := e.provider.DownloadResult(ctx, run.remoteJobID, run.outputPath, e.progress(job, pulse.StageDownload)); err != nil {
		return string(pulse.StageDownload), err
	}
	e.setProgress(job, pulse.StageDownload, 100)
	if err := ctx.Err(); err != nil {
		return string(pulse.StageDownload), err
	}

	if err := e.identity.VerifyOutput(run.outputPath); err != nil {
		return stageVerify, err
	}
	if err := e.identity.UpdateStatus(ctx, hash, run.remoteJobID, identity.StatusCompleted, true); err != nil {
		return stageVerify, err
	}
	job.setVerified(run.outputPath)
	if err := e.transition(job, PhaseCompleted); err != nil {
		return stageVerify, err
	}
	log.Infow("Transcript verified", logger.FieldOutput, run.outputPath)
	return "", nil
}

// prepareAudio runs silence detection and audio extraction. The returned
// cleanup removes the per-attempt scratch directory and is always non-nil.
func (e *Executor) prepareAudio(ctx context.Context, job *Job, log *zap.SugaredLogger) (string, func(), error) {
	noop := func() {}

	if err := e.transition(job, PhaseSilenceDetection); err != nil {
		return "", noop, err
	}
	report, err := e.media.DetectSilence(ctx, job.FilePath(), e.cfg.SilenceThresholdDB, e.cfg.SilenceMinDuration,
		e.progress(job, pulse.StageSilenceDetection))
	if err != nil {
		return "", noop, err
	}
	e.setProgress(job, pulse.StageSilenceDetection, 100)
	if err := ctx.Err(); err != nil {
		return "", noop, err
	}

	ratio := report.SilenceRatio()
	log.Debugw("Silence detected", "silence_ratio", ratio, "duration_sec", report.Duration)
	if e.cfg.MaxSilenceRatio > 0 && ratio >= e.cfg.MaxSilenceRatio {
		err := errors.NewInputError("no audible speech: %.0f%% of %.1fs is silent", ratio*100, report.Duration)
		return "", noop, errors.WithHintf(err, "lower pipeline.max_silence_ratio or media.silence_threshold_db to process it anyway")
	}

	if err := e.transition(job, PhaseAudioExtraction); err != nil {
		return "", noop, err
	}
	dir, err := os.MkdirTemp(e.cfg.WorkDir, "scribe-"+job.ID()+"-")
	if err != nil {
		return "", noop, errors.Mark(errors.Wrap(err, "failed to create work directory"), errors.ErrIO)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warnw("Failed to remove work directory", logger.FieldPath, dir, logger.FieldError, err)
		}
	}

	audio := filepath.Join(dir, "audio.wav")
	if err := e.media.ExtractAudio(ctx, job.FilePath(), audio, e.progress(job, pulse.StageAudioExtraction)); err != nil {
		return "", cleanup, err
	}
	e.setProgress(job, pulse.StageAudioExtraction, 100)
	return audio, cleanup, ctx.Err()
}

func (e *Executor) submit(ctx context.Context, job *Job, run *attempt, audio string) error {
	if err := e.transition(job, PhaseUploading); err != nil {
		return err
	}
	st := job.Snapshot()
	opts := provider.SubmitOptions{
		Language:       e.cfg.Language,
		IdempotencyKey: run.hash,
		Metadata: map[string]string{
			"file_name": st.FileName,
			"job_id":    st.ID,
		},
	}
	id, err := e.provider.Submit(ctx, audio, opts, e.progress(job, pulse.StageUpload))
	if err != nil {
		return err
	}
	run.remoteJobID = id
	job.setRemoteJobID(id)
	e.setProgress(job, pulse.StageUpload, 100)

	if err := e.identity.UpdateStatus(ctx, run.hash, id, identity.StatusSubmitted, false); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.transition(job, PhaseSubmitted)
}

// awaitTranscript polls the provider until the transcription is done.
func (e *Executor) awaitTranscript(ctx context.Context, job *Job, run *attempt, log *zap.SugaredLogger) error {
	started := time.Now()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		st, err := e.provider.GetStatus(ctx, run.remoteJobID)
		if err != nil {
			return err
		}

		if st.Phase != provider.PhaseQueued && job.Phase() == PhaseSubmitted {
			if err := e.transition(job, PhaseProcessing); err != nil {
				return err
			}
			if err := e.identity.UpdateStatus(ctx, run.hash, run.remoteJobID, identity.StatusProcessing, false); err != nil {
				return err
			}
		}
		e.setProgress(job, pulse.StageTranscribe, st.Percent)

		switch st.Phase {
		case provider.PhaseCompleted:
			e.setProgress(job, pulse.StageTranscribe, 100)
			return nil
		case provider.PhaseFailed:
			err := errors.Mark(errors.Newf("provider failed transcription %s: %s", run.remoteJobID, st.Message), errors.ErrTransientRemote)
			return err
		case provider.PhaseCancelled:
			return errors.Mark(errors.Newf("transcription %s was cancelled by the provider", run.remoteJobID), errors.ErrProviderRejection)
		}

		if e.cfg.MaxProcessing > 0 && time.Since(started) >= e.cfg.MaxProcessing {
			err := errors.Newf("transcription %s unfinished after %s", run.remoteJobID, e.cfg.MaxProcessing)
			return errors.Mark(err, errors.ErrTransientRemote)
		}

		log.Debugw("Waiting for transcript", logger.FieldStatus, st.Phase, "percent", st.Percent)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) fail(ctx context.Context, job *Job, run *attempt, stage string, err error, log *zap.SugaredLogger) {
	ec := ClassifyError(stage, err)
	job.setError(ec)
	if !run.counted {
		// failed before the attempt began; it still uses up the budget
		job.countAttempt()
		run.counted = true
	}

	log.Warnw("Job attempt failed",
		logger.FieldStage, ec.Stage,
		logger.FieldErrorCode, ec.Code,
		logger.FieldError, err,
		"retryable", ec.Retryable,
	)

	if run.registered {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		if uerr := e.identity.UpdateStatus(cctx, run.hash, run.remoteJobID, identity.StatusFailed, false); uerr != nil {
			log.Warnw("Failed to record failure", logger.FieldError, uerr)
		}
		cancel()
	}

	if terr := e.transition(job, PhaseFailed); terr != nil {
		log.Errorw("Failed to mark job failed", logger.FieldError, terr)
		return
	}
	if !ec.Retryable || job.Snapshot().AttemptCount >= e.cfg.limit() {
		e.transition(job, PhaseFailedPermanently)
	}
}

func (e *Executor) cancel(ctx context.Context, job *Job, run *attempt, log *zap.SugaredLogger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if run.registered {
		if err := e.identity.UpdateStatus(cctx, run.hash, run.remoteJobID, identity.StatusCancelled, false); err != nil {
			log.Warnw("Failed to record cancellation", logger.FieldError, err)
		}
	}
	if e.cfg.CancelRemoteOnAbort && run.remoteJobID != "" {
		if err := e.provider.Cancel(cctx, run.remoteJobID); err != nil {
			log.Warnw("Failed to cancel remote transcription",
				logger.FieldRemoteJobID, run.remoteJobID,
				logger.FieldError, err,
			)
		}
	}

	if err := e.transition(job, PhaseCancelled); err != nil {
		log.Errorw("Failed to mark job cancelled", logger.FieldError, err)
		return
	}
	log.Infow("Job cancelled")
}

func (e *Executor) transition(job *Job, to Phase) error {
	from, err := e.move(job, to)
	if err != nil {
		return err
	}
	e.emitter.EmitPhase(job.Snapshot(), from)
	return nil
}

// move changes the phase without announcing it. Callers holding a lock
// announce after releasing it.
func (e *Executor) move(job *Job, to Phase) (Phase, error) {
	from, err := job.transition(to, e.cfg.limit())
	if err != nil {
		return from, errors.WithDetailf(err, "Job ID: %s", job.ID())
	}
	e.log.Debugw("Phase changed", logger.FieldJobID, job.ID(), "from", from, logger.FieldPhase, to)
	return from, nil
}

func (e *Executor) setProgress(job *Job, stage pulse.Stage, percent float64) {
	if job.setStageProgress(stage, percent) {
		e.emitter.EmitProgress(job.Snapshot(), stage)
	}
}

func (e *Executor) progress(job *Job, stage pulse.Stage) func(float64) {
	return func(percent float64) {
		e.setProgress(job, stage, percent)
	}
}
