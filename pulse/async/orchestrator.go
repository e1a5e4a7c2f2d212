package async

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/ixgest/folder"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/media"
	"github.com/teranos/scribe/provider"
	"github.com/teranos/scribe/sym"
)

var (
	// ErrDuplicate marks a file that was not added because its path or its
	// content is already queued, running or transcribed.
	ErrDuplicate = errors.New("duplicate")

	// ErrAlreadyProcessing is returned by ProcessAll while a run is in progress.
	ErrAlreadyProcessing = errors.New("already processing")
)

// pulseLogger wraps zap.SugaredLogger with lifecycle methods for processing runs.
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Infow(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Infow(sym.PulseClose+" "+msg, keysAndValues...)
}

// Pulse logs a general orchestrator event
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(sym.Pulse+" "+msg, keysAndValues...)
}

// Dependencies are the collaborators an orchestrator drives.
type Dependencies struct {
	Identity ContentIdentity
	Media    media.Toolkit
	Provider provider.Provider
	History  *HistoryStore // optional
}

// DefaultRetryPause separates Drain passes when none is configured.
const DefaultRetryPause = 5 * time.Second

// OrchestratorConfig configures an orchestrator.
type OrchestratorConfig struct {
	Executor   ExecutorConfig
	Extensions []string
	RetryPause time.Duration // wait between Drain passes
}

// OrchestratorConfigFromConfig builds an OrchestratorConfig from the loaded configuration.
func OrchestratorConfigFromConfig(cfg *am.Config) OrchestratorConfig {
	return OrchestratorConfig{
		Executor:   ExecutorConfigFromConfig(cfg),
		Extensions: cfg.Pipeline.Extensions,
		RetryPause: cfg.Pipeline.RetryPause(),
	}
}

// notice is an event decided under o.mu and emitted once it is released,
// so a slow history write never holds up the queue.
type notice struct {
	state   JobState
	from    Phase
	removed bool
}

func (o *Orchestrator) announce(notices ...notice) {
	for _, n := range notices {
		if n.removed {
			o.emitter.EmitRemoved(n.state)
			continue
		}
		o.emitter.EmitPhase(n.state, n.from)
	}
}

// AddSummary reports the outcome of adding a folder.
type AddSummary struct {
	Added   []JobState    `json:"added"`
	Skipped []SkippedFile `json:"skipped"`
}

// SkippedFile is a path that was not added, and why.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// QueueStats counts visible jobs.
type QueueStats struct {
	Total   int           `json:"total"`
	Active  int           `json:"active"`
	ByPhase map[Phase]int `json:"by_phase"`
}

// Orchestrator owns the visible jobs and runs them, one goroutine per job.
type Orchestrator struct {
	mu           sync.Mutex // guards queue, handles, removeOnExit, processing
	queue        *Queue
	handles      map[string]context.CancelFunc
	removeOnExit map[string]struct{}
	processing   bool

	identity ContentIdentity
	executor *Executor
	emitter  *JobEmitter
	cfg      OrchestratorConfig
	logger   pulseLogger
}

// NewOrchestrator creates an orchestrator with an empty queue.
func NewOrchestrator(deps Dependencies, cfg OrchestratorConfig, log *zap.SugaredLogger) *Orchestrator {
	log = logger.OrNop(log)
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = am.DefaultExtensions
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = DefaultRetryPause
	}
	emitter := NewJobEmitter(deps.History, log.Named("events"))
	return &Orchestrator{
		queue:        NewQueue(),
		handles:      make(map[string]context.CancelFunc),
		removeOnExit: make(map[string]struct{}),
		identity:     deps.Identity,
		executor:     NewExecutor(deps.Identity, deps.Media, deps.Provider, cfg.Executor, emitter, log),
		emitter:      emitter,
		cfg:          cfg,
		logger:       pulseLogger{log.Named("pulse")},
	}
}

func duplicate(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrDuplicate)
}

// AddFile queues one file. Files whose path is already visible, whose content
// is already transcribed, or whose content another live job carries are
// rejected with an error marked ErrDuplicate.
func (o *Orchestrator) AddFile(ctx context.Context, path string) (JobState, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return JobState{}, errors.Wrapf(err, "failed to resolve %s", path)
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return JobState{}, errors.NewInputError("file does not exist: %s", abs)
	}
	if err != nil {
		return JobState{}, errors.Mark(errors.Wrapf(err, "failed to stat %s", abs), errors.ErrIO)
	}
	if !info.Mode().IsRegular() {
		return JobState{}, errors.NewInputError("not a regular file: %s", abs)
	}

	o.mu.Lock()
	existing := o.queue.FindByPath(abs)
	o.mu.Unlock()
	if existing != nil {
		return JobState{}, duplicate("already queued as job %s", existing.ID())
	}

	hash, err := o.freshHash(ctx, abs)
	if err != nil {
		return JobState{}, err
	}

	o.mu.Lock()
	if existing := o.queue.FindByPath(abs); existing != nil {
		o.mu.Unlock()
		return JobState{}, duplicate("already queued as job %s", existing.ID())
	}
	if other := o.queue.FindByHash(hash); other != nil {
		o.mu.Unlock()
		return JobState{}, duplicate("same content as %s (job %s)", other.FilePath(), other.ID())
	}
	if o.queue.Len() >= MaxJobsLimit {
		o.mu.Unlock()
		return JobState{}, errors.NewInvalidRequestError("queue is full (%d jobs)", MaxJobsLimit)
	}
	job := NewJob(abs, hash)
	o.queue.Add(job)
	st := job.Snapshot()
	o.mu.Unlock()

	o.announce(notice{state: st})
	o.logger.Debugw("Job queued", logger.FieldJobID, st.ID, logger.FieldFile, abs)
	return st, nil
}

// freshHash hashes path and rejects content that is already transcribed.
func (o *Orchestrator) freshHash(ctx context.Context, path string) (string, error) {
	hash, err := o.identity.Hash(path)
	if err != nil {
		return "", err
	}
	done, err := o.identity.IsAlreadyProcessed(ctx, path, hash)
	if err != nil {
		return "", err
	}
	if done {
		return "", duplicate("already transcribed")
	}
	return hash, nil
}

// AddFolder queues every media file under dir.
func (o *Orchestrator) AddFolder(ctx context.Context, dir string, recursive bool) (AddSummary, error) {
	var summary AddSummary
	files, err := folder.Scan(dir, o.cfg.Extensions, recursive)
	if err != nil {
		return summary, err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		st, err := o.AddFile(ctx, f)
		if err != nil {
			summary.Skipped = append(summary.Skipped, SkippedFile{Path: f, Reason: err.Error()})
			continue
		}
		summary.Added = append(summary.Added, st)
	}
	o.logger.Pulse("Folder added",
		logger.FieldPath, dir,
		"added", len(summary.Added),
		"skipped", len(summary.Skipped),
	)
	return summary, nil
}

// eligible reports whether job may be launched. Caller holds o.mu.
func (o *Orchestrator) eligible(job *Job) bool {
	if _, active := o.handles[job.ID()]; active {
		return false
	}
	st := job.Snapshot()
	switch st.Phase {
	case PhaseQueued:
		return true
	case PhaseFailed:
		return st.AttemptCount < o.executor.cfg.limit()
	}
	return false
}

// ProcessAll runs every eligible job concurrently and returns when all of
// them have finished. Jobs added meanwhile wait for the next call.
func (o *Orchestrator) ProcessAll(ctx context.Context) error {
	o.mu.Lock()
	if o.processing {
		o.mu.Unlock()
		return ErrAlreadyProcessing
	}
	o.processing = true

	var launch []*Job
	for _, job := range o.queue.All() {
		if o.eligible(job) {
			launch = append(launch, job)
		}
	}

	if len(launch) > 1 {
		if warning := checkMemoryPressure(len(launch)); warning != "" {
			o.logger.Warnw("Memory pressure warning", "warning", warning, logger.FieldCount, len(launch))
		}
	}
	o.logger.Starting("Processing run", logger.FieldCount, len(launch))

	var wg conc.WaitGroup
	for _, job := range launch {
		jctx, cancel := context.WithCancel(logger.WithJobID(ctx, job.ID()))
		o.handles[job.ID()] = cancel
		job := job
		wg.Go(func() {
			o.runJob(jctx, job, cancel)
		})
	}
	o.mu.Unlock()

	wg.Wait()

	o.mu.Lock()
	o.processing = false
	stats := o.statsLocked()
	o.mu.Unlock()

	o.logger.Closing("Processing run finished",
		logger.FieldCount, len(launch),
		"completed", stats.ByPhase[PhaseCompleted],
		"failed", stats.ByPhase[PhaseFailed]+stats.ByPhase[PhaseFailedPermanently],
		"cancelled", stats.ByPhase[PhaseCancelled],
	)
	return nil
}

// Drain calls ProcessAll until no job is eligible, pausing RetryPause
// between passes. Jobs that failed with attempts left are retried in place;
// jobs added meanwhile join the next pass. It returns early when ctx ends.
func (o *Orchestrator) Drain(ctx context.Context) error {
	for pass := 1; ; pass++ {
		if err := o.ProcessAll(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		waiting := o.pendingCount()
		if waiting == 0 {
			return nil
		}
		o.logger.Pulse("Retrying jobs after pause",
			logger.FieldCount, waiting,
			"pass", pass+1,
			"pause", o.cfg.RetryPause,
		)
		timer := time.NewTimer(o.cfg.RetryPause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// pendingCount is how many jobs the next ProcessAll would launch.
func (o *Orchestrator) pendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, job := range o.queue.All() {
		if o.eligible(job) {
			n++
		}
	}
	return n
}

func (o *Orchestrator) runJob(ctx context.Context, job *Job, cancel context.CancelFunc) {
	defer func() {
		cancel()
		var removed []notice
		o.mu.Lock()
		delete(o.handles, job.ID())
		if _, ok := o.removeOnExit[job.ID()]; ok {
			delete(o.removeOnExit, job.ID())
			o.queue.Remove(job.ID())
			removed = append(removed, notice{state: job.Snapshot(), removed: true})
		}
		o.mu.Unlock()
		o.announce(removed...)
	}()

	var pc panics.Catcher
	pc.Try(func() { o.executor.Execute(ctx, job) })
	if r := pc.Recovered(); r != nil {
		o.logger.Errorw("Job goroutine panicked", logger.FieldJobID, job.ID(), "panic", r.String())
		if !job.Phase().Terminal() {
			job.setError(ClassifyError(stageExecutor, errors.Mark(r.AsError(), errPanic)))
			o.executor.transition(job, PhaseFailed)
		}
	}
}

// CancelAll cancels every running job and moves idle queued or failed jobs
// straight to cancelled. It returns how many jobs it touched.
func (o *Orchestrator) CancelAll() int {
	var notices []notice
	o.mu.Lock()
	n := 0
	for _, cancel := range o.handles {
		cancel()
		n++
	}
	for _, job := range o.queue.All() {
		if _, active := o.handles[job.ID()]; active {
			continue
		}
		if nt, ok := o.cancelIdleLocked(job); ok {
			notices = append(notices, nt)
			n++
		}
	}
	o.mu.Unlock()

	o.announce(notices...)
	o.logger.Pulse("Cancel requested", logger.FieldCount, n)
	return n
}

// cancelIdleLocked cancels a job no executor owns. Caller holds o.mu and
// announces the returned notice after releasing it.
func (o *Orchestrator) cancelIdleLocked(job *Job) (notice, bool) {
	p := job.Phase()
	if p != PhaseQueued && p != PhaseFailed {
		return notice{}, false
	}
	from, err := o.executor.move(job, PhaseCancelled)
	if err != nil {
		o.logger.Warnw("Failed to cancel idle job", logger.FieldJobID, job.ID(), logger.FieldError, err)
		return notice{}, false
	}
	return notice{state: job.Snapshot(), from: from}, true
}

// CancelOne cancels a single job.
func (o *Orchestrator) CancelOne(id string) error {
	o.mu.Lock()
	job := o.queue.Get(id)
	if job == nil {
		o.mu.Unlock()
		return errors.NewNotFoundError("job not found: %s", id)
	}
	if cancel, active := o.handles[id]; active {
		o.mu.Unlock()
		cancel()
		return nil
	}
	nt, ok := o.cancelIdleLocked(job)
	o.mu.Unlock()
	if !ok {
		return errors.NewInvalidRequestError("job %s is %s and cannot be cancelled", id, job.Phase())
	}
	o.announce(nt)
	return nil
}

// RemoveOne removes a job from the visible set. A running job is removed
// when its executor returns.
func (o *Orchestrator) RemoveOne(id string) error {
	o.mu.Lock()
	job := o.queue.Get(id)
	if job == nil {
		o.mu.Unlock()
		return errors.NewNotFoundError("job not found: %s", id)
	}
	if _, active := o.handles[id]; active {
		o.removeOnExit[id] = struct{}{}
		o.mu.Unlock()
		return nil
	}
	o.queue.Remove(id)
	st := job.Snapshot()
	o.mu.Unlock()

	o.announce(notice{state: st, removed: true})
	return nil
}

// ClearQueue removes every job that is not running and returns how many it removed.
func (o *Orchestrator) ClearQueue() int {
	var notices []notice
	o.mu.Lock()
	for _, job := range o.queue.All() {
		if _, active := o.handles[job.ID()]; active {
			continue
		}
		o.queue.Remove(job.ID())
		notices = append(notices, notice{state: job.Snapshot(), removed: true})
	}
	o.mu.Unlock()

	o.announce(notices...)
	return len(notices)
}

// Requeue gives a job that failed permanently or was cancelled a fresh
// start: a new job with a new ID and no attempts takes its place. The file
// is hashed again, and the same duplicate rules as AddFile apply.
func (o *Orchestrator) Requeue(ctx context.Context, id string) (JobState, error) {
	o.mu.Lock()
	old := o.queue.Get(id)
	if old == nil {
		o.mu.Unlock()
		return JobState{}, errors.NewNotFoundError("job not found: %s", id)
	}
	if err := o.requeueableLocked(old); err != nil {
		o.mu.Unlock()
		return JobState{}, err
	}
	o.mu.Unlock()

	hash, err := o.freshHash(ctx, old.FilePath())
	if err != nil {
		return JobState{}, err
	}

	o.mu.Lock()
	if o.queue.Get(id) != old {
		o.mu.Unlock()
		return JobState{}, errors.NewNotFoundError("job not found: %s", id)
	}
	if err := o.requeueableLocked(old); err != nil {
		o.mu.Unlock()
		return JobState{}, err
	}
	if other := o.queue.FindByHash(hash); other != nil && other != old {
		o.mu.Unlock()
		return JobState{}, duplicate("same content as %s (job %s)", other.FilePath(), other.ID())
	}
	job := NewJob(old.FilePath(), hash)
	o.queue.Replace(id, job)
	prev := old.Snapshot()
	next := job.Snapshot()
	o.mu.Unlock()

	o.announce(notice{state: prev, removed: true}, notice{state: next})
	o.logger.Pulse("Job requeued", logger.FieldJobID, next.ID, "previous_job_id", id)
	return next, nil
}

func (o *Orchestrator) requeueableLocked(job *Job) error {
	p := job.Phase()
	if p != PhaseFailedPermanently && p != PhaseCancelled {
		return errors.NewInvalidRequestError("job %s is %s; only failed_permanently or cancelled jobs can be requeued", job.ID(), p)
	}
	if _, active := o.handles[job.ID()]; active {
		return errors.NewInvalidRequestError("job %s is still running", job.ID())
	}
	return nil
}

// RequeuePath requeues the visible job for path if it gave up. ok is false
// when no such job exists, so the caller can add the path instead.
func (o *Orchestrator) RequeuePath(ctx context.Context, path string) (st JobState, ok bool, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return JobState{}, false, errors.Wrapf(err, "failed to resolve %s", path)
	}
	o.mu.Lock()
	job := o.queue.FindByPath(abs)
	o.mu.Unlock()
	if job == nil {
		return JobState{}, false, nil
	}
	if p := job.Phase(); p != PhaseFailedPermanently && p != PhaseCancelled {
		return JobState{}, false, nil
	}
	st, err = o.Requeue(ctx, job.ID())
	return st, true, err
}

// Stats counts visible jobs by phase.
func (o *Orchestrator) Stats() QueueStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statsLocked()
}

func (o *Orchestrator) statsLocked() QueueStats {
	stats := QueueStats{
		Total:   o.queue.Len(),
		Active:  len(o.handles),
		ByPhase: make(map[Phase]int),
	}
	for _, job := range o.queue.All() {
		stats.ByPhase[job.Phase()]++
	}
	return stats
}

// Metrics reports host memory next to queue load.
func (o *Orchestrator) Metrics() SystemMetrics {
	stats := o.Stats()
	return readSystemMetrics(stats.Active, stats.ByPhase[PhaseQueued])
}

// Jobs returns snapshots of all visible jobs in the order they were added.
func (o *Orchestrator) Jobs() []JobState {
	o.mu.Lock()
	jobs := o.queue.All()
	o.mu.Unlock()

	out := make([]JobState, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	return out
}

// Job returns a snapshot of one job.
func (o *Orchestrator) Job(id string) (JobState, error) {
	o.mu.Lock()
	job := o.queue.Get(id)
	o.mu.Unlock()
	if job == nil {
		return JobState{}, errors.NewNotFoundError("job not found: %s", id)
	}
	return job.Snapshot(), nil
}

// Subscribe returns a channel of job events. Delivery never blocks; a
// subscriber that falls behind misses events.
func (o *Orchestrator) Subscribe() <-chan Event {
	return o.emitter.Subscribe()
}

// Unsubscribe stops and closes a channel returned by Subscribe.
func (o *Orchestrator) Unsubscribe(ch <-chan Event) {
	o.emitter.Unsubscribe(ch)
}
