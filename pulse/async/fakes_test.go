package async

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teranos/scribe/identity"
	scribetest "github.com/teranos/scribe/internal/testing"
	"github.com/teranos/scribe/media"
	"github.com/teranos/scribe/provider"
)

const validTranscript = `{"text":"hello there","segments":[{"start":0,"end":1.5,"text":"hello there"}]}`

// fakeProvider records every call. Nothing leaves the process.
type fakeProvider struct {
	mu        sync.Mutex
	submits   int
	polls     int
	downloads int
	cancels   int

	submitErr    func(n int) error
	statuses     []provider.Status
	downloadBody string
	// blockSubmit makes Submit wait for its context after announcing itself on started.
	blockSubmit bool
	started     chan string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		statuses: []provider.Status{
			{Phase: provider.PhaseProcessing, Percent: 50},
			{Phase: provider.PhaseCompleted, Percent: 100},
		},
		downloadBody: validTranscript,
		started:      make(chan string, 32),
	}
}

func (p *fakeProvider) Submit(ctx context.Context, audioPath string, opts provider.SubmitOptions, progress provider.ProgressFunc) (string, error) {
	p.mu.Lock()
	p.submits++
	n := p.submits
	block := p.blockSubmit
	submitErr := p.submitErr
	p.mu.Unlock()

	if _, err := os.Stat(audioPath); err != nil {
		return "", err
	}
	if block {
		p.started <- opts.IdempotencyKey
		<-ctx.Done()
		return "", ctx.Err()
	}
	if submitErr != nil {
		if err := submitErr(n); err != nil {
			return "", err
		}
	}
	if progress != nil {
		progress(40)
	}
	return "remote-" + opts.IdempotencyKey[:8], nil
}

func (p *fakeProvider) GetStatus(ctx context.Context, remoteJobID string) (provider.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.polls
	p.polls++
	if i >= len(p.statuses) {
		i = len(p.statuses) - 1
	}
	return p.statuses[i], nil
}

func (p *fakeProvider) DownloadResult(ctx context.Context, remoteJobID, outPath string, progress provider.ProgressFunc) error {
	p.mu.Lock()
	p.downloads++
	body := p.downloadBody
	p.mu.Unlock()
	return os.WriteFile(outPath, []byte(body), 0644)
}

func (p *fakeProvider) Cancel(ctx context.Context, remoteJobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels++
	return nil
}

func (p *fakeProvider) networkCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits + p.polls + p.downloads + p.cancels
}

func (p *fakeProvider) submitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

// fakeToolkit stands in for ffmpeg.
type fakeToolkit struct {
	mu         sync.Mutex
	report     media.SilenceReport
	detectErr  error
	extractErr error
	panicOn    string
	extracted  []string
}

func (f *fakeToolkit) DetectSilence(ctx context.Context, path string, thresholdDB, minDuration float64, progress media.ProgressFunc) (media.SilenceReport, error) {
	if f.panicOn == "detect" {
		panic("silencedetect exploded")
	}
	if err := ctx.Err(); err != nil {
		return media.SilenceReport{}, err
	}
	progress(50)
	progress(100)
	return f.report, f.detectErr
}

func (f *fakeToolkit) ExtractAudio(ctx context.Context, in, out string, progress media.ProgressFunc) error {
	if f.extractErr != nil {
		return f.extractErr
	}
	if err := os.WriteFile(out, []byte("RIFF"), 0644); err != nil {
		return err
	}
	f.mu.Lock()
	f.extracted = append(f.extracted, out)
	f.mu.Unlock()
	progress(100)
	return nil
}

type harness struct {
	orch     *Orchestrator
	exec     *Executor
	emitter  *JobEmitter
	provider *fakeProvider
	media    *fakeToolkit
	identity *identity.Service
	history  *HistoryStore
	dir      string
	workDir  string
}

func newHarness(t *testing.T, tweak ...func(*ExecutorConfig)) *harness {
	t.Helper()
	db := scribetest.CreateTestDB(t)

	h := &harness{
		provider: newFakeProvider(),
		media:    &fakeToolkit{report: media.SilenceReport{Duration: 60}},
		identity: identity.NewService(identity.NewSQLRecordStore(db), "", nil),
		history:  NewHistoryStore(db),
		dir:      t.TempDir(),
		workDir:  t.TempDir(),
	}

	cfg := OrchestratorConfig{
		Executor: ExecutorConfig{
			MaxAttempts:     3,
			WorkDir:         h.workDir,
			MaxSilenceRatio: 0.98,
			Language:        "en",
			PollInterval:    time.Millisecond,
			MaxProcessing:   5 * time.Second,
		},
		Extensions: []string{".mp3", ".wav"},
	}
	for _, fn := range tweak {
		fn(&cfg.Executor)
	}

	h.orch = NewOrchestrator(Dependencies{
		Identity: h.identity,
		Media:    h.media,
		Provider: h.provider,
		History:  h.history,
	}, cfg, nil)
	h.exec = h.orch.executor
	h.emitter = h.orch.emitter
	return h
}

// file writes a media file whose content is its name unless content is given.
func (h *harness) file(t *testing.T, name string, content ...string) string {
	t.Helper()
	body := name
	if len(content) > 0 {
		body = content[0]
	}
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func (h *harness) add(t *testing.T, name string, content ...string) JobState {
	t.Helper()
	st, err := h.orch.AddFile(context.Background(), h.file(t, name, content...))
	require.NoError(t, err)
	return st
}

func (h *harness) job(t *testing.T, id string) *Job {
	t.Helper()
	h.orch.mu.Lock()
	defer h.orch.mu.Unlock()
	j := h.orch.queue.Get(id)
	require.NotNil(t, j)
	return j
}

func waitStarted(t *testing.T, p *fakeProvider, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d submissions started", i, n)
		}
	}
}

// drain collects events until the channel is quiet.
func drain(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		case <-time.After(50 * time.Millisecond):
			return events
		}
	}
}

func phasesOf(events []Event, jobID string) []Phase {
	var phases []Phase
	for _, ev := range events {
		if ev.Type == EventPhase && ev.JobID == jobID {
			phases = append(phases, ev.Phase)
		}
	}
	return phases
}
