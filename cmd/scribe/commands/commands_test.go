package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/identity"
	scribetest "github.com/teranos/scribe/internal/testing"
	"github.com/teranos/scribe/pulse/async"
)

func writeMedia(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestEnqueue_FilesAndFolders(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := writeMedia(t, dir, "a.mp3", "first")
	writeMedia(t, dir, "notes.txt", "ignored")
	writeMedia(t, dir, "sub/c.wav", "nested")
	other := writeMedia(t, t.TempDir(), "b.m4a", "second")

	svc := identity.NewService(identity.NewSQLRecordStore(scribetest.CreateTestDB(t)), "", nil)
	orch := async.NewOrchestrator(async.Dependencies{Identity: svc}, async.OrchestratorConfig{}, nil)

	summary, err := enqueue(ctx, orch, []string{dir, other, a, filepath.Join(dir, "missing.mp3")}, false)
	require.NoError(t, err)

	var added []string
	for _, st := range summary.Added {
		added = append(added, st.FileName)
	}
	assert.ElementsMatch(t, []string{"a.mp3", "b.m4a"}, added, "non-recursive scan skips sub/")

	require.Len(t, summary.Skipped, 2)
	assert.Equal(t, a, summary.Skipped[0].Path)
	assert.Contains(t, summary.Skipped[0].Reason, "already queued")
	assert.Contains(t, summary.Skipped[1].Reason, "does not exist")
}

func TestEnqueue_MissingPathIsSkipped(t *testing.T) {
	svc := identity.NewService(identity.NewSQLRecordStore(scribetest.CreateTestDB(t)), "", nil)
	orch := async.NewOrchestrator(async.Dependencies{Identity: svc}, async.OrchestratorConfig{}, nil)

	// A missing path is treated as a file, so it is skipped rather than fatal
	summary, err := enqueue(context.Background(), orch, []string{filepath.Join(t.TempDir(), "gone")}, true)
	require.NoError(t, err)
	assert.Len(t, summary.Skipped, 1)
	assert.Empty(t, summary.Added)
}

func TestEnqueue_RequeuesGivenUpFile(t *testing.T) {
	ctx := context.Background()
	path := writeMedia(t, t.TempDir(), "a.mp3", "first take")

	svc := identity.NewService(identity.NewSQLRecordStore(scribetest.CreateTestDB(t)), "", nil)
	orch := async.NewOrchestrator(async.Dependencies{Identity: svc}, async.OrchestratorConfig{}, nil)

	first, err := enqueue(ctx, orch, []string{path}, false)
	require.NoError(t, err)
	require.Len(t, first.Added, 1)
	require.NoError(t, orch.CancelOne(first.Added[0].ID))

	writeMedia(t, filepath.Dir(path), "a.mp3", "second take")
	again, err := enqueue(ctx, orch, []string{path}, false)
	require.NoError(t, err)
	require.Len(t, again.Added, 1)
	assert.Empty(t, again.Skipped)
	assert.NotEqual(t, first.Added[0].ID, again.Added[0].ID)
	assert.Equal(t, async.PhaseQueued, again.Added[0].Phase)
	assert.Len(t, orch.Jobs(), 1, "the new job takes the old one's place")
}

func TestMetricsLine(t *testing.T) {
	assert.Equal(t, "2 running, 5 queued", metricsLine(async.SystemMetrics{JobsActive: 2, JobsQueued: 5}))
	assert.Equal(t, "0 running, 1 queued, memory 12.0/16.0GB (75%)", metricsLine(async.SystemMetrics{
		JobsQueued:    1,
		MemoryUsedGB:  12,
		MemoryTotalGB: 16,
		MemoryPercent: 75,
	}))
}

func TestResolveRecord_ByFileHashOrShortID(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeMedia(t, dir, "talk.mp3", "audio")

	svc := identity.NewService(identity.NewSQLRecordStore(scribetest.CreateTestDB(t)), "", nil)
	hash, err := svc.Hash(path)
	require.NoError(t, err)
	require.NoError(t, svc.Register(ctx, path, hash, "", svc.ExpectedOutputPath(path), identity.StatusPending))

	byFile, err := resolveRecord(ctx, svc, path)
	require.NoError(t, err)
	assert.Equal(t, hash, byFile.ContentHash)

	byHash, err := resolveRecord(ctx, svc, hash)
	require.NoError(t, err)
	assert.Equal(t, path, byHash.FilePath)

	byShortID, err := resolveRecord(ctx, svc, identity.ShortID(hash))
	require.NoError(t, err)
	assert.Equal(t, hash, byShortID.ContentHash)

	_, err = resolveRecord(ctx, svc, "no-such-hash")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestParsePhase(t *testing.T) {
	p, err := parsePhase("")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = parsePhase("failed_permanently")
	require.NoError(t, err)
	assert.Equal(t, async.PhaseFailedPermanently, *p)

	_, err = parsePhase("finished")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Contains(t, errors.FlattenHints(err), "queued")
}

func TestMarshalConfig(t *testing.T) {
	cfg := am.DefaultConfig()

	for _, format := range []string{"toml", "json", "yaml"} {
		data, err := marshalConfig(cfg, format)
		require.NoError(t, err, format)
		assert.Contains(t, string(data), "max_attempts", format)
	}

	_, err := marshalConfig(cfg, "ini")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestUnfinished(t *testing.T) {
	assert.NoError(t, unfinished(nil))
	assert.NoError(t, unfinished([]async.JobState{{Phase: async.PhaseCompleted}}))

	err := unfinished([]async.JobState{
		{Phase: async.PhaseCompleted},
		{Phase: async.PhaseFailedPermanently},
		{Phase: async.PhaseCancelled},
	})
	require.Error(t, err)
	assert.Equal(t, "2 of 3 jobs did not complete (1 failed, 1 cancelled)", err.Error())
}

func TestJobTable(t *testing.T) {
	data := jobTable([]async.JobState{
		{ID: "1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed", FileName: "ep.mp3", Phase: async.PhaseCompleted,
			OverallProgress: 100, AttemptCount: 1, OutputFilePath: "/out/ep.transcript.json"},
		{ID: "plain", FileName: "bad.wav", Phase: async.PhaseFailed, OverallProgress: 12.4,
			AttemptCount: 2, Error: "provider unavailable"},
	})

	require.Len(t, data, 3)
	assert.Equal(t, "JOB", data[0][0])

	assert.Equal(t, "1b9d6bcd", data[1][0])
	assert.Contains(t, data[1][2], "completed")
	assert.Equal(t, "100%", data[1][3])
	assert.Equal(t, "/out/ep.transcript.json", data[1][6])

	assert.Equal(t, "plain", data[2][0])
	assert.Equal(t, " 12%", data[2][3])
	assert.Equal(t, "2", data[2][4])
	assert.Equal(t, "provider unavailable", data[2][6])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "two lines", truncate("two\nlines", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestEventLine(t *testing.T) {
	assert.Equal(t, "abc ep.mp3 queued",
		eventLine(async.Event{Type: async.EventPhase, JobID: "abc", FileName: "ep.mp3", Phase: async.PhaseQueued}))
	assert.Contains(t,
		eventLine(async.Event{Type: async.EventPhase, JobID: "abc", FileName: "ep.mp3",
			PreviousPhase: async.PhaseQueued, Phase: async.PhaseSilenceDetection}),
		"queued -> ")
	assert.Contains(t,
		eventLine(async.Event{Type: async.EventOutcome, JobID: "abc", FileName: "ep.mp3",
			Phase: async.PhaseFailedPermanently, Error: "no audible speech"}),
		"no audible speech")
	assert.Equal(t, "abc ep.mp3 removed",
		eventLine(async.Event{Type: async.EventRemoved, JobID: "abc", FileName: "ep.mp3"}))
}
