package async

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/scribe/errors"
	scribetest "github.com/teranos/scribe/internal/testing"
)

func TestHistoryStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewHistoryStore(scribetest.CreateTestDB(t))

	job := NewJob("/media/a.mp3", "h1")
	require.NoError(t, store.Upsert(ctx, job.Snapshot()))

	got, err := store.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, PhaseQueued, got.Phase)
	assert.Equal(t, "a.mp3", got.FileName)
	assert.Nil(t, got.LastAttemptAt)
	assert.Nil(t, got.CompletedAt)

	job.beginAttempt("h1", "/media/a.transcript.json")
	job.setError(ClassifyError("upload", errors.Mark(errors.New("503"), errors.ErrTransientRemote)))
	_, err = job.transition(PhaseFailed, 3)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, job.Snapshot()))

	got, err = store.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, got.Phase)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, ErrorCodeNetwork, got.ErrorCode)
	assert.Equal(t, "503", got.Error)
	require.NotNil(t, got.LastAttemptAt)
	assert.WithinDuration(t, time.Now(), *got.LastAttemptAt, time.Minute)

	_, err = store.Get(ctx, "nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestHistoryStore_ListAndCount(t *testing.T) {
	ctx := context.Background()
	store := NewHistoryStore(scribetest.CreateTestDB(t))

	a := NewJob("/a.mp3", "ha")
	b := NewJob("/b.mp3", "hb")
	c := NewJob("/c.mp3", "hc")
	_, err := c.transition(PhaseCompleted, 3)
	require.NoError(t, err)
	for _, j := range []*Job{a, b, c} {
		require.NoError(t, store.Upsert(ctx, j.Snapshot()))
	}

	all, err := store.List(ctx, nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	completed := PhaseCompleted
	done, err := store.List(ctx, &completed, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, c.ID(), done[0].ID)

	limited, err := store.List(ctx, nil, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	counts, err := store.CountByPhase(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Phase]int{PhaseQueued: 2, PhaseCompleted: 1}, counts)
}

func TestHistoryStore_DatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewHistoryStore(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transcription_jobs")).
		WillReturnError(errors.New("disk I/O error"))
	err = store.Upsert(ctx, NewJob("/a.mp3", "").Snapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record job")

	mock.ExpectQuery(regexp.QuoteMeta("FROM transcription_jobs")).
		WillReturnError(errors.New("database is locked"))
	_, err = store.List(ctx, nil, 0)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmitter_HistoryFailureDoesNotBlockEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transcription_jobs")).
		WillReturnError(errors.New("disk full"))

	emitter := NewJobEmitter(NewHistoryStore(db), nil)
	ch := emitter.Subscribe()
	emitter.EmitPhase(NewJob("/a.mp3", "").Snapshot(), "")

	ev := <-ch
	assert.Equal(t, EventPhase, ev.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmitter_ClosedHistoryIsNotAWarning(t *testing.T) {
	db := scribetest.CreateTestDB(t)
	require.NoError(t, db.Close())

	core, logs := observer.New(zapcore.DebugLevel)
	emitter := NewJobEmitter(NewHistoryStore(db), zap.New(core).Sugar())
	emitter.EmitPhase(NewJob("/a.mp3", "").Snapshot(), "")

	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("History closed, phase change not recorded").Len())
}
