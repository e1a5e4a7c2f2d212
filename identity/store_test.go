package identity

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/scribe/errors"
	scribetest "github.com/teranos/scribe/internal/testing"
)

func TestSQLRecordStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewSQLRecordStore(scribetest.CreateTestDB(t))

	rec := Record{ContentHash: "h1", FilePath: "/in/a.mp3", OutputPath: "/in/a.transcript.json", Status: StatusPending}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "/in/a.mp3", got.FilePath)
	assert.Equal(t, StatusPending, got.Status)
	assert.False(t, got.Verified)
	created := got.CreatedAt

	// Upsert again from a new path keeps created_at and replaces the rest
	rec.FilePath = "/moved/a.mp3"
	rec.Status = StatusSubmitted
	rec.RemoteJobID = "r-1"
	require.NoError(t, store.Upsert(ctx, rec))

	got, err = store.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "/moved/a.mp3", got.FilePath)
	assert.Equal(t, "r-1", got.RemoteJobID)
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestSQLRecordStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	store := NewSQLRecordStore(scribetest.CreateTestDB(t))

	require.NoError(t, store.Upsert(ctx, Record{ContentHash: "h1", FilePath: "/a", RemoteJobID: "r-1", Status: StatusSubmitted}))

	// Empty remote id keeps the stored one
	require.NoError(t, store.UpdateStatus(ctx, "h1", "", StatusCompleted, true))
	got, err := store.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.Verified)
	assert.Equal(t, "r-1", got.RemoteJobID)

	err = store.UpdateStatus(ctx, "nope", "", StatusFailed, false)
	assert.True(t, errors.IsNotFoundError(err))

	err = store.UpdateStatus(ctx, "h1", "", RecordStatus("bogus"), false)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestSQLRecordStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewSQLRecordStore(scribetest.CreateTestDB(t))

	for _, h := range []string{"h1", "h2", "h3"} {
		require.NoError(t, store.Upsert(ctx, Record{ContentHash: h, FilePath: "/" + h, Status: StatusPending}))
	}

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, store.Delete(ctx, "h2"))
	require.NoError(t, store.Delete(ctx, "h2"), "deleting twice is fine")

	_, err = store.Get(ctx, "h2")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSQLRecordStore_ConcurrentWritesSameHash(t *testing.T) {
	ctx := context.Background()
	store := NewSQLRecordStore(scribetest.CreateTestDB(t))
	require.NoError(t, store.Upsert(ctx, Record{ContentHash: "h", FilePath: "/a", Status: StatusPending}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := StatusProcessing
			if i%2 == 0 {
				status = StatusSubmitted
			}
			assert.NoError(t, store.UpdateStatus(ctx, "h", "", status, false))
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, "h")
	require.NoError(t, err)
	assert.Contains(t, []RecordStatus{StatusProcessing, StatusSubmitted}, got.Status)
	assert.Empty(t, store.locks.locks, "idle keys are released")
}

func TestSQLRecordStore_DatabaseErrors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLRecordStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO content_records")).
		WillReturnError(errors.New("disk I/O error"))
	err = store.Upsert(ctx, Record{ContentHash: "h", FilePath: "/a", Status: StatusPending})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert content record h")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT content_hash")).
		WithArgs("h").
		WillReturnError(errors.New("database is locked"))
	_, err = store.Get(ctx, "h")
	require.Error(t, err)
	assert.False(t, errors.IsNotFoundError(err))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE content_records")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = store.UpdateStatus(ctx, "h", "", StatusFailed, false)
	assert.True(t, errors.IsNotFoundError(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}
