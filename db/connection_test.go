package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/scribe/errors"
)

func TestOpen_Pragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scribe.db")
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	db, err := Open(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "Open creates the file")

	var journal string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal)

	var fk, busy int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 1, fk)
	assert.Equal(t, SQLiteBusyTimeoutMS, busy)
}

func TestOpen_UnwritableLocation(t *testing.T) {
	db, err := Open("/nonexistent-scribe-dir/sub/scribe.db", nil)
	if err == nil {
		// The driver may defer the failure to the first real use
		err = db.Ping()
		db.Close()
	}
	require.Error(t, err)
	assert.NotNil(t, errors.GetStack(err))
}

func TestIsDatabaseClosed(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "scribe.db"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Exec("SELECT 1")
	require.Error(t, err)
	assert.True(t, IsDatabaseClosed(err), "driver error: %v", err)
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "upsert job")))
	assert.False(t, IsDatabaseClosed(errors.New("disk I/O error")))
	assert.False(t, IsDatabaseClosed(nil))
}
