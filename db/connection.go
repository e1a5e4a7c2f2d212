// Package db opens scribe's SQLite database and keeps its schema current.
// The database holds content records and job history.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/sym"
)

// SQLiteBusyTimeoutMS is how long a writer waits on a locked database.
// Concurrent executors write content records and job history at the same time.
const SQLiteBusyTimeoutMS = 5000

var pragmas = []struct {
	stmt, what string
}{
	{"PRAGMA journal_mode = WAL", "enable WAL mode"},
	{"PRAGMA foreign_keys = ON", "enable foreign keys"},
	{fmt.Sprintf("PRAGMA busy_timeout = %d", SQLiteBusyTimeoutMS), "set busy timeout"},
}

// Open opens the SQLite database at path, creating the file if needed.
// log may be nil.
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	log = logger.OrNop(log)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to %s", p.what)
		}
	}

	log.Debugw("Database opened", logger.FieldPath, path, logger.FieldSymbol, sym.DB)
	return db, nil
}

// OpenWithMigrations opens the database and applies pending migrations.
func OpenWithMigrations(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, log)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if err := Migrate(db, log); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "migrate %s", path)
	}
	return db, nil
}
