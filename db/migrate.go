package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/sym"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded file. Its version is the numeric prefix,
// "001" for 001_create_content_records.sql.
type migration struct {
	version string
	file    string
}

func embeddedMigrations() ([]migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var list []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, _, _ := strings.Cut(e.Name(), "_")
		list = append(list, migration{version: version, file: e.Name()})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].file < list[j].file })
	return list, nil
}

// appliedVersions reads schema_migrations. A database that has never been
// migrated has no such table and reports nothing applied.
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	var tables int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'").Scan(&tables)
	if err != nil {
		return nil, errors.Wrap(err, "inspect schema")
	}
	applied := make(map[string]bool)
	if tables == 0 {
		return applied, nil
	}

	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction. log may be nil.
func Migrate(db *sql.DB, log *zap.SugaredLogger) error {
	log = logger.OrNop(log)

	list, err := embeddedMigrations()
	if err != nil {
		return err
	}
	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}
	if len(applied) == 0 && len(list) > 0 && list[0].version != "000" {
		return errors.AssertionFailedf("first migration must be 000, got %s", list[0].file)
	}

	var ran int
	for _, m := range list {
		if applied[m.version] {
			continue
		}
		if err := apply(db, m); err != nil {
			return err
		}
		ran++
		log.Infow("Applied migration", logger.FieldFile, m.file, "version", m.version)
	}

	log.Debugw("Schema up to date", logger.FieldSymbol, sym.DB, "applied", ran, "total", len(list))
	return nil
}

func apply(db *sql.DB, m migration) error {
	body, err := migrations.ReadFile(path.Join(migrationsDir, m.file))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.file)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin %s", m.file)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "execute %s", m.file)
	}
	// 000 creates schema_migrations, so it can record itself too
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return errors.Wrapf(err, "record %s", m.file)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.file)
}
