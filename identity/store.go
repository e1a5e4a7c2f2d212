package identity

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/teranos/scribe/errors"
)

// RecordStore persists Content Records. Implementations must serialize
// writes for the same content hash.
type RecordStore interface {
	Upsert(ctx context.Context, rec Record) error
	UpdateStatus(ctx context.Context, hash, remoteJobID string, status RecordStatus, verified bool) error
	Get(ctx context.Context, hash string) (*Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Delete(ctx context.Context, hash string) error
}

// SQLRecordStore is the sqlite-backed RecordStore (table content_records).
type SQLRecordStore struct {
	db    *sql.DB
	locks keyedMutex
	now   func() time.Time
}

// NewSQLRecordStore creates a record store over an already-migrated database
func NewSQLRecordStore(db *sql.DB) *SQLRecordStore {
	return &SQLRecordStore{db: db, now: time.Now}
}

const recordColumns = `content_hash, file_path, remote_job_id, output_path, status, verified, created_at, updated_at`

// Upsert inserts rec or replaces everything but created_at on an existing row.
func (s *SQLRecordStore) Upsert(ctx context.Context, rec Record) error {
	if rec.ContentHash == "" {
		return errors.NewInvalidRequestError("content hash is required")
	}
	if !rec.Status.Valid() {
		return errors.NewInvalidRequestError("unknown record status %q", rec.Status)
	}

	unlock := s.locks.lock(rec.ContentHash)
	defer unlock()

	now := s.now().UTC()
	query := `
		INSERT INTO content_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			file_path = excluded.file_path,
			remote_job_id = excluded.remote_job_id,
			output_path = excluded.output_path,
			status = excluded.status,
			verified = excluded.verified,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ContentHash,
		rec.FilePath,
		rec.RemoteJobID,
		rec.OutputPath,
		rec.Status,
		rec.Verified,
		now,
		now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert content record %s", rec.ContentHash)
	}
	return nil
}

// UpdateStatus changes status and verified. An empty remoteJobID keeps the stored one.
func (s *SQLRecordStore) UpdateStatus(ctx context.Context, hash, remoteJobID string, status RecordStatus, verified bool) error {
	if !status.Valid() {
		return errors.NewInvalidRequestError("unknown record status %q", status)
	}

	unlock := s.locks.lock(hash)
	defer unlock()

	query := `
		UPDATE content_records
		SET remote_job_id = CASE WHEN ? = '' THEN remote_job_id ELSE ? END,
		    status = ?,
		    verified = ?,
		    updated_at = ?
		WHERE content_hash = ?
	`
	res, err := s.db.ExecContext(ctx, query, remoteJobID, remoteJobID, status, verified, s.now().UTC(), hash)
	if err != nil {
		return errors.Wrapf(err, "failed to update content record %s", hash)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.NewNotFoundError("content record not found: %s", hash)
	}
	return nil
}

// Get returns the record for hash, or an ErrNotFound-marked error.
func (s *SQLRecordStore) Get(ctx context.Context, hash string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM content_records WHERE content_hash = ?`, hash)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("content record not found: %s", hash)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get content record %s", hash)
	}
	return rec, nil
}

// List returns records, most recently updated first. limit <= 0 means no limit.
func (s *SQLRecordStore) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM content_records ORDER BY updated_at DESC, content_hash`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list content records")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan content record")
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate content records")
	}
	return records, nil
}

// Delete removes the record for hash. Deleting a missing record is not an error.
func (s *SQLRecordStore) Delete(ctx context.Context, hash string) error {
	unlock := s.locks.lock(hash)
	defer unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_records WHERE content_hash = ?`, hash); err != nil {
		return errors.Wrapf(err, "failed to delete content record %s", hash)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var status string
	if err := row.Scan(
		&rec.ContentHash,
		&rec.FilePath,
		&rec.RemoteJobID,
		&rec.OutputPath,
		&status,
		&rec.Verified,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = RecordStatus(status)
	return &rec, nil
}

// keyedMutex hands out one mutex per key and forgets it when nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
