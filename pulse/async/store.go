package async

import (
	"context"
	"database/sql"

	"github.com/teranos/scribe/errors"
)

// HistoryStore keeps the last known state of every job in transcription_jobs.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore creates a job history store
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Upsert writes the job's current state, replacing any earlier row.
func (s *HistoryStore) Upsert(ctx context.Context, st JobState) error {
	query := `
		INSERT INTO transcription_jobs (
			id, file_path, file_name, content_hash, phase, attempt_count,
			remote_job_id, output_path, verified, overall_progress, error, error_code,
			created_at, updated_at, last_attempt_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			phase = excluded.phase,
			attempt_count = excluded.attempt_count,
			remote_job_id = excluded.remote_job_id,
			output_path = excluded.output_path,
			verified = excluded.verified,
			overall_progress = excluded.overall_progress,
			error = excluded.error,
			error_code = excluded.error_code,
			updated_at = excluded.updated_at,
			last_attempt_at = excluded.last_attempt_at,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		st.ID,
		st.FilePath,
		st.FileName,
		st.ContentHash,
		string(st.Phase),
		st.AttemptCount,
		st.RemoteJobID,
		st.OutputFilePath,
		st.Verified,
		st.OverallProgress,
		st.Error,
		string(st.ErrorCode),
		st.CreatedAt,
		st.UpdatedAt,
		timeArg(st.LastAttemptAt),
		timeArg(st.CompletedAt),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to record job")
		return errors.WithDetailf(err, "Job ID: %s", st.ID)
	}
	return nil
}

// Get retrieves one job by ID
func (s *HistoryStore) Get(ctx context.Context, id string) (JobState, error) {
	query := `SELECT ` + historyColumns + ` FROM transcription_jobs WHERE id = ?`

	var st JobState
	var args jobScanArgs
	err := s.db.QueryRowContext(ctx, query, id).Scan(scanTargets(&st, &args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return JobState{}, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return JobState{}, errors.Wrap(err, "failed to get job")
	}
	args.apply(&st)
	return st, nil
}

// List returns the most recently updated jobs first, optionally filtered by phase.
// limit <= 0 returns everything.
func (s *HistoryStore) List(ctx context.Context, phase *Phase, limit int) ([]JobState, error) {
	query := `SELECT ` + historyColumns + ` FROM transcription_jobs`
	var args []interface{}
	if phase != nil {
		query += ` WHERE phase = ?`
		args = append(args, string(*phase))
	}
	query += ` ORDER BY updated_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []JobState
	for rows.Next() {
		var st JobState
		var scan jobScanArgs
		if err := rows.Scan(scanTargets(&st, &scan)...); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		scan.apply(&st)
		jobs = append(jobs, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return jobs, nil
}

// CountByPhase returns how many recorded jobs are in each phase.
func (s *HistoryStore) CountByPhase(ctx context.Context) (map[Phase]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phase, COUNT(*) FROM transcription_jobs GROUP BY phase`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[Phase]int)
	for rows.Next() {
		var phase string
		var n int
		if err := rows.Scan(&phase, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[Phase(phase)] = n
	}
	return counts, rows.Err()
}
