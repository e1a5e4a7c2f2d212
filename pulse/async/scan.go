package async

import (
	"database/sql"
	"time"
)

// historyColumns is the column order every history SELECT uses.
const historyColumns = `id, file_path, file_name, content_hash, phase, attempt_count,
	remote_job_id, output_path, verified, overall_progress, error, error_code,
	created_at, updated_at, last_attempt_at, completed_at`

// jobScanArgs holds the nullable columns scanned next to a JobState.
type jobScanArgs struct {
	ErrorCode     string
	LastAttemptAt sql.NullTime
	CompletedAt   sql.NullTime
}

// scanTargets returns pointers in historyColumns order.
func scanTargets(s *JobState, args *jobScanArgs) []interface{} {
	return []interface{}{
		&s.ID,
		&s.FilePath,
		&s.FileName,
		&s.ContentHash,
		&s.Phase,
		&s.AttemptCount,
		&s.RemoteJobID,
		&s.OutputFilePath,
		&s.Verified,
		&s.OverallProgress,
		&s.Error,
		&args.ErrorCode,
		&s.CreatedAt,
		&s.UpdatedAt,
		&args.LastAttemptAt,
		&args.CompletedAt,
	}
}

func (args *jobScanArgs) apply(s *JobState) {
	s.ErrorCode = ErrorCode(args.ErrorCode)
	s.LastAttemptAt = nullTimePtr(args.LastAttemptAt)
	s.CompletedAt = nullTimePtr(args.CompletedAt)
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
