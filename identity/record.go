package identity

import "time"

// RecordStatus is the lifecycle state of a Content Record.
type RecordStatus string

const (
	StatusPending    RecordStatus = "pending"
	StatusSubmitted  RecordStatus = "submitted"
	StatusProcessing RecordStatus = "processing"
	StatusCompleted  RecordStatus = "completed"
	StatusFailed     RecordStatus = "failed"
	StatusCancelled  RecordStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s RecordStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Record is what is known about one piece of content, keyed by its hash.
type Record struct {
	ContentHash string       `json:"content_hash"`
	FilePath    string       `json:"file_path"`
	RemoteJobID string       `json:"remote_job_id,omitempty"`
	OutputPath  string       `json:"output_path,omitempty"`
	Status      RecordStatus `json:"status"`
	Verified    bool         `json:"verified"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
