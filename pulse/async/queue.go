package async

const (
	// MaxJobsLimit is the maximum number of jobs that can be queued
	MaxJobsLimit = 10000
)

// Queue is the ordered set of visible jobs. It does no locking of its own;
// the orchestrator mutex guards it.
type Queue struct {
	jobs []*Job
	byID map[string]*Job
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{byID: make(map[string]*Job)}
}

// Len is the number of visible jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Add appends job.
func (q *Queue) Add(job *Job) {
	q.jobs = append(q.jobs, job)
	q.byID[job.ID()] = job
}

// Get returns the job with id, or nil.
func (q *Queue) Get(id string) *Job {
	return q.byID[id]
}

// Remove drops the job with id, keeping the order of the rest.
func (q *Queue) Remove(id string) bool {
	if _, ok := q.byID[id]; !ok {
		return false
	}
	delete(q.byID, id)
	for i, j := range q.jobs {
		if j.ID() == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
	return true
}

// Replace puts next where the job with id was.
func (q *Queue) Replace(id string, next *Job) bool {
	if _, ok := q.byID[id]; !ok {
		return false
	}
	delete(q.byID, id)
	for i, j := range q.jobs {
		if j.ID() == id {
			q.jobs[i] = next
			break
		}
	}
	q.byID[next.ID()] = next
	return true
}

// All returns the jobs in insertion order.
func (q *Queue) All() []*Job {
	out := make([]*Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// FindByPath returns the visible job for path, or nil.
func (q *Queue) FindByPath(path string) *Job {
	for _, j := range q.jobs {
		if j.FilePath() == path {
			return j
		}
	}
	return nil
}

// FindByHash returns a job carrying hash that is still going or has
// completed, or nil. Jobs that gave up do not block a new one.
func (q *Queue) FindByHash(hash string) *Job {
	if hash == "" {
		return nil
	}
	for _, j := range q.jobs {
		s := j.Snapshot()
		if s.ContentHash != hash {
			continue
		}
		if !s.Phase.Terminal() || s.Phase == PhaseCompleted {
			return j
		}
	}
	return nil
}
