package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/scribe/db"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/pulse"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels.
// Slow subscribers lose events rather than stall executors.
const SubscriberChannelBufferSize = 100

// EventType says what an Event reports.
type EventType string

const (
	EventPhase    EventType = "phase"
	EventProgress EventType = "progress"
	EventOutcome  EventType = "outcome"
	EventRemoved  EventType = "removed"
)

// Event is one observable change of one job.
type Event struct {
	Type            EventType   `json:"type"`
	JobID           string      `json:"job_id"`
	FileName        string      `json:"file_name"`
	Phase           Phase       `json:"phase"`
	PreviousPhase   Phase       `json:"previous_phase,omitempty"`
	Stage           pulse.Stage `json:"stage,omitempty"`
	StageProgress   float64     `json:"stage_progress"`
	OverallProgress float64     `json:"overall_progress"`
	Error           string      `json:"error,omitempty"`
	ErrorCode       ErrorCode   `json:"error_code,omitempty"`
	Job             JobState    `json:"job"`
	Timestamp       time.Time   `json:"timestamp"`
}

// JobEmitter fans job events out to subscribers and records phase changes
// in the job history.
type JobEmitter struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	history     *HistoryStore // optional
	log         *zap.SugaredLogger
}

// NewJobEmitter creates an emitter. history may be nil.
func NewJobEmitter(history *HistoryStore, log *zap.SugaredLogger) *JobEmitter {
	return &JobEmitter{
		subscribers: make(map[chan Event]struct{}),
		history:     history,
		log:         logger.OrNop(log),
	}
}

// Subscribe returns a channel receiving every later event.
func (e *JobEmitter) Subscribe() <-chan Event {
	ch := make(chan Event, SubscriberChannelBufferSize)
	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	e.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (e *JobEmitter) Unsubscribe(ch <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sub := range e.subscribers {
		if sub == ch {
			delete(e.subscribers, sub)
			close(sub)
			return
		}
	}
}

// EmitPhase reports a phase change and persists it.
func (e *JobEmitter) EmitPhase(state JobState, from Phase) {
	e.record(state)

	e.publish(Event{
		Type:            EventPhase,
		JobID:           state.ID,
		FileName:        state.FileName,
		Phase:           state.Phase,
		PreviousPhase:   from,
		Stage:           state.Phase.Stage(),
		StageProgress:   state.StageProgress.Get(state.Phase.Stage()),
		OverallProgress: state.OverallProgress,
		Error:           state.Error,
		ErrorCode:       state.ErrorCode,
		Job:             state,
	})

	if state.Phase.Terminal() {
		e.publish(Event{
			Type:            EventOutcome,
			JobID:           state.ID,
			FileName:        state.FileName,
			Phase:           state.Phase,
			OverallProgress: state.OverallProgress,
			Error:           state.Error,
			ErrorCode:       state.ErrorCode,
			Job:             state,
		})
	}
}

// EmitProgress reports stage progress. Not persisted.
func (e *JobEmitter) EmitProgress(state JobState, stage pulse.Stage) {
	e.publish(Event{
		Type:            EventProgress,
		JobID:           state.ID,
		FileName:        state.FileName,
		Phase:           state.Phase,
		Stage:           stage,
		StageProgress:   state.StageProgress.Get(stage),
		OverallProgress: state.OverallProgress,
		Job:             state,
	})
}

// EmitRemoved reports that a job left the visible set.
func (e *JobEmitter) EmitRemoved(state JobState) {
	e.publish(Event{
		Type:     EventRemoved,
		JobID:    state.ID,
		FileName: state.FileName,
		Phase:    state.Phase,
		Job:      state,
	})
}

func (e *JobEmitter) publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			e.log.Debugw("Dropping event for slow subscriber",
				logger.FieldJobID, ev.JobID,
				"type", ev.Type,
			)
		}
	}
}

func (e *JobEmitter) record(state JobState) {
	if e.history == nil {
		return
	}
	if err := e.history.Upsert(context.Background(), state); err != nil {
		if db.IsDatabaseClosed(err) {
			// Shutdown raced a late phase change
			e.log.Debugw("History closed, phase change not recorded", logger.FieldJobID, state.ID, logger.FieldPhase, state.Phase)
			return
		}
		e.log.Warnw("Failed to record job history",
			logger.FieldJobID, state.ID,
			logger.FieldPhase, state.Phase,
			logger.FieldError, err,
		)
	}
}
