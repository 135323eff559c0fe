package work

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventEmitter receives batch lifecycle events. Production wiring uses
// LogEmitter; a nil emitter disables reporting.
type EventEmitter interface {
	Emit(event string, data any)
}

// LogEmitter writes batch lifecycle events to the service log.
type LogEmitter struct {
	log zerolog.Logger
}

// NewLogEmitter creates an emitter logging under the batch_events component.
func NewLogEmitter(log zerolog.Logger) *LogEmitter {
	return &LogEmitter{log: log.With().Str("component", "batch_events").Logger()}
}

// Emit logs one lifecycle event with its payload.
func (e *LogEmitter) Emit(event string, data any) {
	e.log.Info().Str("event", event).Interface("data", data).Msg("Batch event")
}

// Event names for the batch lifecycle.
const (
	EventBatchStarted  = "BatchStarted"
	EventBatchProgress = "BatchProgress"
	EventBatchFinished = "BatchFinished"
)

// BatchStartedEvent is emitted when a job's first item is dispatched.
type BatchStartedEvent struct {
	JobID  string `json:"job_id"`
	Method string `json:"method"`
	Total  int    `json:"total"`
}

// BatchProgressEvent is emitted as items complete. Throttled.
type BatchProgressEvent struct {
	JobID     string `json:"job_id"`
	Method    string `json:"method"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// BatchFinishedEvent is emitted once per job with its terminal state.
type BatchFinishedEvent struct {
	JobID    string        `json:"job_id"`
	Method   string        `json:"method"`
	State    State         `json:"state"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration_ms"`
}

// progressThrottleInterval bounds the event rate for large batches.
const progressThrottleInterval = 100 * time.Millisecond

// Reporter emits lifecycle events for one job. Progress events are throttled;
// started and finished events always go through. Safe for concurrent use and
// nil-safe like the emitter it wraps.
type Reporter struct {
	emitter EventEmitter
	jobID   string
	method  string
	started time.Time

	mu         sync.Mutex
	lastReport time.Time
}

// NewReporter creates a reporter for one job.
func NewReporter(emitter EventEmitter, jobID, method string) *Reporter {
	return &Reporter{
		emitter: emitter,
		jobID:   jobID,
		method:  method,
		started: time.Now(),
	}
}

// Report emits a throttled progress event.
func (r *Reporter) Report(completed, total int) {
	if r == nil || r.emitter == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.lastReport) < progressThrottleInterval && completed != total {
		return
	}
	r.lastReport = time.Now()

	r.emitter.Emit(EventBatchProgress, BatchProgressEvent{
		JobID:     r.jobID,
		Method:    r.method,
		Completed: completed,
		Total:     total,
	})
}

func (r *Reporter) emitStarted(total int) {
	if r == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(EventBatchStarted, BatchStartedEvent{
		JobID:  r.jobID,
		Method: r.method,
		Total:  total,
	})
}

func (r *Reporter) emitFinished(snap Status) {
	if r == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(EventBatchFinished, BatchFinishedEvent{
		JobID:    r.jobID,
		Method:   r.method,
		State:    snap.State,
		Failed:   snap.Failed,
		Duration: time.Since(r.started),
	})
}
