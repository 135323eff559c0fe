// Package work runs batch corrections on a shared worker pool. A batch job
// corrects many frequency tables against one immutable noise model; the items
// of a job are spread across the pool's workers.
package work

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fbmaciej/qrem/internal/modules/correction"
	"github.com/fbmaciej/qrem/internal/modules/counts"
	"github.com/fbmaciej/qrem/internal/modules/noisemodel"
)

// ErrJobNotFound indicates an unknown batch job ID.
var ErrJobNotFound = errors.New("batch job not found")

// ErrQueueFull indicates the submission queue is at capacity.
var ErrQueueFull = errors.New("batch queue is full")

// State is the lifecycle state of a batch job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// ItemResult is the outcome of one item in a batch.
type ItemResult struct {
	Index  int                `json:"index"`
	Result *correction.Result `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Status is a point-in-time snapshot of a batch job.
type Status struct {
	ID         string            `json:"id"`
	ModelID    string            `json:"model_id"`
	Method     correction.Method `json:"method"`
	State      State             `json:"state"`
	Total      int               `json:"total"`
	Completed  int               `json:"completed"`
	Failed     int               `json:"failed"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Items      []ItemResult      `json:"items,omitempty"`
}

// Job is one submitted batch. All mutable state is guarded by mu; the model
// itself is immutable and read concurrently by every worker.
type Job struct {
	id        string
	modelID   string
	method    correction.Method
	model     *noisemodel.Model
	tables    []*counts.FrequencyTable
	opts      correction.Options
	createdAt time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	reporter *Reporter

	mu        sync.Mutex
	state     State
	items     []ItemResult
	processed int
	skipped   int
	failed    int
	finished  time.Time
}

func newJob(modelID string, method correction.Method, model *noisemodel.Model, tables []*counts.FrequencyTable, opts correction.Options) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		id:        uuid.New().String(),
		modelID:   modelID,
		method:    method,
		model:     model,
		tables:    tables,
		opts:      opts,
		createdAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		state:     StatePending,
		items:     make([]ItemResult, len(tables)),
	}
}

// ID returns the job's identifier.
func (j *Job) ID() string { return j.id }

func (j *Job) setRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StatePending {
		j.state = StateRunning
	}
}

// recordItem stores one item outcome and returns the updated completed count
// together with whether the whole job just finished.
func (j *Job) recordItem(idx int, res *correction.Result, err error) (int, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	item := ItemResult{Index: idx, Result: res}
	if err != nil {
		item.Error = err.Error()
		j.failed++
	}
	j.items[idx] = item
	j.processed++

	done := j.processed+j.skipped == len(j.tables)
	if done {
		j.finalizeLocked()
	}
	return j.processed, done
}

// recordSkipped accounts for items never enqueued because the job was
// cancelled mid-submission.
func (j *Job) recordSkipped(n int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.skipped += n
	done := j.processed+j.skipped == len(j.tables)
	if done {
		j.finalizeLocked()
	}
	return done
}

func (j *Job) finalizeLocked() {
	j.finished = time.Now().UTC()
	switch {
	case j.ctx.Err() != nil:
		j.state = StateCancelled
	case j.failed == len(j.tables) && len(j.tables) > 0:
		j.state = StateFailed
	default:
		j.state = StateCompleted
	}
}

// finishedBefore reports whether the job reached a terminal state before t.
func (j *Job) finishedBefore(t time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.finished.IsZero() && j.finished.Before(t)
}

// Snapshot returns the job's current status. Item results are included only
// when withItems is set; status polls stay cheap for large batches.
func (j *Job) Snapshot(withItems bool) Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Status{
		ID:        j.id,
		ModelID:   j.modelID,
		Method:    j.method,
		State:     j.state,
		Total:     len(j.tables),
		Completed: j.processed,
		Failed:    j.failed,
		CreatedAt: j.createdAt,
	}
	if !j.finished.IsZero() {
		t := j.finished
		s.FinishedAt = &t
	}
	if withItems {
		s.Items = append([]ItemResult(nil), j.items...)
	}
	return s
}
