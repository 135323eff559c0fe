package work

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fbmaciej/qrem/internal/modules/correction"
	"github.com/fbmaciej/qrem/internal/modules/counts"
	"github.com/fbmaciej/qrem/internal/modules/noisemodel"
)

// ItemTimeout bounds a single item's correction.
const ItemTimeout = 2 * time.Minute

// queueCapacity bounds the number of jobs waiting for dispatch.
const queueCapacity = 64

// Corrector is the slice of the correction service the pool needs.
type Corrector interface {
	Unconstrained(model *noisemodel.Model, table *counts.FrequencyTable, opts correction.Options) (*correction.Result, error)
	Constrained(ctx context.Context, model *noisemodel.Model, table *counts.FrequencyTable, opts correction.Options) (*correction.Result, error)
}

// Pool executes batch jobs. Jobs dispatch FIFO; within a job, items run
// concurrently on the pool's workers against the job's immutable model.
type Pool struct {
	corrector Corrector
	workers   int
	timeout   time.Duration
	emitter   EventEmitter
	log       zerolog.Logger

	queue   chan *Job
	stop    chan struct{}
	stopped chan struct{}

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewPool creates a pool with the given worker count.
func NewPool(corrector Corrector, workers int, emitter EventEmitter, log zerolog.Logger) *Pool {
	return NewPoolWithTimeout(corrector, workers, emitter, log, ItemTimeout)
}

// NewPoolWithTimeout creates a pool with a custom per-item timeout.
// This is primarily used for testing.
func NewPoolWithTimeout(corrector Corrector, workers int, emitter EventEmitter, log zerolog.Logger, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		corrector: corrector,
		workers:   workers,
		timeout:   timeout,
		emitter:   emitter,
		log:       log.With().Str("service", "work").Logger(),
		queue:     make(chan *Job, queueCapacity),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		jobs:      make(map[string]*Job),
	}
}

// Run starts the dispatch loop and workers. This blocks until Stop() is
// called; in-flight items finish before Run returns.
func (p *Pool) Run() {
	defer close(p.stopped)

	tasks := make(chan task)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(tasks)
		}()
	}

	for {
		select {
		case <-p.stop:
			close(tasks)
			wg.Wait()
			return
		case job := <-p.queue:
			p.dispatch(job, tasks)
		}
	}
}

// Stop stops the pool and waits for workers to drain.
func (p *Pool) Stop() {
	close(p.stop)
	<-p.stopped
}

// Submit queues a batch for execution and returns its job ID immediately.
func (p *Pool) Submit(modelID string, method correction.Method, model *noisemodel.Model, tables []*counts.FrequencyTable, opts correction.Options) (string, error) {
	if len(tables) == 0 {
		return "", fmt.Errorf("%w: batch has no items", counts.ErrMalformedTable)
	}

	job := newJob(modelID, method, model, tables, opts)
	p.mu.Lock()
	p.jobs[job.id] = job
	p.mu.Unlock()

	select {
	case p.queue <- job:
	default:
		p.mu.Lock()
		delete(p.jobs, job.id)
		p.mu.Unlock()
		return "", ErrQueueFull
	}

	p.log.Info().Str("job", job.id).Str("model", modelID).Int("items", len(tables)).
		Msg("Batch job queued")
	return job.id, nil
}

// Status returns a job's snapshot. Item results are included only when the
// caller asks for them.
func (p *Pool) Status(id string, withItems bool) (Status, error) {
	p.mu.Lock()
	job, ok := p.jobs[id]
	p.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Snapshot(withItems), nil
}

// Cancel stops a job. Items already running finish their current iteration
// and report a convergence error; items not yet started are skipped.
func (p *Pool) Cancel(id string) error {
	p.mu.Lock()
	job, ok := p.jobs[id]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.cancel()
	return nil
}

// PruneFinished evicts terminal jobs that finished before the cutoff,
// releasing their item results. Pending and running jobs are never touched.
// Returns the number of jobs removed.
func (p *Pool) PruneFinished(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for id, job := range p.jobs {
		if job.finishedBefore(cutoff) {
			delete(p.jobs, id)
			n++
		}
	}
	return n
}

type task struct {
	job *Job
	idx int
}

// dispatch feeds one job's items to the workers. It returns early when the
// pool stops or the job is cancelled, accounting for the items never sent.
func (p *Pool) dispatch(job *Job, tasks chan<- task) {
	job.setRunning()
	job.reporter = NewReporter(p.emitter, job.id, string(job.method))
	job.reporter.emitStarted(len(job.tables))

	for i := range job.tables {
		select {
		case <-p.stop:
			job.recordSkipped(len(job.tables) - i)
			return
		case <-job.ctx.Done():
			if job.recordSkipped(len(job.tables) - i) {
				job.reporter.emitFinished(job.Snapshot(false))
			}
			return
		case tasks <- task{job: job, idx: i}:
		}
	}
}

func (p *Pool) worker(tasks <-chan task) {
	for t := range tasks {
		p.runItem(t.job, t.idx)
	}
}

func (p *Pool) runItem(job *Job, idx int) {
	ctx, cancel := context.WithTimeout(job.ctx, p.timeout)
	defer cancel()

	var res *correction.Result
	var err error
	if job.method == correction.MethodUnconstrained {
		res, err = p.corrector.Unconstrained(job.model, job.tables[idx], job.opts)
	} else {
		res, err = p.corrector.Constrained(ctx, job.model, job.tables[idx], job.opts)
	}
	if err != nil {
		p.log.Debug().Err(err).Str("job", job.id).Int("item", idx).Msg("Batch item failed")
	}

	completed, done := job.recordItem(idx, res, err)
	job.reporter.Report(completed, len(job.tables))
	if done {
		snap := job.Snapshot(false)
		job.reporter.emitFinished(snap)
		p.log.Info().Str("job", job.id).Str("state", string(snap.State)).
			Int("failed", snap.Failed).Msg("Batch job finished")
	}
}
