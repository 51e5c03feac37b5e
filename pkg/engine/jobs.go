package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/observability"
)

// jobRunner is the synchronous pipeline entry point a jobQueue worker calls
// for each dequeued job. It is e.runSync in production, substitutable in
// tests.
type jobRunner func(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error)

// jobQueue is a bounded FIFO of async execution requests drained by a
// fixed-size worker pool. A full queue is reported back to the submitter
// immediately rather than blocking.
type jobQueue struct {
	run     jobRunner
	workers int
	queue   chan string // job IDs, in submission order

	mu   sync.RWMutex
	jobs map[string]*api.Job

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// ErrQueueFull is returned by SubmitAsync when the async queue has no room
// for another job.
var ErrQueueFull = queueFullError{}

type queueFullError struct{}

func (queueFullError) Error() string { return "engine: async queue is full" }

func newJobQueue(depth, workers int, run jobRunner) *jobQueue {
	return &jobQueue{
		run:     run,
		workers: workers,
		queue:   make(chan string, depth),
		jobs:    make(map[string]*api.Job),
		stopCh:  make(chan struct{}),
	}
}

// start launches the worker pool. Safe to call once.
func (q *jobQueue) start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// stop signals workers to exit after draining in-flight work and waits for
// them to finish.
func (q *jobQueue) stop() {
	close(q.stopCh)
	q.wg.Wait()
}

func (q *jobQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case id, ok := <-q.queue:
			if !ok {
				return
			}
			q.runJob(id)
		}
	}
}

func (q *jobQueue) runJob(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.State != api.JobStateQueued {
		q.mu.Unlock()
		return
	}
	now := time.Now()
	job.StartedAt = &now
	job.State = api.JobStateRunning
	principalID, req := job.PrincipalID, job.Request
	q.mu.Unlock()
	observability.QueueDepth.Set(float64(len(q.queue)))

	result, err := q.run(context.Background(), principalID, req)

	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok = q.jobs[id]
	if !ok {
		return
	}
	completed := time.Now()
	job.CompletedAt = &completed
	if err != nil {
		job.State = api.JobStateFailed
		job.Result = &api.ExecutionResult{
			ExecutionID: id,
			Status:      api.ExecutionStatusError,
			Stderr:      err.Error(),
		}
		return
	}
	job.Result = result
	switch result.Status {
	case api.ExecutionStatusSuccess:
		job.State = api.JobStateCompleted
	case api.ExecutionStatusTimeout:
		job.State = api.JobStateFailed
	default:
		job.State = api.JobStateFailed
	}
}

// submit enqueues a new job and returns its ID, or ErrQueueFull if the
// queue has no capacity.
func (q *jobQueue) submit(principalID string, req api.ExecutionRequest) (*api.Job, error) {
	job := &api.Job{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Request:     req,
		State:       api.JobStateQueued,
		QueuedAt:    time.Now(),
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	select {
	case q.queue <- job.ID:
		observability.QueueDepth.Set(float64(len(q.queue)))
		return job, nil
	default:
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		return nil, ErrQueueFull
	}
}

// queueLen reports how many jobs are currently waiting for a worker.
func (q *jobQueue) queueLen() int {
	return len(q.queue)
}

// status returns a snapshot of a job by ID.
func (q *jobQueue) status(id string) (*api.Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// cancel marks a still-queued job cancelled. It cannot interrupt a job
// already dispatched to a worker.
func (q *jobQueue) cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || job.State != api.JobStateQueued {
		return false
	}
	job.State = api.JobStateCancelled
	now := time.Now()
	job.CompletedAt = &now
	return true
}

// cleanup drops completed/failed/cancelled jobs older than horizon,
// keeping memory bounded for long-running brokers. Queued and running
// jobs are never dropped regardless of age.
func (q *jobQueue) cleanup(horizon time.Duration) int {
	cutoff := time.Now().Add(-horizon)
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, job := range q.jobs {
		if job.State == api.JobStateQueued || job.State == api.JobStateRunning {
			continue
		}
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}
