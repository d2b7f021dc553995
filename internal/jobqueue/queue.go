// Package jobqueue runs on-demand rescrapes on a single background worker.
package jobqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"listing_watcher/internal/domain"
)

const (
	// DefaultCapacity is the number of jobs that may wait for the worker.
	DefaultCapacity = 64
	maxHistory      = 500
)

// Runner processes one watch immediately.
type Runner interface {
	ProcessByID(ctx context.Context, watchID int64) (*domain.CheckStats, error)
}

type Queue struct {
	runner   Runner
	capacity int
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	jobs    map[string]*domain.Job
	order   []string
	pending chan string
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(runner Runner, capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		runner:   runner,
		capacity: capacity,
		logger:   logger.With("component", "jobqueue"),
		now:      time.Now,
		jobs:     make(map[string]*domain.Job),
		pending:  make(chan string, capacity),
	}
}

// Start launches the worker. Calling it while running is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	q.running = true
	q.cancel = cancel
	q.done = make(chan struct{})

	go q.work(ctx, q.done)
	q.logger.Info("job queue started", "capacity", q.capacity)
}

// Stop cancels the worker and waits for it until ctx expires. Queued jobs stay queued.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	cancel, done := q.cancel, q.done
	q.running = false
	q.mu.Unlock()

	cancel()

	select {
	case <-done:
		q.logger.Info("job queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Submit enqueues a job. It fails with a rate-limit envelope when the queue is full.
func (q *Queue) Submit(jobType domain.JobType, watchID int64) (*domain.Job, error) {
	if jobType != domain.JobTypeRescrape {
		return nil, domain.NewBadInput("unknown job type", map[string]any{"type": jobType})
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		WatchID:   watchID,
		Status:    domain.JobQueued,
		CreatedAt: q.now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.pending <- job.ID:
	default:
		return nil, domain.NewQueueFull(q.capacity)
	}

	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.prune()

	q.logger.Info("job submitted", "job_id", job.ID, "type", jobType, "watch_id", watchID)
	return copyJob(job), nil
}

func (q *Queue) Get(id string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, domain.NewNotFound("job", id)
	}
	return copyJob(job), nil
}

// List returns every retained job, oldest first.
func (q *Queue) List() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.Job, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *copyJob(q.jobs[id]))
	}
	return out
}

// Cancel marks a queued job cancelled. Jobs already picked up cannot be cancelled.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return domain.NewNotFound("job", id)
	}
	if job.Status != domain.JobQueued {
		return domain.NewConflict("job is not queued", map[string]any{
			"job_id": id,
			"status": job.Status,
		})
	}

	now := q.now()
	job.Status = domain.JobCancelled
	job.CompletedAt = &now
	return nil
}

func (q *Queue) work(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.pending:
			q.execute(ctx, id)
		}
	}
}

func (q *Queue) execute(ctx context.Context, id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != domain.JobQueued {
		q.mu.Unlock()
		return
	}
	started := q.now()
	job.Status = domain.JobProcessing
	job.StartedAt = &started
	watchID := job.WatchID
	q.mu.Unlock()

	logger := q.logger.With("job_id", id, "watch_id", watchID)
	logger.Info("job started")

	stats, err := q.runner.ProcessByID(ctx, watchID)

	q.mu.Lock()
	defer q.mu.Unlock()

	finished := q.now()
	job.CompletedAt = &finished
	if err != nil {
		job.Status = domain.JobFailed
		job.Error = err.Error()
		logger.Warn("job failed", "error", err)
		return
	}
	job.Status = domain.JobCompleted
	job.Result = stats
	logger.Info("job completed", "duration", finished.Sub(started))
}

// prune drops the oldest terminal jobs beyond the retention limit.
func (q *Queue) prune() {
	excess := len(q.order) - maxHistory
	if excess <= 0 {
		return
	}

	kept := q.order[:0]
	for _, id := range q.order {
		if excess > 0 && q.jobs[id].Status.Terminal() {
			delete(q.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

func copyJob(j *domain.Job) *domain.Job {
	c := *j
	if j.Result != nil {
		stats := *j.Result
		c.Result = &stats
	}
	return &c
}
