package jobqueue

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"listing_watcher/internal/domain"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []int64
	err     error
	release chan struct{}
}

func (f *fakeRunner) ProcessByID(ctx context.Context, watchID int64) (*domain.CheckStats, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, watchID)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CheckStats{WatchID: watchID, New: 2}, nil
}

type QueueTestSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestQueueTestSuite(t *testing.T) {
	suite.Run(t, new(QueueTestSuite))
}

func (s *QueueTestSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func (s *QueueTestSuite) waitStatus(q *Queue, id string, status domain.JobStatus) *domain.Job {
	var job *domain.Job
	s.Eventually(func() bool {
		j, err := q.Get(id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func (s *QueueTestSuite) TestSubmit_Completes() {
	runner := &fakeRunner{}
	q := New(runner, 10, s.logger)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	job, err := q.Submit(domain.JobTypeRescrape, 7)
	s.Require().NoError(err)
	s.NotEmpty(job.ID)
	s.Equal(domain.JobQueued, job.Status)

	done := s.waitStatus(q, job.ID, domain.JobCompleted)
	s.Require().NotNil(done.Result)
	s.Equal(2, done.Result.New)
	s.NotNil(done.StartedAt)
	s.NotNil(done.CompletedAt)
	s.Empty(done.Error)
}

func (s *QueueTestSuite) TestSubmit_Fails() {
	runner := &fakeRunner{err: domain.NewNotFound("watch", 7)}
	q := New(runner, 10, s.logger)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	job, err := q.Submit(domain.JobTypeRescrape, 7)
	s.Require().NoError(err)

	failed := s.waitStatus(q, job.ID, domain.JobFailed)
	s.Contains(failed.Error, "not found")
	s.Nil(failed.Result)
}

func (s *QueueTestSuite) TestSubmit_UnknownType() {
	q := New(&fakeRunner{}, 10, s.logger)

	_, err := q.Submit("reindex", 1)
	s.Equal(domain.TextCodeBadInput, domain.TextCode(err))
}

func (s *QueueTestSuite) TestSubmit_QueueFull() {
	q := New(&fakeRunner{}, 1, s.logger)

	_, err := q.Submit(domain.JobTypeRescrape, 1)
	s.Require().NoError(err)

	_, err = q.Submit(domain.JobTypeRescrape, 2)
	s.Equal(domain.TextCodeQueueFull, domain.TextCode(err))
	s.Len(q.List(), 1)
}

func (s *QueueTestSuite) TestNew_NonPositiveCapacityUsesDefault() {
	for _, capacity := range []int{0, -3} {
		q := New(&fakeRunner{}, capacity, s.logger)
		s.Equal(DefaultCapacity, q.capacity)
		s.Equal(DefaultCapacity, cap(q.pending))
	}
}

func (s *QueueTestSuite) TestCancel_QueuedJobIsSkipped() {
	runner := &fakeRunner{}
	q := New(runner, 10, s.logger)

	job, err := q.Submit(domain.JobTypeRescrape, 1)
	s.Require().NoError(err)
	other, err := q.Submit(domain.JobTypeRescrape, 2)
	s.Require().NoError(err)

	s.NoError(q.Cancel(job.ID))

	q.Start(context.Background())
	defer q.Stop(context.Background())

	s.waitStatus(q, other.ID, domain.JobCompleted)

	cancelled, err := q.Get(job.ID)
	s.NoError(err)
	s.Equal(domain.JobCancelled, cancelled.Status)

	runner.mu.Lock()
	s.Equal([]int64{2}, runner.calls)
	runner.mu.Unlock()

	s.Equal(domain.TextCodeConflict, domain.TextCode(q.Cancel(job.ID)))
}

func (s *QueueTestSuite) TestCancel_Unknown() {
	q := New(&fakeRunner{}, 10, s.logger)
	s.True(domain.IsNotFound(q.Cancel("missing")))

	_, err := q.Get("missing")
	s.True(domain.IsNotFound(err))
}

func (s *QueueTestSuite) TestCancel_ProcessingJobConflicts() {
	runner := &fakeRunner{release: make(chan struct{})}
	q := New(runner, 10, s.logger)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	job, err := q.Submit(domain.JobTypeRescrape, 1)
	s.Require().NoError(err)

	s.waitStatus(q, job.ID, domain.JobProcessing)
	s.Equal(domain.TextCodeConflict, domain.TextCode(q.Cancel(job.ID)))

	close(runner.release)
	s.waitStatus(q, job.ID, domain.JobCompleted)
}

func (s *QueueTestSuite) TestList_OrderAndCopies() {
	q := New(&fakeRunner{}, 10, s.logger)

	first, _ := q.Submit(domain.JobTypeRescrape, 1)
	second, _ := q.Submit(domain.JobTypeRescrape, 2)

	jobs := q.List()
	s.Require().Len(jobs, 2)
	s.Equal(first.ID, jobs[0].ID)
	s.Equal(second.ID, jobs[1].ID)

	jobs[0].Status = domain.JobFailed
	again, _ := q.Get(first.ID)
	s.Equal(domain.JobQueued, again.Status)
}

func (s *QueueTestSuite) TestStartStop() {
	q := New(&fakeRunner{}, 10, s.logger)
	s.False(q.Running())
	s.NoError(q.Stop(context.Background()))

	q.Start(context.Background())
	q.Start(context.Background())
	s.True(q.Running())

	s.NoError(q.Stop(context.Background()))
	s.False(q.Running())
}

func (s *QueueTestSuite) TestStop_CancelsInFlightJob() {
	runner := &fakeRunner{release: make(chan struct{})}
	q := New(runner, 10, s.logger)
	q.Start(context.Background())

	job, err := q.Submit(domain.JobTypeRescrape, 1)
	s.Require().NoError(err)
	s.waitStatus(q, job.ID, domain.JobProcessing)

	s.NoError(q.Stop(context.Background()))

	failed, err := q.Get(job.ID)
	s.NoError(err)
	s.Equal(domain.JobFailed, failed.Status)
	s.Contains(failed.Error, "context canceled")
}
