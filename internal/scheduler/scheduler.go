// Package scheduler runs the polling loop: it asks for due watches, processes them one at a
// time with randomized pacing and per-watch backoff, and stops gracefully.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"listing_watcher/internal/backoff"
	"listing_watcher/internal/config"
	"listing_watcher/internal/domain"
)

const (
	backoffFactor = 2
	// abandonTimeout bounds the wait for a loop that ignores cancellation.
	abandonTimeout = 5 * time.Second
)

// Processor is the watch-level work the loop drives.
type Processor interface {
	DueWatches(ctx context.Context, interval time.Duration) ([]domain.Watch, error)
	Process(ctx context.Context, watch domain.Watch) (*domain.CheckStats, error)
}

type Scheduler struct {
	processor Processor
	cfg       config.SchedulerConfig
	logger    *slog.Logger
	rnd       backoff.Rand
	sleep     func(ctx context.Context, d time.Duration) error
	abandon   time.Duration

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc // graceful: interrupts sleeps, no new watches
	cancel  context.CancelFunc // hard: cancels in-flight work
	done    chan struct{}

	// Touched only by the loop goroutine.
	failures map[int64]int
}

func NewScheduler(processor Processor, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		processor: processor,
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
		rnd:       backoff.Default,
		sleep:     backoff.Sleep,
		abandon:   abandonTimeout,
		failures:  make(map[int64]int),
	}
}

// Start spawns the loop. Calling it while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	work, cancel := context.WithCancel(ctx)
	soft, stop := context.WithCancel(work)

	s.running = true
	s.cancel = cancel
	s.stop = stop
	s.done = make(chan struct{})

	go s.run(work, soft, s.done)
}

// Stop signals the loop and waits up to the configured grace period before cancelling
// in-flight work. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop, cancel, done := s.stop, s.cancel, s.done
	s.mu.Unlock()

	stop()

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		cancel()
		return
	case <-timer.C:
	}

	s.logger.Warn("scheduler did not stop in time, cancelling", "timeout", s.cfg.StopTimeout)
	cancel()

	abandon := time.NewTimer(s.abandon)
	defer abandon.Stop()

	select {
	case <-done:
	case <-abandon.C:
		s.logger.Error("scheduler loop ignored cancellation, abandoning it", "wait", s.abandon)
		s.mu.Lock()
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done is closed when the current loop exits. It is nil before the first Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scheduler) run(work, soft context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval,
		"max_retries", s.cfg.MaxRetries,
	)

	for soft.Err() == nil {
		if err := s.cycle(work, soft); err != nil {
			s.logger.Error("scheduler cycle failed", "error", err, "pause", s.cfg.ErrorPause)
			if s.sleep(soft, s.cfg.ErrorPause) != nil {
				break
			}
			continue
		}

		if s.sleep(soft, s.cfg.Interval) != nil {
			break
		}
	}

	s.logger.Info("scheduler stopped")
}

// cycle runs one due-watch pass and turns a panic into an error.
func (s *Scheduler) cycle(work, soft context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scheduler cycle: %v", r)
		}
	}()
	return s.processDue(work, soft)
}

func (s *Scheduler) processDue(work, soft context.Context) error {
	due, err := s.processor.DueWatches(work, s.cfg.Interval)
	if err != nil {
		return fmt.Errorf("load due watches: %w", err)
	}
	if len(due) == 0 {
		s.logger.Debug("no watches due")
		return nil
	}

	s.logger.Info("processing due watches", "count", len(due))

	for _, watch := range due {
		if soft.Err() != nil {
			return nil
		}

		if !s.processWatch(work, soft, watch) {
			continue
		}

		delay := time.Duration(backoff.Uniform(s.rnd,
			float64(s.cfg.RequestDelayMin),
			float64(s.cfg.RequestDelayMax),
		))
		if s.sleep(soft, delay) != nil {
			return nil
		}
	}
	return nil
}

// processWatch reports whether the watch succeeded. Failures are counted and backed off.
func (s *Scheduler) processWatch(work, soft context.Context, watch domain.Watch) bool {
	logger := s.logger.With("watch_id", watch.ID)

	jitter := backoff.JitteredInterval(s.rnd, s.cfg.Interval, s.cfg.JitterMin, s.cfg.JitterMax)
	if jitter > 0 {
		if s.sleep(soft, jitter) != nil {
			return false
		}
	}

	_, err := s.processor.Process(work, watch)
	if err == nil {
		delete(s.failures, watch.ID)
		return true
	}

	count := s.failures[watch.ID]
	if count >= s.cfg.MaxRetries {
		logger.Error("max retries exceeded, skipping watch for this pass",
			"attempts", count,
			"error", err,
		)
		delete(s.failures, watch.ID)
		return false
	}

	delay := backoff.Delay(count, s.cfg.BaseBackoff, s.cfg.MaxBackoff, backoffFactor)
	s.failures[watch.ID] = count + 1

	logger.Warn("watch processing failed",
		"attempt", count+1,
		"max_retries", s.cfg.MaxRetries,
		"retry_in", delay,
		"error_code", domain.TextCode(err),
		"error", err,
	)

	_ = s.sleep(soft, delay)
	return false
}
