// Package tasks runs fire-and-forget background work on a bounded worker
// pool. Enrichment is best-effort: a dropped task is simply re-derived by a
// later batch, so Submit never blocks the caller.
package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/overlaphq/overlap/internal/metrics"
)

// task pairs a unit of work with its name for logging.
type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Config holds the worker pool sizing.
type Config struct {
	Workers   int
	QueueSize int
	// TaskTimeout bounds a single task's execution (default 30s).
	TaskTimeout time.Duration
}

// Runner is the bounded fire-and-forget task pool.
type Runner struct {
	queue   chan task
	workers int
	timeout time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewRunner creates the task pool. m may be nil.
func NewRunner(cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}

	return &Runner{
		queue:   make(chan task, cfg.QueueSize),
		workers: cfg.Workers,
		timeout: cfg.TaskTimeout,
		metrics: m,
		logger:  logger.With().Str("component", "tasks").Logger(),
	}
}

// Start launches the worker goroutines.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return // already running
	}

	ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}

	r.logger.Info().Int("workers", r.workers).Msg("task runner started")
}

// Stop cancels in-flight tasks and waits for workers to exit.
func (r *Runner) Stop() {
	if !r.running.Swap(false) {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info().Msg("task runner stopped")
}

// Submit enqueues fn without blocking. It returns false when the queue is
// full or the runner is not running.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) bool {
	if !r.running.Load() {
		return false
	}

	select {
	case r.queue <- task{name: name, fn: fn}:
		if r.metrics != nil {
			r.metrics.RecordTask(name, "enqueued")
		}
		return true
	default:
		if r.metrics != nil {
			r.metrics.RecordTask(name, "dropped")
		}
		r.logger.Warn().Str("task", name).Msg("task dropped, queue full")
		return false
	}
}

func (r *Runner) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.logger.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker stopping")
			return
		case t, ok := <-r.queue:
			if !ok {
				return
			}
			r.run(ctx, t, log)
		}
	}
}

func (r *Runner) run(ctx context.Context, t task, log zerolog.Logger) {
	taskCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := t.fn(taskCtx)
	elapsed := time.Since(start)

	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordTask(t.name, "failed")
		}
		log.Error().Err(err).Str("task", t.name).Dur("elapsed", elapsed).Msg("task failed")
		return
	}

	if r.metrics != nil {
		r.metrics.RecordTask(t.name, "completed")
	}
	log.Debug().Str("task", t.name).Dur("elapsed", elapsed).Msg("task completed")
}
