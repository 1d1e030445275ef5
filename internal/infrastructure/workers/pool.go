// Package workers runs fire-and-forget tasks on a bounded pool.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of background work. Its error is logged, never returned
// to the submitter.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
}

// Stats holds pool counters.
type Stats struct {
	Submitted atomic.Int64
	Completed atomic.Int64
	Failed    atomic.Int64
	Dropped   atomic.Int64
}

// StatsSnapshot is a copy of the pool counters.
type StatsSnapshot struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

var ErrPoolClosed = errors.New("worker pool closed")

// Pool is a fixed set of workers reading from a bounded queue.
type Pool struct {
	mu     sync.RWMutex
	closed bool
	queue  chan Task

	workers int
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *logging.ChanneledLogger
	stats   Stats
}

// NewPool starts cfg.Workers workers.
func NewPool(cfg Config, logger *logging.ChanneledLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	p := &Pool{
		queue:   make(chan Task, cfg.QueueSize),
		workers: cfg.Workers,
		group:   group,
		ctx:     gctx,
		cancel:  cancel,
		logger:  logger,
	}

	for i := 0; i < cfg.Workers; i++ {
		group.Go(p.work)
	}

	logger.System().Info("Worker pool started", "workers", cfg.Workers, "queueSize", cfg.QueueSize)
	return p
}

func (p *Pool) work() error {
	for task := range p.queue {
		p.run(task)
	}
	return nil
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.Failed.Add(1)
			p.logger.System().Error("Background task panicked", "task", task.Name, "panic", fmt.Sprint(r))
		}
	}()

	if err := task.Run(p.ctx); err != nil {
		p.stats.Failed.Add(1)
		p.logger.System().Error("Background task failed", "task", task.Name, "error", err.Error())
		return
	}
	p.stats.Completed.Add(1)
}

// Submit enqueues a task without blocking. It returns false when the queue
// is full or the pool is shutting down; the task is then dropped.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.stats.Dropped.Add(1)
		return false
	}

	select {
	case p.queue <- task:
		p.stats.Submitted.Add(1)
		return true
	default:
		p.stats.Dropped.Add(1)
		p.logger.System().Warn("Worker queue full, task dropped", "task", task.Name, "queueSize", cap(p.queue))
		return false
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish. When
// ctx ends first, running tasks see their context cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()

	select {
	case err := <-done:
		p.cancel()
		p.logger.Shutdown().Info("Worker pool drained", "completed", p.stats.Completed.Load(), "failed", p.stats.Failed.Load())
		return err
	case <-ctx.Done():
		p.cancel()
		p.logger.Shutdown().Warn("Worker pool shutdown timed out", "queued", len(p.queue))
		return fmt.Errorf("failed to drain worker pool: %w", ctx.Err())
	}
}

// Stats returns the current pool counters.
func (p *Pool) Stats() StatsSnapshot {
	return StatsSnapshot{
		Workers:   p.workers,
		Queued:    len(p.queue),
		Submitted: p.stats.Submitted.Load(),
		Completed: p.stats.Completed.Load(),
		Failed:    p.stats.Failed.Load(),
		Dropped:   p.stats.Dropped.Load(),
	}
}
