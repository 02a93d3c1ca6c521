package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/research-agent/backend/pkg/logger"
)

var ErrQueueFull = errors.New("worker queue is full")

// Runner drives one session to a terminal status.
type Runner interface {
	Run(ctx context.Context, sessionID string) error
}

type Job struct {
	SessionID string
}

// Pool is the process-wide session executor: a bounded queue drained
// by a fixed set of workers, decoupling session lifetime from request
// lifetime.
type Pool struct {
	runner Runner
	jobs   chan Job
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(runner Runner, queueDepth int) *Pool {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Pool{
		runner: runner,
		jobs:   make(chan Job, queueDepth),
	}
}

// Start launches size workers that drain the queue until Shutdown.
func (p *Pool) Start(ctx context.Context, size int) {
	if size <= 0 {
		size = 4
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}

	logger.Info("Worker pool started",
		zap.Int("workers", size),
		zap.Int("queue_depth", cap(p.jobs)),
	)
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		if ctx.Err() != nil {
			return
		}

		logger.Debug("Worker picked up session",
			zap.Int("worker", id),
			zap.String("session_id", job.SessionID),
		)

		if err := p.runner.Run(ctx, job.SessionID); err != nil {
			logger.Error("Session run failed",
				zap.String("session_id", job.SessionID),
				zap.Error(err),
			)
		}
	}
}

// Enqueue adds a session job without blocking; a full queue is the
// caller's backpressure signal.
func (p *Pool) Enqueue(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrQueueFull
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for in-flight sessions to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()
	logger.Info("Worker pool stopped")
}
