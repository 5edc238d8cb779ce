// Package application holds the calendar use cases: sync orchestration,
// busy block reconciliation, manual busy blocks and disconnect.
package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultPoolSize is the number of concurrent provider calls.
const DefaultPoolSize = 4

// ErrPoolClosed is returned by Do after Close.
var ErrPoolClosed = errors.New("provider pool is closed")

type poolJob struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// ProviderPool runs provider calls on a fixed set of workers. Callers wait on
// the result and may stop waiting when their context ends; the worker then
// finishes the call and discards the result.
type ProviderPool struct {
	jobs    chan poolJob
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	running atomic.Bool
	logger  *slog.Logger
}

// NewProviderPool starts size workers. A size below one uses DefaultPoolSize.
func NewProviderPool(size int, logger *slog.Logger) *ProviderPool {
	if size < 1 {
		size = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &ProviderPool{
		jobs:   make(chan poolJob),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	p.running.Store(true)
	for i := range size {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

func (p *ProviderPool) work(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case job := <-p.jobs:
			job.done <- p.run(id, job)
		}
	}
}

func (p *ProviderPool) run(id int, job poolJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("provider call panicked", "worker", id, "panic", r)
			err = errors.New("provider call panicked")
		}
	}()
	if err := job.ctx.Err(); err != nil {
		return err
	}
	return job.fn(job.ctx)
}

// Do runs fn on a worker and waits for it, or for ctx to end.
func (p *ProviderPool) Do(ctx context.Context, fn func(context.Context) error) error {
	job := poolJob{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.jobs <- job:
	case <-p.stopCh:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers after their current call.
func (p *ProviderPool) Close() {
	p.once.Do(func() {
		p.running.Store(false)
		close(p.stopCh)
		p.wg.Wait()
	})
}

// IsRunning reports whether the pool accepts work.
func (p *ProviderPool) IsRunning() bool {
	return p.running.Load()
}
