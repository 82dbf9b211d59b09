// Package worker runs detached background units of work. Coordinator
// launches go through here so they outlive the triggering update handler
// and report failures to one logging sink instead of vanishing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bowerhall/visage/internal/logger"
)

var ErrQueueFull = errors.New("worker queue full")

type task struct {
	name string
	fn   func(context.Context) error
}

type Pool struct {
	tasks     chan task
	wg        sync.WaitGroup
	mu        sync.Mutex
	stopped   bool
	active    int
	onFailure func(name string, err error)
}

// SetFailureHook installs an observer for failed or panicked tasks.
// Must be called before Start.
func (p *Pool) SetFailureHook(fn func(name string, err error)) {
	p.onFailure = fn
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}

	return &Pool{
		tasks: make(chan task, size*8),
	}
}

// Start launches the workers. They drain until ctx is canceled.
func (p *Pool) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.tasks:
			p.execute(ctx, t)
		}
	}
}

func (p *Pool) execute(ctx context.Context, t task) {
	p.mu.Lock()
	p.active++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()

		if r := recover(); r != nil {
			logger.Error("background task panicked", "task", t.name, "panic", fmt.Sprint(r))
			if p.onFailure != nil {
				p.onFailure(t.name, fmt.Errorf("panic: %v", r))
			}
		}
	}()

	if err := t.fn(ctx); err != nil {
		logger.Error("background task failed", "task", t.name, "error", err)
		if p.onFailure != nil {
			p.onFailure(t.name, err)
		}
	} else {
		logger.Debug("background task done", "task", t.name)
	}
}

// Submit enqueues a unit of work. It never blocks the caller: a full
// queue is reported as an error instead.
func (p *Pool) Submit(name string, fn func(context.Context) error) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()

	if stopped {
		return errors.New("worker pool stopped")
	}

	select {
	case p.tasks <- task{name: name, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Active reports tasks currently executing.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.active
}

// Stop refuses new work and waits for workers to exit. Callers cancel
// the Start context first.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.wg.Wait()
}
