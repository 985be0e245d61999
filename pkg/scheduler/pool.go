package scheduler

import (
	"context"
	"log"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs submitted work with bounded parallelism. Submit never blocks.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	mu     sync.Mutex // orders wg.Add against Shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a pool running at most workers tasks at once
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit queues fn. It returns false once the pool is shutting down.
func (p *Pool) Submit(name string, fn func()) bool {
	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		log.Printf("scheduler: pool closed, dropping %s", name)
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			log.Printf("scheduler: %s not started: %v", name, err)
			return
		}
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("scheduler: %s panicked: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
	return true
}

// Shutdown drops queued work and waits for running work to finish
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

// Wait blocks until every submitted task has finished
func (p *Pool) Wait() {
	p.wg.Wait()
}
