package worker

import (
	"context"
	"log/slog"
	"sync"
)

type ProcessFunc[J any] func(ctx context.Context, job J) error

// Pool runs a fixed set of workers over a buffered job channel.
type Pool[J any] struct {
	numWorkers int
	jobs       chan J
	processor  ProcessFunc[J]
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool[J any](numWorkers, bufferSize int, processor ProcessFunc[J]) *Pool[J] {
	return &Pool[J]{
		numWorkers: numWorkers,
		jobs:       make(chan J, bufferSize),
		processor:  processor,
	}
}

func (p *Pool[J]) Start(ctx context.Context) {
	for i := 1; i <= p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *Pool[J]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.processor(ctx, job)
		}
	}
}

// Submit enqueues a job, dropping it when the buffer is full or the pool has
// stopped. Location uploads are periodic; a dropped one is superseded by the
// next. Submit may race Stop from the sampler's delivery goroutine, so the
// closed check and the send share the pool mutex.
func (p *Pool[J]) Submit(job J) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		slog.Debug("job dropped, pool stopped")
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		slog.Debug("job dropped, buffer full")
		return false
	}
}

func (p *Pool[J]) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
