// Package pool provides the bounded worker pool that runs background
// generation units.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool queue is full")
)

// Unit is one background generation unit. The context it receives is
// detached from the submitting request: once scheduled, a unit runs to
// completion even if the caller went away.
type Unit func(ctx context.Context)

// Config configures the pool.
type Config struct {
	MaxWorkers  int           `json:"max_workers"`
	QueueSize   int           `json:"queue_size"`
	IdleTimeout time.Duration `json:"idle_timeout"`
	// OnPanic observes panics recovered from units.
	OnPanic func(any) `json:"-"`
}

// DefaultConfig returns defaults sized for image generation: units run
// for tens of seconds, so a handful of workers is plenty.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  8,
		QueueSize:   64,
		IdleTimeout: 60 * time.Second,
	}
}

// WorkerPool runs generation units on a bounded set of goroutines.
// Submission never blocks: a full queue is an immediate ErrPoolFull so
// the caller can tell the user instead of silently stalling.
type WorkerPool struct {
	maxWorkers  int
	queue       chan Unit
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64

	idleTimeout time.Duration
	onPanic     func(any)
}

// New creates a worker pool from the config.
func New(cfg Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &WorkerPool{
		maxWorkers:  cfg.MaxWorkers,
		queue:       make(chan Unit, cfg.QueueSize),
		idleTimeout: cfg.IdleTimeout,
		onPanic:     cfg.OnPanic,
	}
}

// Submit enqueues a unit for background execution.
func (p *WorkerPool) Submit(unit Unit) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.queue <- unit:
		p.submitted.Add(1)
		p.ensureWorker()
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

func (p *WorkerPool) ensureWorker() {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return
		}
		// 已有空闲 worker 时不再扩容
		if current > p.activeCount.Load() {
			return
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case unit, ok := <-p.queue:
			if !ok {
				return
			}
			p.activeCount.Add(1)
			p.run(unit)
			p.activeCount.Add(-1)
			p.completed.Add(1)
			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// 空闲退出，保留最后一个 worker 兜底
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *WorkerPool) run(unit Unit) {
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
	}()
	unit(context.Background())
}

// Close stops accepting units and waits for in-flight ones to finish.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}

// Stats returns a snapshot of pool counters.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats contains pool counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
}
