// Package task runs fire-and-forget background jobs through a small worker
// pool. Dispatch never blocks the caller; tests use Wait to drain the queue
// deterministically instead of sleeping.
package task

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job is a unit of background work. The context carries the job timeout.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher owns the worker pool. Failures are logged and absorbed: there
// is no retry and no dead-letter handling, background work is best-effort.
type Dispatcher struct {
	jobs    chan Job
	wg      sync.WaitGroup
	pending sync.WaitGroup
	timeout time.Duration

	closeOnce sync.Once
}

// New starts a dispatcher with the given number of workers and queue depth.
func New(workers, queueDepth int) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}

	d := &Dispatcher{
		jobs:    make(chan Job, queueDepth),
		timeout: 60 * time.Second,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.run(job)
		d.pending.Done()
	}
}

func (d *Dispatcher) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := job.Run(ctx); err != nil {
		log.Printf("task %s: %v", job.Name, err)
	}
}

// Dispatch queues a job without blocking. When the queue is full the job
// spills onto its own goroutine rather than being dropped or stalling the
// caller.
func (d *Dispatcher) Dispatch(name string, fn func(ctx context.Context) error) {
	job := Job{Name: name, Run: fn}
	d.pending.Add(1)
	select {
	case d.jobs <- job:
	default:
		log.Printf("task queue full, spilling %s to a new goroutine", name)
		go func() {
			d.run(job)
			d.pending.Done()
		}()
	}
}

// Wait blocks until every dispatched job has finished.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Close drains the queue and stops the workers.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.pending.Wait()
		close(d.jobs)
		d.wg.Wait()
	})
}
