// Package workerpool implements the bounded worker pool that services
// session handlers and timer-queued tasks (spec.md §5: "a pool of N worker
// threads (N ≈ 2 per process)"). No teacher or pack file models a generic
// task pool — the swap engine's own handlers are the work, not a library
// concern — so this is built directly from spec.md's concurrency model
// using plain goroutines and a buffered channel.
package workerpool

import (
	"sync"

	"github.com/xbridge-go/xbridged/pkg/logging"
)

// Task is a unit of work submitted to the pool: a session handler
// invocation, a timer-sweep pass, or an accepted TCP connection handoff.
type Task func()

// Pool runs submitted Tasks across a fixed number of worker goroutines.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup
	log   *logging.Logger
}

// New starts a Pool with size workers. size is clamped to at least 1.
func New(size int, queueDepth int) *Pool {
	if size < 1 {
		size = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}

	p := &Pool{
		tasks: make(chan Task, queueDepth),
		log:   logging.GetDefault().Component("workerpool"),
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.safeRun(task)
	}
}

// safeRun invokes task, recovering a panic so one misbehaving handler
// cannot take down a worker goroutine (spec.md §7: "Nothing except fatal
// OS errors terminates the process").
func (p *Pool) safeRun(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("recovered panic in worker task", "panic", r)
		}
	}()
	task()
}

// Submit enqueues task, blocking if every worker and the queue are busy.
func (p *Pool) Submit(task Task) {
	p.tasks <- task
}

// TrySubmit enqueues task without blocking, returning false if the queue is
// full.
func (p *Pool) TrySubmit(task Task) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Close stops accepting new tasks and waits for in-flight and queued tasks
// to drain.
func (p *Pool) Close() {
	close(p.tasks)
	p.wg.Wait()
}
