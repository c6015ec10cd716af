package service

import (
	"log/slog"
	"sync"
)

// DefaultPersistQueueSize is the job buffer of a Persister.
const DefaultPersistQueueSize = 64

// Persister runs store writes on a single background goroutine so callers on
// the session path never wait on disk. Jobs run in submission order.
type Persister struct {
	logger *slog.Logger
	jobs   chan func()

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPersister starts the worker goroutine. Call Close to stop it.
func NewPersister(logger *slog.Logger, queueSize int) *Persister {
	if queueSize <= 0 {
		queueSize = DefaultPersistQueueSize
	}
	p := &Persister{
		logger: logger.With(slog.String("service", "Persister")),
		jobs:   make(chan func(), queueSize),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Persister) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.runJob(job)
	}
}

func (p *Persister) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("persist job panicked", slog.Any("panic", r))
		}
	}()
	job()
}

// Submit queues job. It blocks while the buffer is full and returns false once
// the persister is closed.
func (p *Persister) Submit(job func()) bool {
	if job == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Debug("dropping persist job after close")
		return false
	}
	p.jobs <- job
	return true
}

// Flush blocks until every job submitted before the call has run.
func (p *Persister) Flush() {
	done := make(chan struct{})
	if !p.Submit(func() { close(done) }) {
		return
	}
	<-done
}

// Close drains pending jobs and stops the worker. Safe to call more than once.
func (p *Persister) Close() {
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
