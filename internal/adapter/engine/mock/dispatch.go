package mock

import "sync"

// dispatcher delivers listener callbacks on its own goroutine, in the order
// they were queued. The queue is unbounded so enqueueing never blocks the
// engine while it holds its lock.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *dispatcher) enqueue(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if d.closed || len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			fn()
		}
	}
}

// sync blocks until every callback queued before the call was delivered.
func (d *dispatcher) sync() {
	ch := make(chan struct{})
	if !d.enqueue(func() { close(ch) }) {
		return
	}
	select {
	case <-ch:
	case <-d.done:
	}
}

// close drops pending callbacks and waits for the loop to exit.
// It must not be called from a callback.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.queue = nil
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()
}
