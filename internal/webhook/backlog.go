package webhook

import "sync"

// backlog is an unbounded FIFO of delivery jobs shared by the delivery workers. push never
// blocks and never rejects, so a burst larger than the worker pool waits instead of being lost.
type backlog struct {
	mu     sync.Mutex
	jobs   []deliveryJob
	notify chan struct{}
}

func newBacklog(capacity int) *backlog {
	return &backlog{
		jobs:   make([]deliveryJob, 0, capacity),
		notify: make(chan struct{}, 1),
	}
}

// push appends job and returns the new depth.
func (b *backlog) push(job deliveryJob) int {
	b.mu.Lock()
	b.jobs = append(b.jobs, job)
	n := len(b.jobs)
	b.mu.Unlock()
	b.signal()
	return n
}

// pop removes the oldest job. When jobs remain it wakes another waiting worker.
func (b *backlog) pop() (deliveryJob, int, bool) {
	b.mu.Lock()
	if len(b.jobs) == 0 {
		b.mu.Unlock()
		return deliveryJob{}, 0, false
	}
	job := b.jobs[0]
	b.jobs[0] = deliveryJob{}
	b.jobs = b.jobs[1:]
	n := len(b.jobs)
	if n == 0 {
		// Release the drained backing array.
		b.jobs = nil
	}
	b.mu.Unlock()
	if n > 0 {
		b.signal()
	}
	return job, n, true
}

func (b *backlog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}

// ready fires after a push or a pop that left work behind.
func (b *backlog) ready() <-chan struct{} {
	return b.notify
}

func (b *backlog) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
