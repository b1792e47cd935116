// internal/mailbox/mailbox.go
package mailbox

import "sync"

// Sender is the write side of a Mailbox.
type Sender[T any] interface {
	// Send enqueues msg and returns immediately. It reports false once the
	// receiver has closed the mailbox.
	Send(msg T) bool
}

// Mailbox is an unbounded FIFO queue with a single consumer. Senders never
// wait for the consumer; the consumer waits on Ready and then takes a batch.
type Mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	peak   int
	closed bool

	// ready holds at most one wake-up; Send never blocks on it.
	ready chan struct{}
}

// New creates an empty mailbox. capacity preallocates the queue; it is not a limit.
func New[T any](capacity int) *Mailbox[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Mailbox[T]{
		queue: make([]T, 0, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Send enqueues msg.
func (m *Mailbox[T]) Send(msg T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	m.peak = max(m.peak, len(m.queue))
	m.mu.Unlock()

	m.signal()
	return true
}

// Ready receives a value whenever messages may be waiting. A wake-up can find
// the queue already empty.
func (m *Mailbox[T]) Ready() <-chan struct{} { return m.ready }

// Take removes up to limit messages in arrival order; limit <= 0 takes all.
// If messages remain, Ready fires again.
func (m *Mailbox[T]) Take(limit int) []T {
	m.mu.Lock()
	n := len(m.queue)
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		m.mu.Unlock()
		return nil
	}
	batch := make([]T, n)
	copy(batch, m.queue)
	var zero T
	for i := range n {
		m.queue[i] = zero
	}
	m.queue = m.queue[n:]
	if len(m.queue) == 0 {
		m.queue = m.queue[:0:0]
	}
	remaining := len(m.queue)
	m.mu.Unlock()

	if remaining > 0 {
		m.signal()
	}
	return batch
}

// Len reports how many messages are queued.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Peak reports the deepest the queue has been.
func (m *Mailbox[T]) Peak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Close rejects further sends and discards whatever is queued.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queue = nil
}

func (m *Mailbox[T]) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}
