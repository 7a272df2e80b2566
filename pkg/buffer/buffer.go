package buffer

import (
	"sync"

	"go.uber.org/zap"
)

// RingBuffer is a thread-safe generic circular buffer.
// When full, Add overwrites the oldest item.
type RingBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	capacity int
	size     int
	head     int
	dropped  uint64
	logger   *zap.Logger
}

// New creates a RingBuffer with the given capacity
func New[T any](capacity int, logger *zap.Logger) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Add inserts an item, overwriting the oldest one when the buffer is full
func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == rb.capacity {
		rb.dropped++
		rb.logger.Debug("ring buffer full, overwriting oldest entry",
			zap.Int("capacity", rb.capacity),
			zap.Uint64("dropped_total", rb.dropped))
	}

	rb.data[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity
	if rb.size < rb.capacity {
		rb.size++
	}
}

// GetAllAndClear returns all items oldest first and empties the buffer
func (rb *RingBuffer[T]) GetAllAndClear() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	items := rb.ordered()
	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.size = 0
	rb.head = 0

	return items
}

// Snapshot returns all items oldest first without clearing the buffer
func (rb *RingBuffer[T]) Snapshot() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ordered()
}

// Latest returns the most recently added item
func (rb *RingBuffer[T]) Latest() (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var zero T
	if rb.size == 0 {
		return zero, false
	}
	return rb.data[(rb.head-1+rb.capacity)%rb.capacity], true
}

// ordered copies the live items oldest first. Caller holds the lock.
func (rb *RingBuffer[T]) ordered() []T {
	if rb.size == 0 {
		return nil
	}

	items := make([]T, rb.size)
	start := (rb.head - rb.size + rb.capacity) % rb.capacity
	for i := 0; i < rb.size; i++ {
		items[i] = rb.data[(start+i)%rb.capacity]
	}
	return items
}

// Size returns the current number of items
func (rb *RingBuffer[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns the maximum number of items
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// Stats returns size, capacity and the number of overwritten items
func (rb *RingBuffer[T]) Stats() (size, capacity int, dropped uint64) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size, rb.capacity, rb.dropped
}
