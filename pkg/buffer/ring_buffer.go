package buffer

import "sync"

// RingBuffer is a thread-safe fixed-size buffer that overwrites the oldest
// elements when full, keeping a sliding window of the most recent data.
//
// head and tail grow monotonically; positions in buf are taken modulo its
// length.
type RingBuffer[T any] struct {
	mu         sync.Mutex
	buf        []T
	head, tail int64
}

// RingN creates a RingBuffer holding at most size elements. A size below 1
// is treated as 1.
func RingN[T any](size int) *RingBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &RingBuffer[T]{buf: make([]T, size)}
}

// Add appends one element, dropping the oldest when the buffer is full.
func (rb *RingBuffer[T]) Add(t T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.addLocked(t)
}

// Write appends every element of p in order. It never blocks and always
// reports len(p) written; elements beyond capacity push out older ones.
func (rb *RingBuffer[T]) Write(p []T) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	// Only the last len(buf) elements can survive.
	skip := 0
	if n := len(rb.buf); len(p) > n {
		skip = len(p) - n
		rb.head += int64(skip)
		rb.tail += int64(skip)
	}
	for _, t := range p[skip:] {
		rb.addLocked(t)
	}
	return len(p), nil
}

func (rb *RingBuffer[T]) addLocked(t T) {
	size := int64(len(rb.buf))
	rb.buf[rb.tail%size] = t
	rb.tail++
	if rb.tail-rb.head > size {
		rb.head = rb.tail - size
	}
}

// Len returns the number of buffered elements.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return int(rb.tail - rb.head)
}

// Bytes returns a copy of the buffered elements, oldest first.
func (rb *RingBuffer[T]) Bytes() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := int(rb.tail - rb.head)
	out := make([]T, 0, n)
	if n == 0 {
		return out
	}
	size := int64(len(rb.buf))
	h := int(rb.head % size)
	if h+n <= len(rb.buf) {
		return append(out, rb.buf[h:h+n]...)
	}
	out = append(out, rb.buf[h:]...)
	return append(out, rb.buf[:n-len(out)]...)
}
