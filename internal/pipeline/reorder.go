package pipeline

import "sync"

// reorder releases values in strictly increasing sequence order. Values may
// be put in any order; pop only returns the value for the next expected
// sequence number. Every sequence number must eventually be put exactly once
// or delivery stalls.
type reorder[T any] struct {
	mu     sync.Mutex
	next   uint64
	ready  map[uint64]T
	closed bool

	// notify holds a token whenever pop may have something new to return.
	notify chan struct{}
}

func newReorder[T any](first uint64) *reorder[T] {
	return &reorder[T]{
		next:   first,
		ready:  make(map[uint64]T),
		notify: make(chan struct{}, 1),
	}
}

// put stores v for seq. Sequence numbers already released or already stored
// are ignored and reported as false.
func (r *reorder[T]) put(seq uint64, v T) bool {
	r.mu.Lock()
	if seq < r.next {
		r.mu.Unlock()
		return false
	}
	if _, dup := r.ready[seq]; dup {
		r.mu.Unlock()
		return false
	}
	r.ready[seq] = v
	r.mu.Unlock()
	r.signal()
	return true
}

// pop returns the value for the next sequence number if it is available.
func (r *reorder[T]) pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.ready[r.next]
	if !ok {
		var zero T
		return zero, false
	}
	delete(r.ready, r.next)
	r.next++
	return v, true
}

// close marks that no more values will be put.
func (r *reorder[T]) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
}

// drained reports whether the buffer is closed and nothing is left to pop.
func (r *reorder[T]) drained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed && len(r.ready) == 0
}

// held returns the number of values waiting for an earlier sequence number.
func (r *reorder[T]) held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready)
}

func (r *reorder[T]) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}
