// Package queue implements the per-guild playback queue: a bounded FIFO
// of pending tracks plus the one currently playing. The current entry sits
// outside the bound; only pending is checked at enqueue time.
package queue

import (
	"errors"
	"sync"

	"quaver/internal/music/track"
)

const DefaultBound = 100

var (
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueWouldOverflow rejects a playlist expansion wholesale when
	// the batch does not fit. Nothing is enqueued partially.
	ErrQueueWouldOverflow = errors.New("playlist would overflow the queue")
	ErrEmpty              = errors.New("queue is empty")
)

type Queue struct {
	mu      sync.Mutex
	bound   int
	pending []*track.Descriptor
	current *track.Descriptor
	loop    bool
}

func New(bound int) *Queue {
	if bound <= 0 {
		bound = DefaultBound
	}
	return &Queue{bound: bound}
}

// Enqueue appends one track. Fails, not drops, at capacity.
func (q *Queue) Enqueue(t *track.Descriptor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.bound {
		return ErrQueueFull
	}
	q.pending = append(q.pending, t)
	return nil
}

// EnqueueMany appends a batch atomically: either every track fits or the
// queue is left untouched.
func (q *Queue) EnqueueMany(tracks []*track.Descriptor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending)+len(tracks) > q.bound {
		return ErrQueueWouldOverflow
	}
	q.pending = append(q.pending, tracks...)
	return nil
}

// DequeueNext pops the head of pending and makes it current.
func (q *Queue) DequeueNext() (*track.Descriptor, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, ErrEmpty
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	q.current = t
	return t, nil
}

// FinishCurrent clears the current entry. When loop mode is on and the
// track finished normally (not on error), a fresh copy goes to the tail
// instead of being discarded. The finished entry is returned so the
// caller can hand its artifact to the janitor, along with whether a loop
// re-enqueue had to be dropped because pending was already at the bound.
func (q *Queue) FinishCurrent(completed bool) (*track.Descriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.current
	q.current = nil
	if t == nil || !completed || !q.loop {
		return t, false
	}
	if len(q.pending) >= q.bound {
		return t, true
	}
	q.pending = append(q.pending, t.LoopCopy())
	return t, false
}

// Current returns the currently playing entry, if any.
func (q *Queue) Current() *track.Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// Peek returns up to n pending tracks without mutating order.
func (q *Queue) Peek(n int) []*track.Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.pending) {
		n = len(q.pending)
	}
	out := make([]*track.Descriptor, n)
	copy(out, q.pending[:n])
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) SetLoop(on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.loop = on
}

func (q *Queue) Loop() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loop
}

// Drain empties pending, returning the removed entries so the caller can
// release their artifacts. The current entry stays: its artifact belongs
// to the in-flight play path until that path exits.
func (q *Queue) Drain() []*track.Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}
