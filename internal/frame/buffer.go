package frame

import (
	"sync"
	"sync/atomic"
	"time"
)

// Buffer is a single-slot latest-wins frame cache. Each Publish overwrites
// the held frame; there is no queue, so a slow consumer costs freshness
// drops instead of latency. One producer, any number of readers.
type Buffer struct {
	mu       sync.Mutex
	frame    *Frame
	consumed bool

	firstOnce sync.Once
	first     chan struct{}

	drops uint64
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{first: make(chan struct{})}
}

// Publish replaces the held frame with f. If the previous frame was never
// read it counts as a drop.
func (b *Buffer) Publish(f *Frame) {
	b.mu.Lock()
	if b.frame != nil && !b.consumed {
		atomic.AddUint64(&b.drops, 1)
	}
	b.frame = f
	b.consumed = false
	b.mu.Unlock()

	b.firstOnce.Do(func() { close(b.first) })
}

// Latest returns a private copy of the most recent frame, or nil if nothing
// has been published yet. Never blocks.
func (b *Buffer) Latest() *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frame == nil {
		return nil
	}
	b.consumed = true
	return b.frame.Clone()
}

// WaitFirst blocks until the first frame has been published or the timeout
// expires. Reports whether a frame arrived in time.
func (b *Buffer) WaitFirst(timeout time.Duration) bool {
	select {
	case <-b.first:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Drops returns the number of frames overwritten before being read.
func (b *Buffer) Drops() uint64 {
	return atomic.LoadUint64(&b.drops)
}
