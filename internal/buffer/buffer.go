package buffer

import (
	"sync"
	"time"

	"nettally/internal/model"
)

// Key identifies one accumulation bucket inside the open window.
type Key struct {
	App  string
	Addr string
}

// Counts is the running byte total for one key.
type Counts struct {
	BytesSent uint64
	BytesRecv uint64
}

// Buffer absorbs converted increments between flushes. The mutex guards only
// map mutation and the swap itself; draining and persistence happen on the
// map returned by Swap, outside the critical section, so the collection path
// is never blocked on I/O.
type Buffer struct {
	mu          sync.Mutex
	counts      map[Key]Counts
	windowStart time.Time
}

// New creates an empty buffer with the current window opening now.
func New() *Buffer {
	return &Buffer{
		counts:      make(map[Key]Counts),
		windowStart: time.Now(),
	}
}

// Merge adds an increment into the currently open window.
func (b *Buffer) Merge(inc model.TrafficIncrement) {
	key := Key{App: inc.App, Addr: inc.RemoteAddr}
	b.mu.Lock()
	c := b.counts[key]
	c.BytesSent += inc.BytesSent
	c.BytesRecv += inc.BytesRecv
	b.counts[key] = c
	b.mu.Unlock()
}

// Swap atomically replaces the open window with a fresh one and returns the
// drained contents together with the time the drained window opened. Any
// Merge racing with Swap lands in exactly one of the two windows.
func (b *Buffer) Swap() (map[Key]Counts, time.Time) {
	fresh := make(map[Key]Counts)
	b.mu.Lock()
	drained := b.counts
	start := b.windowStart
	b.counts = fresh
	b.windowStart = time.Now()
	b.mu.Unlock()
	return drained, start
}

// Len reports how many keys the open window currently holds.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.counts)
}
