// Package buffer holds recently received readings in a fixed-capacity FIFO.
package buffer

import (
	"sync"

	"github.com/aquasense/probelink/internal/model"
)

const DefaultCapacity = 1000

// ReadingBuffer is a bounded FIFO over canonical readings. A single mutex
// guards every operation; the working set is small enough that finer locking
// buys nothing.
type ReadingBuffer struct {
	mu   sync.Mutex
	data []model.Reading
	cap  int
}

func New(capacity int) *ReadingBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ReadingBuffer{
		data: make([]model.Reading, 0, capacity),
		cap:  capacity,
	}
}

// Add appends a reading, evicting the single oldest entry when at capacity.
func (b *ReadingBuffer) Add(r model.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) >= b.cap {
		b.data = append(b.data[:0], b.data[1:]...)
	}
	b.data = append(b.data, r)
}

// GetAll returns a point-in-time copy in arrival order.
func (b *ReadingBuffer) GetAll() []model.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Reading, len(b.data))
	copy(out, b.data)
	return out
}

// GetLatest returns the most recent entry, if any.
func (b *ReadingBuffer) GetLatest() (model.Reading, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return model.Reading{}, false
	}
	return b.data[len(b.data)-1], true
}

// GetInRange returns readings whose timestamps fall inside [start, end],
// bounds inclusive, in milliseconds since epoch.
func (b *ReadingBuffer) GetInRange(start, end int64) []model.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Reading, 0)
	for _, r := range b.data {
		if r.Timestamp >= start && r.Timestamp <= end {
			out = append(out, r)
		}
	}
	return out
}

// DrainAll returns the buffered readings and empties the buffer in one
// critical section, so readings appended concurrently land in the next
// session instead of being wiped unseen.
func (b *ReadingBuffer) DrainAll() []model.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Reading, len(b.data))
	copy(out, b.data)
	b.data = b.data[:0]
	return out
}

// Requeue puts previously drained readings back at the front, ahead of
// anything appended since the drain, trimming from the oldest side when the
// result exceeds capacity.
func (b *ReadingBuffer) Requeue(rs []model.Reading) {
	if len(rs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]model.Reading, 0, len(rs)+len(b.data))
	merged = append(merged, rs...)
	merged = append(merged, b.data...)
	if len(merged) > b.cap {
		merged = merged[len(merged)-b.cap:]
	}
	b.data = merged
}

func (b *ReadingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

func (b *ReadingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
