package ingestion

import (
	"sync"
)

// Buffer is a bounded in-memory staging area between request handlers and
// the background flusher. Writers never block: when the buffer is full the
// incoming events are dropped and counted instead.
type Buffer struct {
	mu      sync.Mutex
	events  []TrackingEvent
	cap     int
	dropped uint64

	// wake gets a non-blocking signal when the buffer crosses its
	// high-water mark so the flusher can drain early.
	wake      chan struct{}
	highWater int

	// OnDrop is invoked (outside the lock) with the number of events
	// dropped by an Add/AddRange call. Optional.
	OnDrop func(n int)
}

// NewBuffer creates a buffer that holds at most capacity events. The
// flusher is woken once the buffer is half full.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		events:    make([]TrackingEvent, 0, capacity),
		cap:       capacity,
		wake:      make(chan struct{}, 1),
		highWater: (capacity + 1) / 2,
	}
}

// Add appends a single event. Returns false if the event was dropped.
func (b *Buffer) Add(event TrackingEvent) bool {
	return b.AddRange([]TrackingEvent{event}) == 1
}

// AddRange appends events up to the remaining capacity and returns how many
// were accepted. Partial acceptance keeps the earliest events of the batch.
func (b *Buffer) AddRange(events []TrackingEvent) int {
	if len(events) == 0 {
		return 0
	}

	b.mu.Lock()
	free := b.cap - len(b.events)
	accepted := len(events)
	if accepted > free {
		accepted = free
	}
	b.events = append(b.events, events[:accepted]...)
	droppedNow := len(events) - accepted
	b.dropped += uint64(droppedNow)
	shouldWake := len(b.events) >= b.highWater
	b.mu.Unlock()

	if shouldWake {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}

	if droppedNow > 0 && b.OnDrop != nil {
		b.OnDrop(droppedNow)
	}

	return accepted
}

// Drain removes and returns all buffered events. Returns nil when empty.
func (b *Buffer) Drain() []TrackingEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		return nil
	}

	drained := b.events
	b.events = make([]TrackingEvent, 0, b.cap)
	return drained
}

// Len returns the number of currently buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Dropped returns the total number of events dropped since creation.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Wake exposes the high-water signal channel for the flusher.
func (b *Buffer) Wake() <-chan struct{} {
	return b.wake
}
