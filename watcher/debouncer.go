package watcher

import (
	"sort"
	"sync"
	"time"
)

// DebouncedEvent represents a batched file system event.
type DebouncedEvent struct {
	Path string
	Op   EventOp
}

// EventOp represents the type of file system operation.
type EventOp int

const (
	OpCreate EventOp = iota
	OpWrite
	OpRemove
	OpRename
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Debouncer collects file system events and emits batched events after a quiet period.
// Multiple events for the same path within the debounce window are collapsed into one.
type Debouncer struct {
	interval time.Duration
	events   map[string]DebouncedEvent
	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
	output   chan []DebouncedEvent
}

// NewDebouncer creates a debouncer with the specified quiet interval.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		events:   make(map[string]DebouncedEvent),
		output:   make(chan []DebouncedEvent, 16),
	}
}

// Output returns the channel that receives batched events.
func (d *Debouncer) Output() <-chan []DebouncedEvent {
	return d.output
}

// Add adds an event to the debounce window. If an event for the same path
// already exists, it is replaced with the latest operation.
func (d *Debouncer) Add(path string, op EventOp) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.events[path] = DebouncedEvent{Path: path, Op: op}

	// Reset the timer each time a new event arrives
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.flush)
}

// Stop drops pending events; later Adds are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.events = make(map[string]DebouncedEvent)
}

// flush sends the accumulated events, sorted by path, and resets the buffer.
// A full output channel drops the batch; the next pass rescans everything anyway.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.events) == 0 || d.stopped {
		return
	}

	batch := make([]DebouncedEvent, 0, len(d.events))
	for _, event := range d.events {
		batch = append(batch, event)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })

	d.events = make(map[string]DebouncedEvent)
	select {
	case d.output <- batch:
	default:
	}
}
