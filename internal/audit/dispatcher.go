package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking; overflow is counted in Dropped.
	DropIfFull bool
}

// Dispatcher hands events to a sink from one background goroutine, so
// sinks need not be safe for concurrent use. A nil *Dispatcher is valid
// and discards everything.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	block   bool
	dropped atomic.Uint64

	// mu guards closed and the send side of queue.
	mu      sync.RWMutex
	closed  bool
	drained chan struct{}
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, max(cfg.BufferSize, 1)),
		block:   !cfg.DropIfFull,
		drained: make(chan struct{}),
	}
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer close(d.drained)
	for ev := range d.queue {
		d.sink.Emit(context.Background(), ev)
	}
}

// Emit queues ev. In blocking mode it waits for buffer space or ctx;
// otherwise a full buffer drops the event.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if !d.block {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting events and returns once every queued event has
// reached the sink. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.drained
}

// Dropped returns the number of events discarded so far.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
