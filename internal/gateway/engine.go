package gateway

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the event buffer used when none is configured.
const DefaultQueueSize = 1024

// EventEngine serializes venue events onto a single consumer goroutine.
// Venue callbacks call Put from any goroutine; handlers run one at a time,
// in registration order, on the engine goroutine.
type EventEngine struct {
	logger *slog.Logger
	queue  chan Event

	mu       sync.RWMutex
	handlers []Handler
	running  bool
	done     chan struct{}
	wg       sync.WaitGroup

	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewEventEngine creates a stopped engine with the given buffer size.
func NewEventEngine(queueSize int, logger *slog.Logger) *EventEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &EventEngine{
		logger: logger,
		queue:  make(chan Event, queueSize),
	}
}

// Register adds a handler. Handlers registered while running take effect on
// the next event.
func (e *EventEngine) Register(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Start launches the consumer goroutine. Calling Start on a running engine is a no-op.
func (e *EventEngine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}

	e.drain()
	e.running = true
	e.done = make(chan struct{})

	e.wg.Add(1)
	go e.run(e.done)
}

// Stop halts the consumer and discards events still queued.
// Calling Stop on a stopped engine is a no-op.
func (e *EventEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.done)
	e.mu.Unlock()

	e.wg.Wait()
	e.drain()
}

// drain discards queued events left over from a previous run.
func (e *EventEngine) drain() {
	for {
		select {
		case <-e.queue:
			e.dropped.Add(1)
		default:
			return
		}
	}
}

// Running reports whether the consumer goroutine is active.
func (e *EventEngine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Put enqueues an event. It blocks while the buffer is full and returns
// false if the engine is stopped.
func (e *EventEngine) Put(ev Event) bool {
	e.mu.RLock()
	running, done := e.running, e.done
	e.mu.RUnlock()

	if !running {
		e.dropped.Add(1)
		return false
	}

	select {
	case e.queue <- ev:
		return true
	case <-done:
		e.dropped.Add(1)
		return false
	}
}

// Processed returns the number of events dispatched to handlers.
func (e *EventEngine) Processed() uint64 {
	return e.processed.Load()
}

// Dropped returns the number of events discarded because the engine was stopped.
func (e *EventEngine) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *EventEngine) run(done <-chan struct{}) {
	defer e.wg.Done()

	for {
		select {
		case <-done:
			return
		case ev := <-e.queue:
			e.dispatch(ev)
		}
	}
}

func (e *EventEngine) dispatch(ev Event) {
	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	for _, h := range handlers {
		e.safeCall(h, ev)
	}
	e.processed.Add(1)
}

// safeCall keeps one failing handler from killing the consumer goroutine.
func (e *EventEngine) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "event_type", ev.Type, "panic", r)
		}
	}()
	h(ev)
}
