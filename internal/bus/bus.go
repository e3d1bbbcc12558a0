// Package bus carries domain events from the central to its consumers.
package bus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Event is any domain event published by the central. Concrete types live in
// the split package; the bus treats them as opaque values.
type Event interface {
	// EventName returns a stable name identifying the event category.
	EventName() string
	// Fields returns the event payload as loggable key/value pairs; sinks
	// that serialize events (Redis, logs) use this instead of reflection.
	Fields() map[string]interface{}
}

// Bus receives domain events. Publish is called from dispatch workers only;
// implementations must be safe for concurrent use but may block briefly.
type Bus interface {
	Publish(ev Event)
}

// ChanBus is an in-process Bus backed by a buffered channel. When the buffer
// is full the event is dropped with a warning, keeping workers from stalling
// behind a slow consumer.
type ChanBus struct {
	logger *logrus.Logger

	mu     sync.Mutex
	closed bool
	ch     chan Event
}

// NewChanBus creates a channel bus with the given buffer size.
func NewChanBus(buffer int, logger *logrus.Logger) *ChanBus {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChanBus{
		logger: logger,
		ch:     make(chan Event, buffer),
	}
}

// C returns the consumer side of the bus.
func (b *ChanBus) C() <-chan Event {
	return b.ch
}

func (b *ChanBus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- ev:
	default:
		b.logger.WithField("event", ev.EventName()).Warn("Event bus full, dropping event")
	}
}

// Close stops the bus; later publishes are discarded.
func (b *ChanBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
