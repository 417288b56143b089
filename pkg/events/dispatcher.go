// Package events provides a small synchronous publish/subscribe dispatcher.
// Listeners for a topic are invoked in registration order on the goroutine
// that calls Dispatch.
package events

import (
	"log/slog"
	"sync"
)

// Any is the wildcard topic. Listeners registered under it receive every
// dispatched payload regardless of topic.
const Any = "*"

// Listener receives the payload published for a topic.
type Listener func(payload any)

type registration struct {
	id int
	fn Listener
}

// Dispatcher routes published payloads to registered listeners
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]registration
	nextID    int
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		listeners: make(map[string][]registration),
		logger:    logger.With("component", "dispatcher"),
	}
}

// AddListener registers fn for topic and returns a handle for removal.
func (d *Dispatcher) AddListener(topic string, fn Listener) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.listeners[topic] = append(d.listeners[topic], registration{id: d.nextID, fn: fn})
	return d.nextID
}

// RemoveListener removes the listener registered under id for topic.
// Removing an unknown id is a no-op.
func (d *Dispatcher) RemoveListener(topic string, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.listeners[topic]
	for i, reg := range regs {
		if reg.id == id {
			d.listeners[topic] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Dispatch invokes every listener for topic, in registration order. A
// listener panic is recovered so one consumer cannot take down the stream.
func (d *Dispatcher) Dispatch(topic string, payload any) {
	d.mu.RLock()
	regs := d.listeners[topic]
	var wild []registration
	if topic != Any {
		wild = d.listeners[Any]
	}
	d.mu.RUnlock()

	for _, reg := range regs {
		d.invoke(topic, reg, payload)
	}
	for _, reg := range wild {
		d.invoke(topic, reg, payload)
	}
}

func (d *Dispatcher) invoke(topic string, reg registration, payload any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panicked",
				"topic", topic,
				"panic", r,
			)
		}
	}()
	reg.fn(payload)
}
