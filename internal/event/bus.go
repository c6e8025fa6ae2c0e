package event

import (
	"log/slog"
	"sync"
)

// Bus delivers events to subscribers on a single background goroutine, in
// publish order.
//
// Publish never blocks. Subscribers that panic are logged and skipped; they
// stay subscribed.
type Bus struct {
	q      *queue
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[int]Observer
	nextID int

	done chan struct{}
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger for subscriber failures.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = l
	}
}

// NewBus creates a bus and starts its delivery goroutine.
// Call Close to drain and stop it.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		q:      newQueue(),
		logger: slog.Default(),
		subs:   make(map[int]Observer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

// Observe implements Observer so a Bus can be handed to the calculator.
func (b *Bus) Observe(e Event) {
	b.Publish(e)
}

// Publish enqueues e for delivery. Returns false once the bus is closed.
func (b *Bus) Publish(e Event) bool {
	return b.q.enqueue(e)
}

// Subscribe registers o and returns a function that unregisters it.
func (b *Bus) Subscribe(o Observer) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = o
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Pending returns the number of undelivered events.
func (b *Bus) Pending() int {
	return b.q.len()
}

// Close stops accepting events, delivers everything already queued, and
// waits for the delivery goroutine to exit.
func (b *Bus) Close() {
	b.q.close()
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		if e, ok := b.q.tryDequeue(); ok {
			b.deliver(e)
			continue
		}
		if b.q.drained() {
			return
		}
		<-b.q.signal
	}
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	subs := make([]Observer, 0, len(b.subs))
	for _, o := range b.subs {
		subs = append(subs, o)
	}
	b.mu.RUnlock()

	for _, o := range subs {
		b.safeObserve(o, e)
	}
}

func (b *Bus) safeObserve(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event observer panicked",
				"type", e.Type,
				"eid", e.EID,
				"panic", r)
		}
	}()
	o.Observe(e)
}
