package changefeed

import (
	"context"
	"sync"
	"time"
)

// Listener receives a signal for every change in one collection that matches
// its scope. Signals coalesce: while one is pending, further matching changes
// are dropped, because the pending signal already guarantees a refetch.
type Listener struct {
	collection string
	field      string
	value      string
	c          chan Change
}

// C is signalled with the most recent undelivered matching change.
func (l *Listener) C() <-chan Change { return l.c }

// Broker is the in-process fan-out of changes to listeners.
type Broker struct {
	mu        sync.RWMutex
	listeners map[string]map[*Listener]struct{} // collection -> listeners
}

func NewBroker() *Broker {
	return &Broker{listeners: make(map[string]map[*Listener]struct{})}
}

// Listen registers interest in changes to collection whose keys contain
// field=value. Pass an empty field to hear every change in the collection.
func (b *Broker) Listen(collection, field, value string) *Listener {
	l := &Listener{collection: collection, field: field, value: value, c: make(chan Change, 1)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners[collection] == nil {
		b.listeners[collection] = make(map[*Listener]struct{})
	}
	b.listeners[collection][l] = struct{}{}
	return l
}

// Unlisten removes the listener. It is safe to call more than once.
func (b *Broker) Unlisten(l *Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.listeners[l.collection]
	if !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(b.listeners, l.collection)
	}
}

// Deliver hands ch to every matching listener without blocking.
func (b *Broker) Deliver(ch Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for l := range b.listeners[ch.Collection] {
		if !ch.Matches(l.field, l.value) {
			continue
		}
		select {
		case l.c <- ch:
		default:
		}
	}
}

// Resync signals every listener, whatever its scope, so live queries refetch.
func (b *Broker) Resync() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := time.Now().UTC()
	for collection, set := range b.listeners {
		for l := range set {
			select {
			case l.c <- Change{Collection: collection, Op: OpResync, At: now}:
			default:
			}
		}
	}
}

// Publish implements Publisher for single-process deployments.
func (b *Broker) Publish(_ context.Context, ch Change) error {
	b.Deliver(ch)
	return nil
}

// ListenerCount returns the number of registered listeners.
func (b *Broker) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.listeners {
		n += len(set)
	}
	return n
}
