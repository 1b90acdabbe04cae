// Package realtime turns ledger changes into live views: filtered
// subscriptions that refetch on every matching change, and per-role
// dashboards built from them.
package realtime

import (
	"context"
	"sync"

	"github.com/medicheck/medicheck/internal/platform/changefeed"
)

// Query describes one live slice of a collection. Field and Value scope the
// change signals; any status filtering belongs in Fetch so rows leaving the
// slice still trigger a refetch.
type Query[T any] struct {
	Name       string
	Collection string
	Field      string
	Value      string
	Fetch      func(ctx context.Context) ([]T, error)
}

// Snapshot is the result of one fetch. Err is set when the fetch failed; Items
// is then nil.
type Snapshot[T any] struct {
	Query string
	Items []T
	Err   error
}

// Subscription is a running live query.
type Subscription struct {
	broker   *changefeed.Broker
	listener *changefeed.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// Subscribe delivers an initial snapshot of q and then a fresh one after every
// matching change, in order, until Close is called or ctx ends. deliver runs
// on the subscription's own goroutine.
func Subscribe[T any](ctx context.Context, broker *changefeed.Broker, q Query[T], deliver func(Snapshot[T])) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		broker: broker,
		// Listen before the first fetch so a write racing the fetch is not lost.
		listener: broker.Listen(q.Collection, q.Field, q.Value),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer broker.Unlisten(s.listener)

		fetch := func() {
			items, err := q.Fetch(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				deliver(Snapshot[T]{Query: q.Name, Err: err})
				return
			}
			deliver(Snapshot[T]{Query: q.Name, Items: items})
		}

		fetch()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.listener.C():
				fetch()
			}
		}
	}()
	return s
}

// Close stops the subscription and waits for its goroutine to exit. It is safe
// to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.broker.Unlisten(s.listener)
	})
}
