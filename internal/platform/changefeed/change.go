// Package changefeed carries write notifications from the ledgers to live
// queries. Services publish a Change after every successful mutation; a
// Broker fans changes out to the listeners of one process, and the Postgres
// transport relays changes between processes through LISTEN/NOTIFY.
package changefeed

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Collection names shared by publishers and live queries.
const (
	Profiles           = "profiles"
	ConnectionRequests = "connection_requests"
	Appointments       = "appointments"
	Reports            = "reports"
	DoctorMessages     = "doctor_messages"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	// OpResync asks listeners to refetch after changes may have been missed.
	OpResync Op = "resync"
)

// Change describes one committed write. Keys holds the identity fields the
// row is scoped by (fromId, toId, patientId, clinicId, doctorId, sharedWith)
// so that listeners can match without reading the row.
type Change struct {
	Collection string              `json:"collection"`
	Op         Op                  `json:"op"`
	ID         string              `json:"id"`
	Keys       map[string][]string `json:"keys,omitempty"`
	At         time.Time           `json:"at"`
}

// Matches reports whether the change touches rows where field contains value.
// An empty field matches every change in the collection.
func (c Change) Matches(field, value string) bool {
	if field == "" {
		return true
	}
	for _, v := range c.Keys[field] {
		if v == value {
			return true
		}
	}
	return false
}

// Publisher is implemented by the Broker and by the Postgres notifier.
type Publisher interface {
	Publish(ctx context.Context, ch Change) error
}

// NewChange builds a change with single-valued keys given as field, value
// pairs. Empty values are skipped.
func NewChange(collection string, op Op, id string, kv ...string) Change {
	keys := make(map[string][]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		keys[kv[i]] = append(keys[kv[i]], kv[i+1])
	}
	return Change{Collection: collection, Op: op, ID: id, Keys: keys, At: time.Now().UTC()}
}

// With adds a multi-valued key, such as a report's sharedWith list.
func (c Change) With(field string, values ...string) Change {
	if c.Keys == nil {
		c.Keys = make(map[string][]string)
	}
	c.Keys[field] = append(c.Keys[field], values...)
	return c
}

// Notify publishes ch after a committed write. The write already happened, so
// a failed publish is logged rather than returned; live queries catch up on
// their next change.
func Notify(ctx context.Context, p Publisher, ch Change) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ch); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("collection", ch.Collection).
			Str("id", ch.ID).
			Msg("publish change failed")
	}
}

// Discard drops every change. Used by jobs and tests that run without a feed.
type Discard struct{}

func (Discard) Publish(context.Context, Change) error { return nil }
