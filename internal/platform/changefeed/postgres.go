package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medicheck/medicheck/internal/platform/db"
)

// PGNotifier publishes changes with pg_notify so that every server instance
// listening on the channel sees them. Inside a transaction the notification
// is only sent on commit.
type PGNotifier struct {
	pool    *pgxpool.Pool
	channel string
}

func NewPGNotifier(pool *pgxpool.Pool, channel string) *PGNotifier {
	return &PGNotifier{pool: pool, channel: channel}
}

func (n *PGNotifier) Publish(ctx context.Context, ch Change) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	var q interface {
		Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	} = n.pool
	if tx := db.TxFromContext(ctx); tx != nil {
		q = tx
	}
	if _, err := q.Exec(ctx, `SELECT pg_notify($1, $2)`, n.channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", n.channel, err)
	}
	return nil
}

// Relay holds one connection in LISTEN mode and delivers every notification
// on the channel to the local broker. Notifications sent while the connection
// is down are lost, so every (re)connect resyncs the broker's listeners.
type Relay struct {
	pool       *pgxpool.Pool
	channel    string
	broker     *Broker
	logger     zerolog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	// listen holds the connection until it fails, calling ready once LISTEN
	// is in effect.
	listen func(ctx context.Context, ready func()) error
}

func NewRelay(pool *pgxpool.Pool, channel string, broker *Broker, logger zerolog.Logger) *Relay {
	r := &Relay{
		pool:       pool,
		channel:    channel,
		broker:     broker,
		logger:     logger.With().Str("component", "changefeed_relay").Str("channel", channel).Logger(),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	r.listen = r.listenPG
	return r
}

// Run listens until ctx is cancelled, reconnecting with exponential backoff
// when the connection drops.
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.minBackoff
	for {
		connected := false
		err := r.listen(ctx, func() {
			connected = true
			r.broker.Resync()
		})
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = r.minBackoff
		}
		r.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("listen connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

func (r *Relay) listenPG(ctx context.Context, ready func()) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{r.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	r.logger.Info().Msg("listening for changes")
	ready()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ch, err := DecodeNotification(n.Payload)
		if err != nil {
			r.logger.Error().Err(err).Msg("dropping malformed change")
			continue
		}
		r.broker.Deliver(ch)
	}
}

func DecodeNotification(payload string) (Change, error) {
	var ch Change
	if err := json.Unmarshal([]byte(payload), &ch); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if ch.Collection == "" {
		return Change{}, fmt.Errorf("decode change: missing collection")
	}
	return ch, nil
}
