package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Listener turns Postgres NOTIFY messages on one channel into callbacks.
type Listener struct {
	pool    *pgxpool.Pool
	channel string
}

func NewListener(pool *pgxpool.Pool, channel string) *Listener {
	return &Listener{pool: pool, channel: channel}
}

// Listen holds a dedicated connection and calls notify once LISTEN is in
// place, then once per notification. It blocks until ctx is cancelled or the
// connection fails.
func (l *Listener) Listen(ctx context.Context, notify func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	notify()

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		notify()
	}
}
