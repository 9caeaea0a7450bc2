// Package pgnotify turns Postgres NOTIFY messages written by table triggers into
// change events.
package pgnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"popotte/internal/feed"
	"popotte/pkg/logkey"
)

const Channel = "popotte_changes"

const pingInterval = 90 * time.Second

type payload struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	ID    string `json:"id"`
}

// Parse decodes a trigger payload.
func Parse(extra string) (feed.Event, error) {
	var p payload
	if err := json.Unmarshal([]byte(extra), &p); err != nil {
		return feed.Event{}, fmt.Errorf("parse notification: %w", err)
	}
	if p.Table == "" {
		return feed.Event{}, fmt.Errorf("parse notification: missing table")
	}
	op := strings.ToUpper(p.Op)
	if op == "" {
		op = feed.OpAny
	}
	return feed.Event{Table: p.Table, Op: op, RowID: p.ID, At: time.Now().UTC()}, nil
}

type Listener struct {
	dsn string
}

func NewListener(dsn string) (*Listener, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is empty")
	}
	return &Listener{dsn: dsn}, nil
}

// Run listens on Channel until ctx is done. After a reconnect the notifications sent in
// between are lost, so it publishes a wildcard event that makes every subscriber refetch.
func (l *Listener) Run(ctx context.Context, publish func(feed.Event)) error {
	listener := pq.NewListener(l.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("change listener event", slog.Int("event", int(ev)), slog.String(logkey.ERROR, err.Error()))
		}
	})
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}
	slog.Info("listening for changes", slog.String("channel", Channel))

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-listener.Notify:
			if !ok {
				return fmt.Errorf("change listener closed")
			}
			if n == nil {
				publish(feed.Event{Table: feed.AnyTable, Op: feed.OpAny, At: time.Now().UTC()})
				continue
			}
			ev, err := Parse(n.Extra)
			if err != nil {
				slog.Warn("skipping notification", slog.String(logkey.ERROR, err.Error()))
				continue
			}
			publish(ev)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				slog.Warn("change listener ping failed", slog.String(logkey.ERROR, err.Error()))
			}
		}
	}
}
