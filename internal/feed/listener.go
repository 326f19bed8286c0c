package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// channelName is the Postgres NOTIFY channel the schema triggers publish on.
const channelName = "platbot_changes"

// Listener is a Source backed by Postgres LISTEN/NOTIFY. The schema installs
// triggers on the players and votes tables that publish a JSON payload on
// the platbot_changes channel for every row change.
type Listener struct {
	hub     *Hub
	logger  *slog.Logger
	pl      *pq.Listener
	dsn     string
	started bool
}

// NewListener returns an unstarted Listener for the given DSN.
func NewListener(dsn string, logger *slog.Logger) *Listener {
	return &Listener{
		hub:    NewHub(),
		logger: logger,
		dsn:    dsn,
	}
}

// Start connects to Postgres and begins dispatching notifications to
// subscribers. It returns an error if called twice.
func (l *Listener) Start(ctx context.Context) error {
	if l.started {
		return errors.New("feed listener already started")
	}
	l.started = true

	l.pl = pq.NewListener(l.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.Warn("feed listener connection event", slog.Int("event", int(ev)), slog.Any("error", err))
		}
	})
	if err := l.pl.Listen(channelName); err != nil {
		return fmt.Errorf("listening on %s: %w", channelName, err)
	}

	go l.dispatch(ctx)
	return nil
}

// dispatch decodes notifications and fans them out until ctx is cancelled.
func (l *Listener) dispatch(ctx context.Context) {
	defer func() {
		if err := l.pl.Close(); err != nil {
			l.logger.Warn("closing feed listener", slog.Any("error", err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-l.pl.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnect marker from pq; events may have been dropped
				// while disconnected. Poll reconciliation covers the gap.
				l.logger.Warn("feed listener reconnected, events may have been missed")
				continue
			}

			var e Event
			if err := json.Unmarshal([]byte(n.Extra), &e); err != nil {
				l.logger.ErrorContext(ctx, "decoding change notification",
					slog.String("payload", n.Extra),
					slog.Any("error", err),
				)
				continue
			}
			l.hub.Publish(e)
		}
	}
}

// Subscribe returns a subscription for change events on the given table.
func (l *Listener) Subscribe(table string) (*Subscription, error) {
	return l.hub.Subscribe(table)
}
