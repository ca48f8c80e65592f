package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// NotifyChannel is the LISTEN channel fed by the change triggers
const NotifyChannel = "ledger_changes"

// Feed turns Postgres change notifications into collection names
type Feed struct {
	conn string
	log  *logrus.Logger
}

func NewFeed(conn string, log *logrus.Logger) *Feed {
	return &Feed{conn: conn, log: log}
}

// Changes listens until ctx is done. An empty name is sent after a
// reconnect, since notifications may have been lost meanwhile.
func (f *Feed) Changes(ctx context.Context) (<-chan string, error) {
	listener := pq.NewListener(f.conn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			f.log.WithError(err).WithField("event", ev).Warn("Change listener event")
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer listener.Close()

		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				name := ""
				if n != nil {
					name = n.Extra
				}
				select {
				case out <- name:
				case <-ctx.Done():
					return
				}
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					f.log.WithError(err).Warn("Change listener ping failed")
				}
			}
		}
	}()
	return out, nil
}
