// Package mirror keeps in-memory copies of store collections for the
// presentation layer. A Mirror owns its subscriptions and lives between Start
// and Stop.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dan9191/deposit-service/internal/metrics"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownCollection = errors.New("collection is not mirrored")
	ErrAlreadyStarted    = errors.New("mirror already started")
)

// ChangeFeed reports names of collections that changed. An empty name means
// changes may have been missed and everything should be reloaded.
type ChangeFeed interface {
	Changes(ctx context.Context) (<-chan string, error)
}

// Loader returns the full current contents of a collection
type Loader func(ctx context.Context, collection string) (any, error)

// Snapshot is one loaded copy of a collection
type Snapshot struct {
	Collection string    `json:"collection"`
	Version    uint64    `json:"version"`
	LoadedAt   time.Time `json:"loaded_at"`
	Data       any       `json:"data"`
}

type Mirror struct {
	feed        ChangeFeed
	load        Loader
	collections map[string]bool
	resync      time.Duration
	log         *logrus.Logger

	mu    sync.RWMutex
	data  map[string]Snapshot
	subs  map[string]map[chan Snapshot]struct{}
	stop  context.CancelFunc
	done  chan struct{}
	clock func() time.Time
}

// New builds a mirror over the given collections. resync of zero disables
// the periodic full reload.
func New(feed ChangeFeed, load Loader, collections []string, resync time.Duration, log *logrus.Logger) *Mirror {
	set := make(map[string]bool, len(collections))
	for _, c := range collections {
		set[c] = true
	}
	return &Mirror{
		feed:        feed,
		load:        load,
		collections: set,
		resync:      resync,
		log:         log,
		data:        make(map[string]Snapshot, len(collections)),
		subs:        make(map[string]map[chan Snapshot]struct{}),
		clock:       time.Now,
	}
}

// Start loads every collection and follows the change feed until Stop is
// called or ctx is done.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	m.stop = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	changes, err := m.feed.Changes(ctx)
	if err != nil {
		cancel()
		close(m.done)
		return fmt.Errorf("failed to subscribe to changes: %w", err)
	}
	m.reloadAll(ctx)

	go m.run(ctx, changes)
	m.log.WithField("collections", len(m.collections)).Info("Read-model mirror started")
	return nil
}

// Stop ends the feed loop and closes every subscription
func (m *Mirror) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done

	m.mu.Lock()
	for collection, chans := range m.subs {
		for ch := range chans {
			close(ch)
		}
		delete(m.subs, collection)
	}
	m.mu.Unlock()
	m.log.Info("Read-model mirror stopped")
}

// Get returns the latest snapshot of a collection
func (m *Mirror) Get(collection string) (Snapshot, error) {
	if !m.collections[collection] {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[collection], nil
}

// Subscribe returns a channel receiving the current snapshot and every later
// one. A slow reader only ever sees the newest snapshot. The returned func
// cancels the subscription.
func (m *Mirror) Subscribe(collection string) (<-chan Snapshot, func(), error) {
	if !m.collections[collection] {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[chan Snapshot]struct{})
	}
	m.subs[collection][ch] = struct{}{}
	if snap, ok := m.data[collection]; ok {
		ch <- snap
	}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[collection][ch]; ok {
				delete(m.subs[collection], ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

func (m *Mirror) run(ctx context.Context, changes <-chan string) {
	defer close(m.done)

	var tick <-chan time.Time
	if m.resync > 0 {
		ticker := time.NewTicker(m.resync)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			m.reloadAll(ctx)
		case name, ok := <-changes:
			if !ok {
				m.log.Warn("Change feed closed, mirror stops following")
				return
			}
			pending := map[string]bool{name: true}
			// coalesce a burst of notifications into one reload each
		drain:
			for {
				select {
				case more, ok := <-changes:
					if !ok {
						break drain
					}
					pending[more] = true
				default:
					break drain
				}
			}
			if pending[""] {
				m.reloadAll(ctx)
				continue
			}
			for collection := range pending {
				if m.collections[collection] {
					m.reload(ctx, collection)
				}
			}
		}
	}
}

func (m *Mirror) reloadAll(ctx context.Context) {
	for collection := range m.collections {
		m.reload(ctx, collection)
	}
}

func (m *Mirror) reload(ctx context.Context, collection string) {
	data, err := m.load(ctx, collection)
	if err != nil {
		metrics.MirrorReloads.WithLabelValues(collection, "failed").Inc()
		if ctx.Err() == nil {
			m.log.WithField("collection", collection).WithError(err).Warn("Failed to reload collection")
		}
		return
	}
	metrics.MirrorReloads.WithLabelValues(collection, "ok").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		Collection: collection,
		Version:    m.data[collection].Version + 1,
		LoadedAt:   m.clock(),
		Data:       data,
	}
	m.data[collection] = snap

	for ch := range m.subs[collection] {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
