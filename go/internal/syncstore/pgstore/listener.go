package pgstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// NotifyChannel is the channel the sync_documents trigger notifies on.
const NotifyChannel = "sync_document_changes"

type ListenerConfig struct {
	DatabaseURL  string        // Postgres DSN for LISTEN/NOTIFY
	PingInterval time.Duration // How often to ping the listen connection
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		PingInterval: 90 * time.Second,
	}
}

// Dispatcher fans document change notifications out to watchers by
// collection. A lost connection re-notifies every watcher so none of them
// misses a change made while it was down.
type Dispatcher struct {
	listener *pq.Listener
	cfg      ListenerConfig

	mu       sync.Mutex
	watchers map[string]map[int]func(docID string)
	nextID   int
}

func NewDispatcher(cfg ListenerConfig) (*Dispatcher, error) {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultListenerConfig().PingInterval
	}
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", NotifyChannel).
		Msg("listening for document changes")

	return &Dispatcher{
		listener: l,
		cfg:      cfg,
		watchers: make(map[string]map[int]func(string)),
	}, nil
}

// Start delivers notifications until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(d.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("document listener shutting down")
			return d.Stop()
		case note := <-d.listener.Notify:
			if note == nil {
				// connection was re-established, anything could have changed
				d.broadcast()
				continue
			}
			collection, docID, ok := parsePayload(note.Extra)
			if !ok {
				log.Warn().Str("payload", note.Extra).Msg("malformed change notification")
				continue
			}
			d.dispatch(collection, docID)
		case <-pingTicker.C:
			if err := d.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (d *Dispatcher) Stop() error {
	return d.listener.Close()
}

// subscribe registers fn for changes in collection. fn must not block.
func (d *Dispatcher) subscribe(collection string, fn func(docID string)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.watchers[collection] == nil {
		d.watchers[collection] = make(map[int]func(string))
	}
	id := d.nextID
	d.nextID++
	d.watchers[collection][id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.watchers[collection], id)
		if len(d.watchers[collection]) == 0 {
			delete(d.watchers, collection)
		}
	}
}

func (d *Dispatcher) dispatch(collection, docID string) {
	d.mu.Lock()
	fns := make([]func(string), 0, len(d.watchers[collection]))
	for _, fn := range d.watchers[collection] {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(docID)
	}
}

func (d *Dispatcher) broadcast() {
	d.mu.Lock()
	var fns []func(string)
	for _, ws := range d.watchers {
		for _, fn := range ws {
			fns = append(fns, fn)
		}
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn("")
	}
}

func parsePayload(extra string) (collection, docID string, ok bool) {
	i := strings.LastIndex(extra, "|")
	if i <= 0 || i == len(extra)-1 {
		return "", "", false
	}
	return extra[:i], extra[i+1:], true
}
