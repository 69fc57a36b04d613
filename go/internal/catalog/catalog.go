// Package catalog resolves event ids to scheduled calendar events.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/watchparty/go/clients/calendar_client"
	"github.com/mcdev12/watchparty/go/internal/models"
)

var ErrEventNotFound = errors.New("event not found")

// Source looks events up by id.
type Source interface {
	Lookup(ctx context.Context, eventID string) (models.CalendarEvent, error)
}

// Static is an in-memory catalog, typically loaded from YAML.
type Static struct {
	events map[string]models.CalendarEvent
}

type catalogFile struct {
	Events []models.CalendarEvent `yaml:"events"`
}

func NewStatic(events []models.CalendarEvent) (*Static, error) {
	s := &Static{events: make(map[string]models.CalendarEvent, len(events))}
	for _, e := range events {
		if e.ID == "" {
			return nil, errors.New("catalog event without id")
		}
		if e.End.Before(e.Date) {
			return nil, fmt.Errorf("event %s ends before it starts", e.ID)
		}
		if _, dup := s.events[e.ID]; dup {
			return nil, fmt.Errorf("duplicate event %s", e.ID)
		}
		s.events[e.ID] = e
	}
	return s, nil
}

// LoadFile reads a YAML catalog of the form `events: [...]`.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	s, err := NewStatic(f.Events)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("events", len(f.Events)).Msg("loaded event catalog")
	return s, nil
}

func (s *Static) Lookup(_ context.Context, eventID string) (models.CalendarEvent, error) {
	e, ok := s.events[eventID]
	if !ok {
		return models.CalendarEvent{}, fmt.Errorf("%s: %w", eventID, ErrEventNotFound)
	}
	return e, nil
}

// List returns all events ordered by start time.
func (s *Static) List() []models.CalendarEvent {
	out := make([]models.CalendarEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type eventFetcher interface {
	GetEvent(ctx context.Context, id string) (*calendar_client.Event, error)
}

type cachedEvent struct {
	event   models.CalendarEvent
	fetched time.Time
}

// Remote fetches events from the calendar API and caches them for ttl.
type Remote struct {
	client eventFetcher
	ttl    time.Duration
	clock  clockwork.Clock

	mu    sync.Mutex
	cache map[string]cachedEvent
}

func NewRemote(client eventFetcher, ttl time.Duration, clock clockwork.Clock) *Remote {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Remote{client: client, ttl: ttl, clock: clock, cache: make(map[string]cachedEvent)}
}

func (r *Remote) Lookup(ctx context.Context, eventID string) (models.CalendarEvent, error) {
	now := r.clock.Now()
	r.mu.Lock()
	c, ok := r.cache[eventID]
	r.mu.Unlock()
	if ok && now.Sub(c.fetched) < r.ttl {
		return c.event, nil
	}

	ev, err := r.client.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, calendar_client.ErrNotFound) {
			return models.CalendarEvent{}, fmt.Errorf("%s: %w", eventID, ErrEventNotFound)
		}
		return models.CalendarEvent{}, fmt.Errorf("fetch event %s: %w", eventID, err)
	}
	event := models.CalendarEvent{
		ID:          ev.ID,
		Title:       ev.Title,
		Date:        ev.Start,
		End:         ev.End,
		Description: ev.Description,
	}

	r.mu.Lock()
	r.cache[eventID] = cachedEvent{event: event, fetched: now}
	r.mu.Unlock()
	return event, nil
}

// Chain tries each source in order, moving on only when an event is not found.
type Chain []Source

func (c Chain) Lookup(ctx context.Context, eventID string) (models.CalendarEvent, error) {
	for _, src := range c {
		e, err := src.Lookup(ctx, eventID)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrEventNotFound) {
			return models.CalendarEvent{}, err
		}
	}
	return models.CalendarEvent{}, fmt.Errorf("%s: %w", eventID, ErrEventNotFound)
}
