package roomapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/catalog"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
	"github.com/mcdev12/watchparty/go/internal/videosync"
)

var (
	ErrMissingEventID = errors.New("event_id is required")
	ErrInvalidDate    = errors.New("date must be MM-DD-YYYY")
)

// App reads and administers rooms directly in the sync store.
type App struct {
	store          syncstore.Store
	events         catalog.Source
	loc            *time.Location
	clock          clockwork.Clock
	livenessWindow time.Duration
}

func NewApp(store syncstore.Store, events catalog.Source, loc *time.Location, clock clockwork.Clock, livenessWindow time.Duration) *App {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{
		store:          store,
		events:         events,
		loc:            loc,
		clock:          clock,
		livenessWindow: livenessWindow,
	}
}

func (a *App) resolve(ctx context.Context, ref RoomRef) (models.Room, error) {
	if ref.EventID == "" {
		return models.Room{}, ErrMissingEventID
	}
	if ref.Date != "" {
		if _, err := time.Parse(models.RoomDateLayout, ref.Date); err != nil {
			return models.Room{}, fmt.Errorf("%w: %q", ErrInvalidDate, ref.Date)
		}
		return models.NewRoom(ref.Date, ref.EventID), nil
	}
	event, err := a.events.Lookup(ctx, ref.EventID)
	if err != nil {
		return models.Room{}, fmt.Errorf("failed to look up event: %w", err)
	}
	return models.NewRoom(event.DateString(a.loc), event.ID), nil
}

// GetRoom reads the five sync documents of a room.
func (a *App) GetRoom(ctx context.Context, ref RoomRef) (*RoomView, error) {
	room, err := a.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	docs := make(map[string]*syncstore.Snapshot, len(models.SyncDocs))
	for _, doc := range models.SyncDocs {
		snap, err := a.store.Get(ctx, room.DocPath(doc))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", doc, err)
		}
		if snap.Exists {
			docs[doc] = snap
		}
	}

	view := &RoomView{EventID: room.EventID, Date: room.DateString}
	if s, ok := docs[models.DocHost]; ok {
		rec := models.HostFromData(s.Data)
		view.Host = &rec
	}
	if s, ok := docs[models.DocPlayState]; ok {
		rec := models.PlayStateFromData(s.Data)
		view.PlayState = &rec
	}
	if s, ok := docs[models.DocTiming]; ok {
		rec := models.TimingFromData(s.Data)
		view.Timing = &rec
	}
	if s, ok := docs[models.DocPresence]; ok {
		rec := models.PresenceFromData(s.Data)
		view.Presence = &rec
	}
	if s, ok := docs[models.DocState]; ok {
		rec := models.StateFromData(s.Data)
		view.State = &rec
	}
	return view, nil
}

// ResetRoom clears the host and rewinds playback for a room.
func (a *App) ResetRoom(ctx context.Context, ref RoomRef) (models.Room, error) {
	room, err := a.resolve(ctx, ref)
	if err != nil {
		return models.Room{}, err
	}
	if err := videosync.ResetRoom(ctx, a.store, room); err != nil {
		return models.Room{}, fmt.Errorf("failed to reset room: %w", err)
	}
	log.Info().Str("event_id", room.EventID).Str("date", room.DateString).Msg("room reset via api")
	return room, nil
}

// ListViewers returns the active viewers, oldest lastSeen first, and the
// historical viewers ordered by user id.
func (a *App) ListViewers(ctx context.Context, ref RoomRef, liveOnly bool) ([]models.ActiveViewer, []models.HistoricalViewer, error) {
	room, err := a.resolve(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	activeDocs, err := a.store.Query(ctx, syncstore.Collection(room.ActiveViewers()).OrderBy(models.FieldLastSeen, false))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query active viewers: %w", err)
	}
	var active []models.ActiveViewer
	if liveOnly {
		active = models.LiveViewers(activeDocs, a.clock.Now(), a.livenessWindow)
	} else {
		for _, d := range activeDocs {
			active = append(active, models.ActiveViewerFromSnapshot(d))
		}
	}

	historyDocs, err := a.store.Query(ctx, syncstore.Collection(room.HistoricalViewers()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query historical viewers: %w", err)
	}
	historical := make([]models.HistoricalViewer, 0, len(historyDocs))
	for _, d := range historyDocs {
		historical = append(historical, models.HistoricalViewerFromSnapshot(d))
	}
	sort.Slice(historical, func(i, j int) bool { return historical[i].UserID < historical[j].UserID })

	return active, historical, nil
}
