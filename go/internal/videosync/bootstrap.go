package videosync

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

type bootstrapParams struct {
	room   models.Room
	userID string
	event  models.CalendarEvent
}

func (s *Session) bootstrapParams() bootstrapParams {
	return bootstrapParams{room: s.room, userID: s.userID, event: s.event}
}

// bootstrap prepares the room for a newly configured session. It runs off
// the actor; every state change is posted back under gen. Failures after
// ctx is cancelled belong to a stopped generation and are not recorded.
func (s *Session) bootstrap(ctx context.Context, gen uint64, p bootstrapParams) {
	logger := log.With().Str("event_id", p.room.EventID).Str("user_id", p.userID).Logger()
	fail := func(err error) {
		if ctx.Err() == nil {
			s.recordError(err)
		}
	}

	if err := s.ensureEventDocument(ctx, p); err != nil {
		fail(err)
		return
	}

	claimed := false
	live, err := s.liveViewersIn(ctx, p.room)
	switch {
	case err != nil:
		fail(err)
	case len(live) == 0:
		logger.Info().Msg("first live viewer, bootstrapping room")
		if err := s.bootstrapRoom(ctx, p); err != nil {
			s.metrics.HostClaimed(false)
			fail(err)
			break
		}
		claimed = true
		s.metrics.HostClaimed(true)
		s.postGen(gen, s.onHostClaimed)
	}

	if err := s.registerPresence(ctx, p, claimed); err != nil {
		fail(err)
	} else {
		s.emitFor(p.room, p.userID, EventViewerJoined, nil)
	}
	s.postGen(gen, s.attachRoomListeners)

	if err := s.ensureSyncDocs(ctx, p); err != nil {
		fail(err)
	}
}

// ensureEventDocument checks or records the event document owning the room.
func (s *Session) ensureEventDocument(ctx context.Context, p bootstrapParams) error {
	path := p.room.EventPath()
	if s.cfg.RequireEventDocument {
		snap, err := s.get(ctx, path)
		if err != nil {
			return err
		}
		if !snap.Exists {
			return &syncstore.InvalidPathError{Path: path, Reason: "event document does not exist"}
		}
		return nil
	}
	return s.set(ctx, path, syncstore.Data{
		"eventId":     p.room.EventID,
		"title":       p.event.Title,
		"date":        p.event.Date,
		"end":         p.event.End,
		"description": p.event.Description,
	}, syncstore.Merge())
}

// liveViewersIn lists live viewers ordered by lastSeen, then userId.
func (s *Session) liveViewersIn(ctx context.Context, room models.Room) ([]models.ActiveViewer, error) {
	docs, err := s.query(ctx, activeViewersQuery(room))
	if err != nil {
		return nil, err
	}
	return models.LiveViewers(docs, s.clock.Now(), s.cfg.LivenessWindow), nil
}

func activeViewersQuery(room models.Room) syncstore.Query {
	return syncstore.Collection(room.ActiveViewers()).
		OrderBy(models.FieldLastSeen, false).
		OrderBy(models.FieldUserID, false)
}

// bootstrapRoom writes all five room documents in one batch with this
// session as host, then reads each back.
func (s *Session) bootstrapRoom(ctx context.Context, p bootstrapParams) error {
	return retry(ctx, s.clock, s.cfg.MaxAttempts, s.cfg.RetryDelay, "bootstrap room",
		func() { s.metrics.Retry("bootstrap") },
		func(ctx context.Context) error {
			b := s.store.Batch()
			for _, doc := range models.SyncDocs {
				b.Set(p.room.DocPath(doc), bootstrapDoc(doc, p.userID))
			}
			if err := s.commit(ctx, p.room.SyncCollection(), b); err != nil {
				return err
			}
			return s.verifySyncDocs(ctx, p)
		})
}

func (s *Session) verifySyncDocs(ctx context.Context, p bootstrapParams) error {
	for _, doc := range models.SyncDocs {
		path := p.room.DocPath(doc)
		snap, err := s.get(ctx, path)
		if err != nil {
			return err
		}
		if !snap.Exists {
			return &StoreError{Op: "verify", Path: path, Err: syncstore.ErrNotFound}
		}
		if doc == models.DocHost && snap.Data.String(models.FieldHostID) != p.userID {
			return &StoreError{Op: "verify", Path: path, Err: fmt.Errorf("host is %q", snap.Data.String(models.FieldHostID))}
		}
	}
	return nil
}

// ensureSyncDocs creates, with default values, any room document that does
// not exist yet. Existing documents are left alone.
func (s *Session) ensureSyncDocs(ctx context.Context, p bootstrapParams) error {
	var errs []error
	for _, doc := range models.SyncDocs {
		path := p.room.DocPath(doc)
		snap, err := s.get(ctx, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if snap.Exists {
			continue
		}
		if err := s.set(ctx, path, defaultDoc(doc)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func bootstrapDoc(doc, userID string) syncstore.Data {
	switch doc {
	case models.DocHost:
		return syncstore.Data{
			models.FieldHostID:     userID,
			models.FieldTimestamp:  syncstore.ServerTimestamp,
			models.FieldLastActive: syncstore.ServerTimestamp,
			models.FieldStatus:     models.StatusActive,
		}
	case models.DocPresence:
		return syncstore.Data{
			models.FieldActiveViewerCount: 1,
			models.FieldLastUpdated:       syncstore.ServerTimestamp,
		}
	case models.DocState:
		return syncstore.Data{
			models.FieldCurrentUsers:   []string{userID},
			models.FieldCurrentHost:    userID,
			models.FieldLastHostChange: syncstore.ServerTimestamp,
			models.FieldLastUpdated:    syncstore.ServerTimestamp,
			models.FieldStatus:         models.StatusActive,
		}
	}
	return defaultDoc(doc)
}

func defaultDoc(doc string) syncstore.Data {
	switch doc {
	case models.DocHost:
		return syncstore.Data{
			models.FieldHostID:     "",
			models.FieldTimestamp:  syncstore.ServerTimestamp,
			models.FieldLastActive: syncstore.ServerTimestamp,
		}
	case models.DocPlayState:
		return syncstore.Data{
			models.FieldIsPlaying: false,
			models.FieldTimestamp: 0.0,
			models.FieldUpdatedAt: syncstore.ServerTimestamp,
		}
	case models.DocPresence:
		return syncstore.Data{
			models.FieldActiveViewerCount: 0,
			models.FieldLastUpdated:       syncstore.ServerTimestamp,
		}
	case models.DocTiming:
		return syncstore.Data{
			models.FieldTimestamp:       0.0,
			models.FieldUpdatedAt:       syncstore.ServerTimestamp,
			models.FieldCurrentPosition: 0.0,
		}
	case models.DocState:
		return syncstore.Data{
			models.FieldCurrentUsers: []string{},
			models.FieldLastUpdated:  syncstore.ServerTimestamp,
			models.FieldStatus:       models.StatusActive,
		}
	}
	return syncstore.Data{}
}

// ResetRoom clears the host and rewinds timing and play state to a paused
// start. It is an operator action, independent of any session.
func ResetRoom(ctx context.Context, store syncstore.Store, room models.Room) error {
	err := store.Batch().
		Delete(room.HostPath()).
		Set(room.TimingPath(), defaultDoc(models.DocTiming)).
		Set(room.PlayStatePath(), defaultDoc(models.DocPlayState)).
		Commit(ctx)
	if err != nil {
		return &StoreError{Op: "reset", Path: room.SyncCollection(), Err: err}
	}
	log.Info().Str("event_id", room.EventID).Str("date", room.DateString).Msg("room reset")
	return nil
}
