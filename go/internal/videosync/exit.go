package videosync

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

type exitPlan struct {
	valid   bool
	room    models.Room
	eventID string
	userID  string
	wasHost bool
	watched time.Duration
}

// exit performs the remote half of HandleUserExit on the caller's goroutine.
func (s *Session) exit(ctx context.Context, p exitPlan) error {
	logger := log.With().Str("event_id", p.eventID).Str("user_id", p.userID).Logger()
	var errs []error

	if err := s.recordWatchTime(ctx, p.room, p.userID, p.watched); err != nil {
		errs = append(errs, err)
	}
	if p.wasHost {
		next, err := s.handOffHost(ctx, p.room, p.userID)
		switch {
		case err != nil:
			errs = append(errs, err)
		case next != "":
			logger.Info().Str("next_host", next).Msg("host handed off")
		default:
			logger.Info().Msg("host released, no live viewers left")
		}
	}
	if err := s.remove(ctx, p.room.ActiveViewerPath(p.userID)); err != nil {
		errs = append(errs, err)
	}
	s.emitFor(p.room, p.userID, EventViewerLeft, map[string]any{"watched_seconds": p.watched.Seconds()})

	err := errors.Join(errs...)
	s.recordError(err)
	return err
}

// leave is the detached cleanup after StopSync.
func (s *Session) leave(room models.Room, userID string, watched time.Duration) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.OperationTimeout)
	defer cancel()

	err := errors.Join(
		s.recordWatchTime(ctx, room, userID, watched),
		s.remove(ctx, room.ActiveViewerPath(userID)),
	)
	if err != nil {
		s.recordError(err)
		return
	}
	s.emitFor(room, userID, EventViewerLeft, map[string]any{"watched_seconds": watched.Seconds()})
}

// recordWatchTime adds watched to the viewer's historical total.
func (s *Session) recordWatchTime(ctx context.Context, room models.Room, userID string, watched time.Duration) error {
	path := room.HistoricalViewerPath(userID)
	data := syncstore.Data{
		models.FieldLastSeen:  syncstore.ServerTimestamp,
		models.FieldWatchTime: syncstore.Increment(watched.Seconds()),
	}
	err := s.update(ctx, path, data)
	if errors.Is(err, syncstore.ErrNotFound) {
		data[models.FieldUserID] = userID
		return s.set(ctx, path, data, syncstore.Merge())
	}
	return err
}

// handOffHost passes the host role to the next live viewer, ordered by
// userId then lastSeen, or deletes the host document if nobody is left.
// It returns the new host's id, or "" when the role was released.
func (s *Session) handOffHost(ctx context.Context, room models.Room, userID string) (string, error) {
	q := syncstore.Collection(room.ActiveViewers()).
		Where(models.FieldUserID, syncstore.NotEqual, userID).
		OrderBy(models.FieldUserID, false).
		OrderBy(models.FieldLastSeen, false)
	docs, err := s.query(ctx, q)
	if err != nil {
		return "", err
	}

	live := models.LiveViewers(docs, s.clock.Now(), s.cfg.LivenessWindow)
	if len(live) == 0 {
		if err := s.remove(ctx, room.HostPath()); err != nil {
			return "", err
		}
		s.metrics.HostHandoff(false)
		s.emitFor(room, userID, EventHostReleased, nil)
		return "", nil
	}

	next := live[0].UserID
	err = s.set(ctx, room.HostPath(), syncstore.Data{
		models.FieldHostID:     next,
		models.FieldTimestamp:  syncstore.ServerTimestamp,
		models.FieldLastActive: syncstore.ServerTimestamp,
		models.FieldStatus:     models.StatusActive,
	})
	if err != nil {
		return "", err
	}
	s.metrics.HostHandoff(true)
	s.emitFor(room, userID, EventHostHandedOff, map[string]any{"next_host": next})
	return next, nil
}
