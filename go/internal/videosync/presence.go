package videosync

import (
	"context"
	"errors"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

// registerPresence adds this viewer to the live set and opens or refreshes
// its historical record.
func (s *Session) registerPresence(ctx context.Context, p bootstrapParams, isHost bool) error {
	err := s.set(ctx, p.room.ActiveViewerPath(p.userID), syncstore.Data{
		models.FieldUserID:    p.userID,
		models.FieldLastSeen:  syncstore.ServerTimestamp,
		models.FieldTimestamp: 0.0,
		models.FieldJoined:    syncstore.ServerTimestamp,
		models.FieldIsHost:    isHost,
		models.FieldStatus:    models.StatusActive,
	})
	if err != nil {
		return err
	}

	path := p.room.HistoricalViewerPath(p.userID)
	snap, err := s.get(ctx, path)
	if err != nil {
		return err
	}
	if snap.Exists {
		return s.update(ctx, path, syncstore.Data{models.FieldLastSeen: syncstore.ServerTimestamp})
	}
	return s.set(ctx, path, syncstore.Data{
		models.FieldUserID:      p.userID,
		models.FieldFirstJoined: syncstore.ServerTimestamp,
		models.FieldLastSeen:    syncstore.ServerTimestamp,
		models.FieldWatchTime:   0.0,
	})
}

// onPresenceSnapshot tracks the live viewers and heals a lost host: when no
// live host exists and this session is the earliest live viewer, it claims.
func (s *Session) onPresenceSnapshot(docs []*syncstore.Snapshot, err error) {
	if err != nil {
		s.recordError(&StoreError{Op: "watch", Path: s.room.ActiveViewers(), Err: err})
		return
	}
	s.liveViewers = models.LiveViewers(docs, s.clock.Now(), s.cfg.LivenessWindow)

	if s.isHost || s.claiming || !s.hostKnown || s.validHost() {
		return
	}
	if winner, ok := electHost(s.liveViewers); ok && winner == s.userID {
		s.logger().Info().Str("stale_host", s.hostID).Msg("host not live, taking over")
		s.becomeHost()
	}
}

func (s *Session) validHost() bool {
	if s.hostID == "" {
		return false
	}
	for _, v := range s.liveViewers {
		if v.UserID == s.hostID {
			return true
		}
	}
	return false
}

// refreshPresence rewrites this viewer's record; the host also refreshes the
// host heartbeat and the live viewer count. Failures wait for the next tick.
func (s *Session) refreshPresence() {
	gen, room, userID, isHost := s.gen, s.room, s.userID, s.isHost
	liveCount := len(s.liveViewers)
	pos := 0.0
	if s.player != nil {
		pos = s.player.CurrentPosition()
	}

	s.async(gen, func(ctx context.Context) error {
		var errs []error
		errs = append(errs, s.set(ctx, room.ActiveViewerPath(userID), syncstore.Data{
			models.FieldUserID:    userID,
			models.FieldLastSeen:  syncstore.ServerTimestamp,
			models.FieldTimestamp: pos,
			models.FieldIsHost:    isHost,
			models.FieldStatus:    models.StatusActive,
		}, syncstore.Merge()))
		errs = append(errs, s.set(ctx, room.StatePath(), syncstore.Data{
			models.FieldLastUpdated: syncstore.ServerTimestamp,
		}, syncstore.Merge()))
		if isHost {
			errs = append(errs, s.update(ctx, room.HostPath(), syncstore.Data{
				models.FieldLastActive: syncstore.ServerTimestamp,
			}))
			errs = append(errs, s.set(ctx, room.PresencePath(), syncstore.Data{
				models.FieldActiveViewerCount: liveCount,
				models.FieldLastUpdated:       syncstore.ServerTimestamp,
			}, syncstore.Merge()))
		}
		return errors.Join(errs...)
	}, func(err error) {
		if err != nil {
			s.recordError(err)
			return
		}
		s.metrics.Broadcast(BroadcastPresence)
	})
}
