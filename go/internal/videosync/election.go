package videosync

import (
	"context"
	"sort"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

// attachRoomListeners watches the host document and the live viewer set and
// starts the presence refresh.
func (s *Session) attachRoomListeners() {
	gen := s.gen
	hostSub, err := s.store.WatchDocument(s.room.HostPath(), func(snap *syncstore.Snapshot, err error) {
		s.postGen(gen, func() { s.onHostSnapshot(snap, err) })
	})
	if err != nil {
		s.recordError(&StoreError{Op: "watch", Path: s.room.HostPath(), Err: err})
	} else {
		s.hostSub = hostSub
	}

	presenceSub, err := s.store.WatchQuery(activeViewersQuery(s.room), func(docs []*syncstore.Snapshot, err error) {
		s.postGen(gen, func() { s.onPresenceSnapshot(docs, err) })
	})
	if err != nil {
		s.recordError(&StoreError{Op: "watch", Path: s.room.ActiveViewers(), Err: err})
	} else {
		s.presenceSub = presenceSub
	}

	s.stopPresence = s.startTicker(gen, s.cfg.PresenceInterval, s.refreshPresence)
}

func (s *Session) onHostSnapshot(snap *syncstore.Snapshot, err error) {
	if err != nil {
		s.recordError(&StoreError{Op: "watch", Path: s.room.HostPath(), Err: err})
		return
	}
	hostID := ""
	if snap.Exists {
		hostID = models.HostFromData(snap.Data).HostID
	}
	s.hostID = hostID
	s.hostKnown = true
	s.hostSeq++

	switch hostID {
	case "":
		s.setHostRole(false)
		s.runElection()
	case s.userID:
		if s.claiming {
			// the claim callback restarts playback and takes the role
			return
		}
		s.setHostRole(true)
	default:
		s.setHostRole(false)
	}
}

// setHostRole applies a host change observed in the store.
func (s *Session) setHostRole(host bool) {
	if host == s.isHost {
		return
	}
	s.setHost(host)
	if host {
		s.logger().Info().Msg("session is host")
		if s.player != nil && !s.initializing {
			s.startTimingBroadcast()
		}
		return
	}
	s.logger().Info().Str("host_id", s.hostID).Msg("session is follower")
	s.stopTimingBroadcast()
	s.lastPublished = nil
}

// runElection asks the store for the live viewers and claims the host role
// if this session is the winner. Other sessions reach the same answer.
func (s *Session) runElection() {
	if s.electing || s.claiming {
		return
	}
	s.electing = true
	gen, room := s.gen, s.room

	var live []models.ActiveViewer
	s.async(gen, func(ctx context.Context) error {
		var err error
		live, err = s.liveViewersIn(ctx, room)
		return err
	}, func(err error) {
		s.electing = false
		if err != nil {
			s.recordError(err)
			return
		}
		winner, ok := electHost(live)
		if !ok {
			return
		}
		s.logger().Debug().Str("winner", winner).Int("live", len(live)).Msg("election")
		if winner == s.userID && s.hostID == "" {
			s.becomeHost()
		}
	})
}

// electHost picks the live viewer with the earliest lastSeen, breaking ties
// by userId.
func electHost(live []models.ActiveViewer) (string, bool) {
	if len(live) == 0 {
		return "", false
	}
	sorted := append([]models.ActiveViewer(nil), live...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].LastSeen.Compare(sorted[j].LastSeen); c != 0 {
			return c < 0
		}
		return sorted[i].UserID < sorted[j].UserID
	})
	return sorted[0].UserID, true
}

// becomeHost writes this session into the host document, retrying with
// linear backoff. On failure the session stays a follower.
func (s *Session) becomeHost() {
	if s.claiming || (s.isHost && s.hostID == s.userID) {
		return
	}
	s.claiming = true
	gen, room, userID, seq := s.gen, s.room, s.userID, s.hostSeq
	s.logger().Info().Str("previous_host", s.hostID).Msg("claiming host")

	s.async(gen, func(ctx context.Context) error {
		err := retry(ctx, s.clock, s.cfg.MaxAttempts, s.cfg.RetryDelay, "claim host",
			func() { s.metrics.Retry("claim_host") },
			func(ctx context.Context) error {
				return s.set(ctx, room.HostPath(), syncstore.Data{
					models.FieldHostID:     userID,
					models.FieldTimestamp:  syncstore.ServerTimestamp,
					models.FieldLastActive: syncstore.ServerTimestamp,
					models.FieldStatus:     models.StatusActive,
				})
			})
		if err != nil {
			return err
		}
		if err := s.set(ctx, room.StatePath(), syncstore.Data{
			models.FieldCurrentHost:    userID,
			models.FieldLastHostChange: syncstore.ServerTimestamp,
		}, syncstore.Merge()); err != nil {
			s.recordError(err)
		}
		return nil
	}, func(err error) {
		s.claiming = false
		if err != nil {
			s.metrics.HostClaimed(false)
			s.recordError(err)
			if s.hostID == s.userID {
				// the write landed even though the call failed
				s.onHostClaimed()
			}
			return
		}
		s.metrics.HostClaimed(true)
		if s.hostSeq != seq && s.hostID != "" && s.hostID != s.userID {
			// a host snapshot newer than the claim names another viewer
			return
		}
		s.onHostClaimed()
	})
}

// onHostClaimed runs once this session's claim is committed. With a player
// bound it restarts playback from zero: seek, then play, then publish.
func (s *Session) onHostClaimed() {
	s.hostID = s.userID
	s.hostKnown = true
	s.setHost(true)
	s.emit(EventHostClaimed, nil)
	s.logger().Info().Msg("host claimed")

	if s.player == nil || s.initializing {
		return
	}
	gen := s.gen
	s.player.Seek(0, func(bool) {
		s.postGen(gen, func() {
			if !s.isHost || s.player == nil {
				return
			}
			s.applyLocal(true)
			s.publishPlayState(true)
			s.startTimingBroadcast()
		})
	})
}
