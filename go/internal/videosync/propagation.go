package videosync

import (
	"context"
	"math"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

func (s *Session) subscribeIngestion(gen uint64) error {
	timingSub, err := s.store.WatchDocument(s.room.TimingPath(), func(snap *syncstore.Snapshot, err error) {
		s.postGen(gen, func() { s.onTimingSnapshot(snap, err) })
	})
	if err != nil {
		return &StoreError{Op: "watch", Path: s.room.TimingPath(), Err: err}
	}
	playSub, err := s.store.WatchDocument(s.room.PlayStatePath(), func(snap *syncstore.Snapshot, err error) {
		s.postGen(gen, func() { s.onPlayStateSnapshot(snap, err) })
	})
	if err != nil {
		timingSub.Stop()
		return &StoreError{Op: "watch", Path: s.room.PlayStatePath(), Err: err}
	}
	s.ingestSubs = []syncstore.Subscription{timingSub, playSub}
	return nil
}

// initialSeek positions the player before remote updates are applied:
// at the event's elapsed time when the room already has a host, else zero.
func (s *Session) initialSeek(gen uint64, hostExists bool) {
	if s.player == nil {
		return
	}
	target := 0.0
	if hostExists {
		target = s.event.Elapsed(s.clock.Now())
	}
	s.logger().Info().Float64("position", target).Bool("host_exists", hostExists).Msg("initial seek")
	s.player.Seek(target, func(bool) {
		s.postGen(gen, func() {
			s.finishInitializing()
			if s.isHost && s.player != nil {
				s.applyLocal(true)
				s.publishPlayState(true)
				s.startTimingBroadcast()
			}
		})
	})
}

// finishInitializing opens ingestion and applies the play state that
// arrived while the player was being positioned.
func (s *Session) finishInitializing() {
	if !s.initializing {
		return
	}
	s.initializing = false
	pending := s.pendingPlay
	s.pendingPlay = nil
	if pending != nil && s.ingesting() {
		s.applyLocal(*pending)
	}
}

// ingesting reports whether remote updates may drive the local player.
func (s *Session) ingesting() bool {
	return s.player != nil && !s.isHost && s.withinEvent && !s.initializing
}

func (s *Session) onTimingSnapshot(snap *syncstore.Snapshot, err error) {
	if err != nil {
		s.recordError(&StoreError{Op: "watch", Path: s.room.TimingPath(), Err: err})
		return
	}
	if !snap.Exists {
		return
	}
	rec := models.TimingFromData(snap.Data)
	s.setCurrentTimestamp(rec.Timestamp)
	if !s.ingesting() {
		return
	}

	local := s.player.CurrentPosition()
	drift := math.Abs(local - rec.Timestamp)
	if drift <= s.cfg.DriftThreshold {
		return
	}
	s.logger().Info().
		Float64("local", local).
		Float64("remote", rec.Timestamp).
		Float64("drift", drift).
		Msg("drift correction")
	s.player.Seek(rec.Timestamp, func(bool) {})
	s.metrics.DriftCorrected(drift)
	s.emit(EventDriftCorrected, map[string]any{"from": local, "to": rec.Timestamp, "drift": drift})
}

func (s *Session) onPlayStateSnapshot(snap *syncstore.Snapshot, err error) {
	if err != nil {
		s.recordError(&StoreError{Op: "watch", Path: s.room.PlayStatePath(), Err: err})
		return
	}
	if !snap.Exists || s.player == nil || s.isHost || !s.withinEvent {
		return
	}
	rec := models.PlayStateFromData(snap.Data)
	if s.initializing {
		v := rec.IsPlaying
		s.pendingPlay = &v
		return
	}
	s.applyLocal(rec.IsPlaying)
}

func (s *Session) applyLocal(playing bool) {
	s.localPlaying = playing
	if playing {
		s.player.Play()
	} else {
		s.player.Pause()
	}
}

// onLocalPlayState handles a play/pause transition reported by the player.
func (s *Session) onLocalPlayState(playing bool) {
	s.localPlaying = playing
	if s.isHost && s.withinEvent {
		s.publishPlayState(playing)
	}
}

// effectiveHost is re-checked before every broadcast so a session that lost
// the host document stops writing on its next action.
func (s *Session) effectiveHost() bool {
	return s.isHost && s.hostID == s.userID && s.withinEvent
}

// publishPlayState writes the host's play state unless it was already the
// last value published.
func (s *Session) publishPlayState(playing bool) {
	if !s.effectiveHost() || s.player == nil {
		return
	}
	if s.lastPublished != nil && *s.lastPublished == playing {
		return
	}
	published := &playing
	s.lastPublished = published
	gen, path, pos := s.gen, s.room.PlayStatePath(), s.player.CurrentPosition()

	s.async(gen, func(ctx context.Context) error {
		return s.set(ctx, path, syncstore.Data{
			models.FieldIsPlaying: playing,
			models.FieldTimestamp: pos,
			models.FieldUpdatedAt: syncstore.ServerTimestamp,
		})
	}, func(err error) {
		if err != nil {
			if s.lastPublished == published {
				s.lastPublished = nil
			}
			s.recordError(err)
			return
		}
		s.metrics.Broadcast(BroadcastPlayState)
		s.emit(EventPlayStateBroadcast, map[string]any{"is_playing": playing, "position": pos})
	})
}

func (s *Session) startTimingBroadcast() {
	if s.stopTiming != nil || s.player == nil {
		return
	}
	s.stopTiming = s.startTicker(s.gen, s.cfg.TimingInterval, s.timingTick)
	s.logger().Debug().Dur("interval", s.cfg.TimingInterval).Msg("timing broadcast started")
}

func (s *Session) stopTimingBroadcast() {
	if s.stopTiming == nil {
		return
	}
	s.stopTiming()
	s.stopTiming = nil
	s.logger().Debug().Msg("timing broadcast stopped")
}

// timingTick publishes the host's position. Writes are not chained: a slow
// write does not delay the next tick.
func (s *Session) timingTick() {
	if s.stopTiming == nil {
		return
	}
	if !s.effectiveHost() || s.player == nil {
		s.stopTimingBroadcast()
		return
	}
	if !s.localPlaying {
		return
	}
	gen, path, pos := s.gen, s.room.TimingPath(), s.player.CurrentPosition()
	s.async(gen, func(ctx context.Context) error {
		return s.set(ctx, path, syncstore.Data{
			models.FieldTimestamp:       pos,
			models.FieldUpdatedAt:       syncstore.ServerTimestamp,
			models.FieldCurrentPosition: pos,
		}, syncstore.Merge())
	}, func(err error) {
		if err != nil {
			s.recordError(err)
			return
		}
		s.metrics.Broadcast(BroadcastTiming)
	})
}
