package videosync

// checkEventWindow recomputes whether now lies in the event window. When the
// window closes the player is paused and the session stops.
func (s *Session) checkEventWindow() {
	within := s.event.Contains(s.clock.Now())
	if within == s.withinEvent {
		return
	}
	wasWithin := s.withinEvent
	s.setWithinEvent(within)
	if !wasWithin {
		return
	}

	s.logger().Info().Time("end", s.event.End).Msg("event window closed")
	if s.player != nil {
		s.applyLocal(false)
	}
	s.stop(true)
}
