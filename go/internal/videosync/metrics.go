package videosync

// Metrics receives session telemetry.
type Metrics interface {
	SessionStarted()
	SessionEnded()
	HostClaimed(success bool)
	HostHandoff(handedOff bool)
	DriftCorrected(drift float64)
	Broadcast(kind string)
	StoreError(op string)
	Retry(op string)
}

// Broadcast kinds.
const (
	BroadcastTiming    = "timing"
	BroadcastPlayState = "play_state"
	BroadcastPresence  = "presence"
)

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) SessionStarted()        {}
func (NoOpMetrics) SessionEnded()          {}
func (NoOpMetrics) HostClaimed(bool)       {}
func (NoOpMetrics) HostHandoff(bool)       {}
func (NoOpMetrics) DriftCorrected(float64) {}
func (NoOpMetrics) Broadcast(string)       {}
func (NoOpMetrics) StoreError(string)      {}
func (NoOpMetrics) Retry(string)           {}
