package videosync

import "time"

// Config holds the protocol constants of a sync session.
type Config struct {
	// DriftThreshold is how far, in seconds, a follower may drift from the
	// host's last broadcast before it is re-seeked. Equal drift is tolerated.
	DriftThreshold float64 `yaml:"drift_threshold"`
	// TimingInterval is the host's timing broadcast period.
	TimingInterval time.Duration `yaml:"timing_interval"`
	// PresenceInterval is how often a session refreshes its viewer record.
	PresenceInterval time.Duration `yaml:"presence_interval"`
	// LivenessWindow is how recent lastSeen must be for a viewer to be live.
	LivenessWindow time.Duration `yaml:"liveness_window"`
	// EventMonitorInterval is how often the event time window is rechecked.
	EventMonitorInterval time.Duration `yaml:"event_monitor_interval"`
	// MaxAttempts bounds host claims and bootstrap batches.
	MaxAttempts int `yaml:"max_attempts"`
	// RetryDelay is the linear backoff unit: attempt n waits n*RetryDelay.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// OperationTimeout is the deadline for a single store operation.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	// RequireEventDocument makes bootstrap fail when the event document
	// that owns the room does not exist, instead of creating it.
	RequireEventDocument bool `yaml:"require_event_document"`
}

func DefaultConfig() Config {
	return Config{
		DriftThreshold:       3.0,
		TimingInterval:       2 * time.Second,
		PresenceInterval:     10 * time.Second,
		LivenessWindow:       30 * time.Second,
		EventMonitorInterval: time.Second,
		MaxAttempts:          3,
		RetryDelay:           500 * time.Millisecond,
		OperationTimeout:     10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig. RetryDelay may be zero.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = d.DriftThreshold
	}
	if c.TimingInterval <= 0 {
		c.TimingInterval = d.TimingInterval
	}
	if c.PresenceInterval <= 0 {
		c.PresenceInterval = d.PresenceInterval
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = d.LivenessWindow
	}
	if c.EventMonitorInterval <= 0 {
		c.EventMonitorInterval = d.EventMonitorInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	return c
}
