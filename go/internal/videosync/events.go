package videosync

import (
	"context"
	"time"
)

// EventType names a session lifecycle event.
type EventType string

const (
	EventViewerJoined       EventType = "ViewerJoined"
	EventViewerLeft         EventType = "ViewerLeft"
	EventHostClaimed        EventType = "HostClaimed"
	EventHostHandedOff      EventType = "HostHandedOff"
	EventHostReleased       EventType = "HostReleased"
	EventDriftCorrected     EventType = "DriftCorrected"
	EventPlayStateBroadcast EventType = "PlayStateBroadcast"
)

// Event is a notable transition in a session, emitted for observers outside
// the room (analytics, moderation). Delivery is best effort.
type Event struct {
	Type       EventType      `json:"type"`
	EventID    string         `json:"event_id"`
	UserID     string         `json:"user_id"`
	DateString string         `json:"date"`
	At         time.Time      `json:"at"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// EventSink publishes session events.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Publish(context.Context, Event) error { return nil }
