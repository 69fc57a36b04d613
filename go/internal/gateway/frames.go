package gateway

import (
	"time"

	"github.com/mcdev12/watchparty/go/internal/videosync"
)

// FrameType identifies a WebSocket message.
type FrameType string

// Client to server.
const (
	FramePosition FrameType = "position"
	FrameState    FrameType = "state"
	FrameSeeked   FrameType = "seeked"
	FrameCommand  FrameType = "command"
)

// Server to client.
const (
	FrameSeek      FrameType = "seek"
	FramePlay      FrameType = "play"
	FramePause     FrameType = "pause"
	FrameStatus    FrameType = "status"
	FrameRoomEvent FrameType = "room_event"
)

// Close codes sent when a session cannot start.
const (
	CloseInvalidRequest = 4000
	CloseOutsideWindow  = 4003
	CloseSyncFailed     = 4010
)

// ClientFrame is a message from the viewer's player.
type ClientFrame struct {
	Type      FrameType `json:"type"`
	Position  float64   `json:"position,omitempty"`
	IsPlaying bool      `json:"is_playing,omitempty"`
	Seq       uint64    `json:"seq,omitempty"`
	Finished  bool      `json:"finished,omitempty"`
}

// ServerFrame is a message to the viewer's player.
type ServerFrame struct {
	Type     FrameType         `json:"type"`
	Seq      uint64            `json:"seq,omitempty"`
	Position *float64          `json:"position,omitempty"`
	Status   *videosync.Status `json:"status,omitempty"`
	Event    *RoomEvent        `json:"event,omitempty"`
}

// RoomEvent is a session lifecycle event relayed to everyone in the room.
type RoomEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}
