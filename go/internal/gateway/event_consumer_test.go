package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/watchparty/go/internal/videosync/events"
)

func TestDecodeRoomEvent(t *testing.T) {
	at := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	data, err := json.Marshal(events.Envelope{
		ID:         "m1",
		Type:       "HostHandedOff",
		EventID:    "evt-1",
		UserID:     "a",
		Timestamp:  at,
		Attributes: map[string]any{"next_host": "b"},
	})
	require.NoError(t, err)

	eventID, frame, err := decodeRoomEvent(data)
	require.NoError(t, err)

	assert.Equal(t, "evt-1", eventID)
	assert.Equal(t, FrameRoomEvent, frame.Type)
	require.NotNil(t, frame.Event)
	assert.Equal(t, "HostHandedOff", frame.Event.Type)
	assert.Equal(t, "b", frame.Event.Attributes["next_host"])
	assert.True(t, at.Equal(frame.Event.Timestamp))
}

func TestDecodeRoomEvent_Invalid(t *testing.T) {
	_, _, err := decodeRoomEvent([]byte("not json"))
	assert.Error(t, err)

	_, _, err = decodeRoomEvent([]byte(`{"id":"m1","type":"ViewerLeft"}`))
	assert.Error(t, err)
}
