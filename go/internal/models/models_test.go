package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

func TestCalendarEvent_Contains(t *testing.T) {
	start := time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)
	ev := CalendarEvent{ID: "e1", Date: start, End: start.Add(2 * time.Hour)}

	assert.True(t, ev.Contains(start))
	assert.True(t, ev.Contains(start.Add(2*time.Hour)))
	assert.False(t, ev.Contains(start.Add(-time.Nanosecond)))
	assert.False(t, ev.Contains(start.Add(2*time.Hour+time.Nanosecond)))
}

func TestCalendarEvent_DateString(t *testing.T) {
	ev := CalendarEvent{Date: time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)}
	assert.Equal(t, "03-10-2024", ev.DateString(nil))

	ny, err := time.LoadLocation("America/New_York")
	if err == nil {
		assert.Equal(t, "03-09-2024", ev.DateString(ny))
	}
}

func TestRoom_Paths(t *testing.T) {
	r := NewRoom("03-09-2024", "e1")
	assert.Equal(t, "rooms/03-09-2024/events/e1", r.EventPath())
	assert.Equal(t, "rooms/03-09-2024/events/e1/sync/host", r.HostPath())
	assert.Equal(t, "rooms/03-09-2024/events/e1/sync/presence/activeViewers/u1", r.ActiveViewerPath("u1"))
	assert.Equal(t, "rooms/03-09-2024/events/e1/sync/presence/historicalViewers/u1", r.HistoricalViewerPath("u1"))

	for _, doc := range SyncDocs {
		_, _, err := syncstore.SplitDocument(r.DocPath(doc))
		assert.NoError(t, err, doc)
	}
	assert.NoError(t, syncstore.CheckCollection(r.ActiveViewers()))
}

func TestActiveViewer_LivenessWindow(t *testing.T) {
	now := time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)
	window := 30 * time.Second

	fresh := ActiveViewer{LastSeen: now.Add(-29 * time.Second)}
	stale := ActiveViewer{LastSeen: now.Add(-31 * time.Second)}
	edge := ActiveViewer{LastSeen: now.Add(-30 * time.Second)}

	assert.True(t, fresh.IsLive(now, window))
	assert.False(t, stale.IsLive(now, window))
	assert.False(t, edge.IsLive(now, window))
}

func TestLiveViewers_FallsBackToDocumentID(t *testing.T) {
	now := time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)
	docs := []*syncstore.Snapshot{
		{ID: "a", Exists: true, Data: syncstore.Data{"lastSeen": now.Add(-time.Second)}},
		{ID: "b", Exists: true, Data: syncstore.Data{"userId": "b", "lastSeen": now.Add(-time.Minute)}},
		{ID: "c"},
	}
	live := LiveViewers(docs, now, 30*time.Second)
	if assert.Len(t, live, 1) {
		assert.Equal(t, "a", live[0].UserID)
	}
}
