package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/watchparty/go/internal/catalog"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
	"github.com/mcdev12/watchparty/go/internal/videosync"
)

type testGateway struct {
	srv     *httptest.Server
	svc     *Service
	store   *syncstore.MemoryStore
	room    models.Room
	eventID string
}

func liveEvent() models.CalendarEvent {
	now := time.Now()
	return models.CalendarEvent{ID: "live", Title: "Live", Date: now.Add(-10 * time.Second), End: now.Add(time.Hour)}
}

func setupTestGateway(t *testing.T, event models.CalendarEvent) *testGateway {
	t.Helper()
	store := syncstore.NewMemoryStore(nil)
	events, err := catalog.NewStatic([]models.CalendarEvent{event})
	require.NoError(t, err)

	cfg := videosync.DefaultConfig()
	cfg.RetryDelay = 0
	factory := func(opts ...videosync.Option) *videosync.Session {
		return videosync.NewSession(store, append([]videosync.Option{videosync.WithConfig(cfg)}, opts...)...)
	}
	svc, err := NewService(DefaultConfig(), events, factory, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = svc.Start(ctx) }()

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testGateway{
		srv:     srv,
		svc:     svc,
		store:   store,
		room:    models.NewRoom(event.DateString(time.UTC), event.ID),
		eventID: event.ID,
	}
}

func (g *testGateway) watchURL(eventID, userID string) string {
	q := url.Values{"event_id": {eventID}, "user_id": {userID}}
	return "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws/watch?" + q.Encode()
}

func (g *testGateway) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(g.watchURL(g.eventID, userID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func (g *testGateway) exists(path string) bool {
	snap, err := g.store.Get(context.Background(), path)
	return err == nil && snap.Exists
}

// playUntil acts as a client player, acknowledging seeks, until a frame of
// type want arrives.
func playUntil(t *testing.T, c *websocket.Conn, want FrameType) ServerFrame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f ServerFrame
		require.NoError(t, c.ReadJSON(&f))
		if f.Type == FrameSeek {
			require.NoError(t, c.WriteJSON(ClientFrame{Type: FrameSeeked, Seq: f.Seq, Finished: true}))
		}
		if f.Type == want {
			return f
		}
	}
}

func TestWebSocketHandler_HostSession(t *testing.T) {
	g := setupTestGateway(t, liveEvent())
	c := g.dial(t, "a")

	playUntil(t, c, FramePlay)

	assert.Eventually(t, func() bool {
		snap, err := g.store.Get(context.Background(), g.room.PlayStatePath())
		return err == nil && snap.Exists && snap.Data.Bool(models.FieldIsPlaying)
	}, 3*time.Second, 10*time.Millisecond)
	snap, err := g.store.Get(context.Background(), g.room.HostPath())
	require.NoError(t, err)
	assert.Equal(t, "a", snap.Data.String(models.FieldHostID))
	assert.Equal(t, 1, g.svc.GetStats().TotalConnections)

	require.NoError(t, c.WriteJSON(ClientFrame{Type: FrameCommand, IsPlaying: false}))
	playUntil(t, c, FramePause)

	c.Close()
	assert.Eventually(t, func() bool {
		return !g.exists(g.room.HostPath()) && !g.exists(g.room.ActiveViewerPath("a"))
	}, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return g.svc.GetStats().TotalConnections == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketHandler_StatusFrames(t *testing.T) {
	g := setupTestGateway(t, liveEvent())
	c := g.dial(t, "a")

	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f ServerFrame
		require.NoError(t, c.ReadJSON(&f))
		if f.Type == FrameSeek {
			require.NoError(t, c.WriteJSON(ClientFrame{Type: FrameSeeked, Seq: f.Seq, Finished: true}))
		}
		if f.Type == FrameStatus && f.Status.IsHost {
			assert.Equal(t, "a", f.Status.UserID)
			assert.True(t, f.Status.IsWithinEventTime)
			return
		}
	}
}

func TestWebSocketHandler_OutsideEventWindow(t *testing.T) {
	now := time.Now()
	g := setupTestGateway(t, models.CalendarEvent{ID: "later", Date: now.Add(time.Hour), End: now.Add(2 * time.Hour)})
	c := g.dial(t, "a")

	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	var err error
	for err == nil {
		_, _, err = c.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, CloseOutsideWindow), err.Error())
	assert.Equal(t, 0, g.store.Writes())
}

func TestWebSocketHandler_RejectsBadRequests(t *testing.T) {
	g := setupTestGateway(t, liveEvent())

	_, resp, err := websocket.DefaultDialer.Dial(g.watchURL("nope", "a"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(g.watchURL(g.eventID, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketHandler_RoomEventRelay(t *testing.T) {
	g := setupTestGateway(t, liveEvent())
	c := g.dial(t, "a")
	assert.Eventually(t, func() bool { return g.svc.GetStats().TotalConnections == 1 }, time.Second, 10*time.Millisecond)

	g.svc.connectionManager.BroadcastToRoom(g.eventID, ServerFrame{
		Type:  FrameRoomEvent,
		Event: &RoomEvent{ID: "m1", Type: string(videosync.EventViewerJoined), UserID: "b"},
	})

	f := playUntil(t, c, FrameRoomEvent)
	require.NotNil(t, f.Event)
	assert.Equal(t, "b", f.Event.UserID)
}

func TestWebSocketHandler_Stats(t *testing.T) {
	g := setupTestGateway(t, liveEvent())
	g.dial(t, "a")
	assert.Eventually(t, func() bool { return g.svc.GetStats().TotalConnections == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Get(g.srv.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats ConnectionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.RoomConnections["live"])
}
