package calendar_client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T, handler http.HandlerFunc) *CalendarClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCalendarClient(srv.URL, "secret")
}

func TestCalendarClient_GetEvent(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events/evt-1", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"evt-1","title":"Finale","start":"2026-03-14T19:00:00Z","end":"2026-03-14T21:00:00Z"}`))
	})

	event, err := client.GetEvent(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Finale", event.Title)
	assert.Equal(t, 2*time.Hour, event.End.Sub(event.Start))
}

func TestCalendarClient_GetEventNotFound(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such event", http.StatusNotFound)
	})

	_, err := client.GetEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCalendarClient_ListEvents(t *testing.T) {
	from := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, "2026-03-14T00:00:00Z", r.URL.Query().Get("from"))
		_, _ = w.Write([]byte(`{"results":2,"events":[{"id":"a"},{"id":"b"}]}`))
	})

	events, err := client.ListEvents(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[1].ID)
}

func TestCalendarClient_ServerError(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.ListEvents(context.Background(), time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
