package videosync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

func TestSession_ConfigureValidation(t *testing.T) {
	tr := setupTestRoom()
	s := tr.newSession(t)

	assert.ErrorIs(t, s.ConfigureSync("", "a", tr.event), ErrMissingEventID)
	assert.ErrorIs(t, s.ConfigureSync(tr.event.ID, "", tr.event), ErrMissingUserID)
	assert.ErrorIs(t, s.StartSync(newFakePlayer()), ErrNotConfigured)
	assert.Equal(t, 0, tr.store.Writes())
}

func TestSession_ConfigureOutsideEventWindow(t *testing.T) {
	tr := setupTestRoom()
	future := tr.event
	future.Date = tr.clock.Now().Add(time.Hour)
	future.End = future.Date.Add(time.Hour)

	s := tr.newSession(t)
	err := s.ConfigureSync(future.ID, "a", future)

	assert.ErrorIs(t, err, ErrOutsideEventWindow)
	assert.False(t, s.IsWithinEventTime())
	assert.False(t, s.IsHost())
	assert.Equal(t, 0, tr.store.Writes(), "no store writes outside the event window")
}

func TestSession_FirstViewerBootstrapsRoom(t *testing.T) {
	tr := setupTestRoom()
	s := tr.join(t, "a")

	assert.Eventually(t, s.IsHost, waitFor, tick)
	assert.True(t, s.IsWithinEventTime())
	assert.Equal(t, "a", tr.hostID())

	for _, doc := range models.SyncDocs {
		assert.True(t, tr.exists(tr.room.DocPath(doc)), doc)
	}
	state := models.StateFromData(tr.doc(t, tr.room.StatePath()).Data)
	assert.Equal(t, "a", state.CurrentHost)

	hist := tr.doc(t, tr.room.HistoricalViewerPath("a"))
	require.True(t, hist.Exists)
	assert.Equal(t, 0.0, hist.Data.Float(models.FieldWatchTime))

	event := tr.doc(t, tr.room.EventPath())
	require.True(t, event.Exists)
	assert.Equal(t, "Season finale", event.Data.String("title"))
	assert.Eventually(t, func() bool { return tr.sink.has(EventHostClaimed, "a") }, waitFor, tick)
	assert.Eventually(t, func() bool { return tr.sink.has(EventViewerJoined, "a") }, waitFor, tick)
}

func TestSession_RequireEventDocument(t *testing.T) {
	tr := setupTestRoom()
	cfg := testConfig()
	cfg.RequireEventDocument = true
	s := tr.newSession(t, WithConfig(cfg))

	require.NoError(t, s.ConfigureSync(tr.event.ID, "a", tr.event))

	assert.Eventually(t, func() bool { return s.LastError() != nil }, waitFor, tick)
	var pathErr *syncstore.InvalidPathError
	assert.ErrorAs(t, s.LastError(), &pathErr)
	assert.False(t, tr.exists(tr.room.HostPath()))
}

func TestSession_StopSyncIsIdempotent(t *testing.T) {
	tr := setupTestRoom()
	s := tr.join(t, "a")
	player := newFakePlayer()
	require.NoError(t, s.StartSync(player))
	assert.Eventually(t, func() bool { return initialized(s) }, waitFor, tick)

	s.StopSync()
	s.StopSync()

	onActor(t, s, func() {
		timers, subs, bound := s.resources()
		assert.Zero(t, timers)
		assert.Zero(t, subs)
		assert.False(t, bound)
	})
	assert.False(t, s.IsHost())
	assert.Zero(t, player.listenerCount())
	assert.Eventually(t, func() bool {
		return !tr.exists(tr.room.ActiveViewerPath("a"))
	}, waitFor, tick)
}

func TestSession_ReconfigureReleasesPreviousRoom(t *testing.T) {
	tr := setupTestRoom()
	s := tr.join(t, "a")

	other := tr.event
	other.ID = "evt-2"
	require.NoError(t, s.ConfigureSync(other.ID, "a", other))

	otherRoom := models.NewRoom(other.DateString(time.UTC), other.ID)
	assert.Eventually(t, func() bool {
		return !tr.exists(tr.room.ActiveViewerPath("a")) && tr.exists(otherRoom.ActiveViewerPath("a"))
	}, waitFor, tick)
	assert.Equal(t, "evt-2", s.Status().EventID)
}

func TestSession_StatusHook(t *testing.T) {
	tr := setupTestRoom()
	changes := make(chan Status, 64)
	s := tr.join(t, "a", WithStatusHook(func(st Status) {
		select {
		case changes <- st:
		default:
		}
	}))
	assert.Eventually(t, s.IsHost, waitFor, tick)

	var sawHost bool
	for len(changes) > 0 {
		if st := <-changes; st.IsHost {
			sawHost = true
			assert.Equal(t, "a", st.UserID)
		}
	}
	assert.True(t, sawHost)
}

func TestSession_StoreFailureIsRecorded(t *testing.T) {
	tr := setupTestRoom()
	boom := errors.New("unavailable")
	tr.store.SetFault(func(op, path string) error {
		if op == "query" {
			return boom
		}
		return nil
	})

	s := tr.newSession(t)
	require.NoError(t, s.ConfigureSync(tr.event.ID, "a", tr.event))

	assert.Eventually(t, func() bool { return s.LastError() != nil }, waitFor, tick)
	var storeErr *StoreError
	require.ErrorAs(t, s.LastError(), &storeErr)
	assert.ErrorIs(t, s.LastError(), boom)
	assert.Never(t, s.IsHost, 100*time.Millisecond, tick)
	assert.Empty(t, tr.hostID())
}

// batchFault fails the first n batch commits with err and counts them.
type batchFault struct {
	mu     sync.Mutex
	n      int
	failed int
	err    error
}

func (f *batchFault) check(op, _ string) error {
	if op != "batch" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed >= f.n {
		return nil
	}
	f.failed++
	return f.err
}

func (f *batchFault) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

func TestSession_BootstrapRetriesBatch(t *testing.T) {
	tr := setupTestRoom()
	fault := &batchFault{n: 2, err: errors.New("contention")}
	tr.store.SetFault(fault.check)

	s := tr.join(t, "a")

	assert.Eventually(t, s.IsHost, waitFor, tick)
	assert.Equal(t, 2, fault.count())
	assert.Equal(t, "a", tr.hostID())
	assert.True(t, models.ActiveViewerFromSnapshot(tr.doc(t, tr.room.ActiveViewerPath("a"))).IsHost)
	state := models.StateFromData(tr.doc(t, tr.room.StatePath()).Data)
	assert.Equal(t, []string{"a"}, state.CurrentUsers)
	assert.NoError(t, s.LastError())
}

func TestSession_BootstrapGivesUpAfterMaxAttempts(t *testing.T) {
	tr := setupTestRoom()
	boom := errors.New("contention")
	fault := &batchFault{n: 100, err: boom}
	tr.store.SetFault(fault.check)

	s := tr.join(t, "a")

	assert.Eventually(t, func() bool { return s.LastError() != nil }, waitFor, tick)
	var storeErr *StoreError
	require.ErrorAs(t, s.LastError(), &storeErr)
	assert.Equal(t, "batch", storeErr.Op)
	assert.ErrorIs(t, s.LastError(), boom)
	assert.Equal(t, DefaultConfig().MaxAttempts, fault.count())
	assert.False(t, models.ActiveViewerFromSnapshot(tr.doc(t, tr.room.ActiveViewerPath("a"))).IsHost)

	// the default documents still get written, and election claims the
	// empty host document
	assert.Eventually(t, s.IsHost, waitFor, tick)
	assert.Equal(t, "a", tr.hostID())
	assert.Equal(t, DefaultConfig().MaxAttempts, fault.count())
}

func TestSession_CloseRejectsCalls(t *testing.T) {
	tr := setupTestRoom()
	s := NewSession(tr.store, WithClock(tr.clock), WithConfig(testConfig()))
	s.Close()

	assert.ErrorIs(t, s.ConfigureSync(tr.event.ID, "a", tr.event), ErrSessionClosed)
	assert.ErrorIs(t, s.HandleUserExit(context.Background()), ErrSessionClosed)
	s.Close()
}
