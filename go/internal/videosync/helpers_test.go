package videosync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var testStart = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

type fakePlayer struct {
	mu        sync.Mutex
	pos       float64
	playing   bool
	seeks     []float64
	plays     int
	pauses    int
	listeners map[int]func(bool)
	nextID    int

	// holding parks seek completions until releaseSeeks.
	holding bool
	held    []func(bool)
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{listeners: make(map[int]func(bool))}
}

func (p *fakePlayer) CurrentPosition() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *fakePlayer) Seek(position float64, done func(bool)) {
	p.mu.Lock()
	p.pos = position
	p.seeks = append(p.seeks, position)
	if p.holding {
		p.held = append(p.held, done)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	done(true)
}

func (p *fakePlayer) releaseSeeks() {
	p.mu.Lock()
	held := p.held
	p.held = nil
	p.holding = false
	p.mu.Unlock()
	for _, done := range held {
		done(true)
	}
}

func (p *fakePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	p.plays++
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.pauses++
}

func (p *fakePlayer) OnPlayStateChanged(fn func(bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// toggle simulates the user pressing play or pause on the player itself.
func (p *fakePlayer) toggle(playing bool) {
	p.mu.Lock()
	p.playing = playing
	var fns []func(bool)
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(playing)
	}
}

func (p *fakePlayer) setPosition(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = v
}

func (p *fakePlayer) seekLog() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.seeks...)
}

func (p *fakePlayer) counts() (plays, pauses int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays, p.pauses
}

func (p *fakePlayer) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) has(typ EventType, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == typ && ev.UserID == userID {
			return true
		}
	}
	return false
}

type testRoom struct {
	clock *clockwork.FakeClock
	store *syncstore.MemoryStore
	event models.CalendarEvent
	room  models.Room
	sink  *recordingSink
}

// setupTestRoom returns a store and clock positioned ten seconds into a
// one hour event.
func setupTestRoom() *testRoom {
	clock := clockwork.NewFakeClockAt(testStart.Add(10 * time.Second))
	event := models.CalendarEvent{
		ID:    "evt-1",
		Title: "Season finale",
		Date:  testStart,
		End:   testStart.Add(time.Hour),
	}
	return &testRoom{
		clock: clock,
		store: syncstore.NewMemoryStore(clock),
		event: event,
		room:  models.NewRoom(event.DateString(time.UTC), event.ID),
		sink:  &recordingSink{},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 0
	return cfg
}

func (tr *testRoom) newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{
		WithClock(tr.clock),
		WithConfig(testConfig()),
		WithEventSink(tr.sink),
	}, opts...)
	s := NewSession(tr.store, opts...)
	t.Cleanup(s.Close)
	return s
}

// join configures a session for userID and waits until its presence is
// registered and its room listeners are attached.
func (tr *testRoom) join(t *testing.T, userID string, opts ...Option) *Session {
	t.Helper()
	s := tr.newSession(t, opts...)
	require.NoError(t, s.ConfigureSync(tr.event.ID, userID, tr.event))
	assert.Eventually(t, func() bool {
		return tr.exists(tr.room.ActiveViewerPath(userID)) && attached(s)
	}, waitFor, tick)
	return s
}

func attached(s *Session) bool {
	ok := false
	_ = s.call(func() error {
		ok = s.hostSub != nil && s.presenceSub != nil && s.stopPresence != nil
		return nil
	})
	return ok
}

// seedRoom writes a room whose host is hostID and whose live viewers are
// given with their lastSeen times.
func (tr *testRoom) seedRoom(t *testing.T, hostID string, viewers map[string]time.Time) {
	t.Helper()
	ctx := context.Background()
	b := tr.store.Batch()
	for _, doc := range models.SyncDocs {
		if doc == models.DocHost && hostID == "" {
			continue
		}
		b.Set(tr.room.DocPath(doc), bootstrapDoc(doc, hostID))
	}
	for userID, seen := range viewers {
		b.Set(tr.room.ActiveViewerPath(userID), syncstore.Data{
			models.FieldUserID:   userID,
			models.FieldLastSeen: seen,
			models.FieldStatus:   models.StatusActive,
		})
	}
	require.NoError(t, b.Commit(ctx))
}

func (tr *testRoom) doc(t *testing.T, path string) *syncstore.Snapshot {
	t.Helper()
	snap, err := tr.store.Get(context.Background(), path)
	require.NoError(t, err)
	return snap
}

// exists and hostID are safe inside assert.Eventually conditions.
func (tr *testRoom) exists(path string) bool {
	snap, err := tr.store.Get(context.Background(), path)
	return err == nil && snap.Exists
}

func (tr *testRoom) hostID() string {
	snap, err := tr.store.Get(context.Background(), tr.room.HostPath())
	if err != nil || !snap.Exists {
		return ""
	}
	return snap.Data.String(models.FieldHostID)
}

// onActor runs fn on the session goroutine and waits for it.
func onActor(t *testing.T, s *Session, fn func()) {
	t.Helper()
	require.NoError(t, s.call(func() error {
		fn()
		return nil
	}))
}

func initialized(s *Session) bool {
	done := false
	_ = s.call(func() error {
		done = s.player != nil && !s.initializing
		return nil
	})
	return done
}
