// Package videosync keeps many independent media players in near lock-step
// for a scheduled event by coordinating through a shared document store.
//
// A Session serves one (event, user) pairing. All of its mutable state is
// owned by a single goroutine; store callbacks, timer ticks and player
// notifications are queued onto that goroutine, so session fields need no
// locking. Store I/O runs elsewhere and reports back through the same queue.
package videosync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

// Status is a snapshot of a session's observable fields.
type Status struct {
	EventID           string  `json:"event_id"`
	UserID            string  `json:"user_id"`
	IsHost            bool    `json:"is_host"`
	IsWithinEventTime bool    `json:"is_within_event_time"`
	CurrentTimestamp  float64 `json:"current_timestamp"`
	LastError         string  `json:"last_error,omitempty"`
}

type Option func(*Session)

func WithClock(c clockwork.Clock) Option { return func(s *Session) { s.clock = c } }

func WithConfig(cfg Config) Option { return func(s *Session) { s.cfg = cfg } }

func WithMetrics(m Metrics) Option { return func(s *Session) { s.metrics = m } }

func WithEventSink(sink EventSink) Option { return func(s *Session) { s.sink = sink } }

// WithLocation sets the timezone used to derive the room's date partition.
func WithLocation(loc *time.Location) Option { return func(s *Session) { s.loc = loc } }

// WithStatusHook registers fn to be called whenever an observable changes.
// fn must not call back into the session synchronously.
func WithStatusHook(fn func(Status)) Option { return func(s *Session) { s.statusHook = fn } }

type Session struct {
	store      syncstore.Store
	clock      clockwork.Clock
	cfg        Config
	metrics    Metrics
	sink       EventSink
	loc        *time.Location
	statusHook func(Status)
	instanceID string

	ctx    context.Context
	cancel context.CancelFunc

	// mailbox
	mbMu    sync.Mutex
	queue   []func()
	wake    chan struct{}
	closing bool
	done    chan struct{}

	// observables mirrored for readers outside the actor
	statusMu sync.RWMutex
	status   Status
	lastErr  error

	// Everything below is owned by the actor goroutine.
	gen          uint64
	runCtx       context.Context
	runCancel    context.CancelFunc
	configured   bool
	eventID      string
	userID       string
	event        models.CalendarEvent
	room         models.Room
	joinTime     time.Time
	isHost       bool
	withinEvent  bool
	initializing bool
	player       Player
	playerCancel func()
	localPlaying bool
	hostID       string
	hostKnown    bool
	hostSeq      uint64 // host snapshots observed
	liveViewers  []models.ActiveViewer
	claiming     bool
	electing     bool

	lastPublished *bool
	pendingPlay   *bool
	hostSub       syncstore.Subscription
	presenceSub   syncstore.Subscription
	ingestSubs    []syncstore.Subscription
	stopMonitor   func()
	stopPresence  func()
	stopTiming    func()
}

// NewSession creates an idle session over store and starts its goroutine.
// Call Close when done with it.
func NewSession(store syncstore.Store, opts ...Option) *Session {
	s := &Session{
		store:      store,
		clock:      clockwork.NewRealClock(),
		cfg:        DefaultConfig(),
		metrics:    NoOpMetrics{},
		sink:       NoOpSink{},
		loc:        time.UTC,
		instanceID: uuid.New().String()[:8],
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.withDefaults()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.runCtx = s.ctx
	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.done)
	for {
		s.mbMu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mbMu.Unlock()
			if closing {
				return
			}
			<-s.wake
			continue
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mbMu.Unlock()
		fn()
	}
}

// post queues fn on the actor. It reports false once the session is closed.
func (s *Session) post(fn func()) bool {
	s.mbMu.Lock()
	if s.closing {
		s.mbMu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	s.mbMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// postGen queues fn, dropping it if the session has been stopped or
// reconfigured since gen was current.
func (s *Session) postGen(gen uint64, fn func()) {
	s.post(func() {
		if gen != s.gen {
			return
		}
		fn()
	})
}

// call runs fn on the actor and waits for it. Never call it from the actor.
func (s *Session) call(fn func() error) error {
	res := make(chan error, 1)
	if !s.post(func() { res <- fn() }) {
		return ErrSessionClosed
	}
	return <-res
}

// async runs io off the actor and hands its error to then on the actor.
// io is cancelled when the generation ends.
func (s *Session) async(gen uint64, io func(ctx context.Context) error, then func(err error)) {
	ctx := s.runCtx
	go func() {
		err := io(ctx)
		if then != nil {
			s.postGen(gen, func() { then(err) })
		}
	}()
}

// startTicker posts fn every d until the returned stop func is called.
func (s *Session) startTicker(gen uint64, d time.Duration, fn func()) (stop func()) {
	t := s.clock.NewTicker(d)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-quit:
				return
			case <-t.Chan():
				s.postGen(gen, fn)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
			close(quit)
		})
	}
}

func (s *Session) logger() *zerolog.Logger {
	l := log.With().
		Str("session", s.instanceID).
		Str("event_id", s.eventID).
		Str("user_id", s.userID).
		Logger()
	return &l
}

// ConfigureSync prepares the session for eventID and userID. It fails
// without touching the store when either id is empty or now lies outside
// the event's time window. Room bootstrap continues in the background after
// it returns.
func (s *Session) ConfigureSync(eventID, userID string, event models.CalendarEvent) error {
	return s.call(func() error {
		if eventID == "" {
			return ErrMissingEventID
		}
		if userID == "" {
			return ErrMissingUserID
		}
		now := s.clock.Now()
		if !event.Contains(now) {
			s.setWithinEvent(false)
			s.logger().Info().Time("start", event.Date).Time("end", event.End).Msg("configure rejected outside event window")
			return ErrOutsideEventWindow
		}

		if s.configured {
			s.stop(true)
		}

		s.gen++
		gen := s.gen
		s.runCtx, s.runCancel = context.WithCancel(s.ctx)
		s.configured = true
		s.eventID = eventID
		s.userID = userID
		s.event = event
		s.room = models.NewRoom(event.DateString(s.loc), eventID)
		s.joinTime = now
		s.hostID = ""
		s.liveViewers = nil
		s.setIdentity(eventID, userID)
		s.setWithinEvent(true)
		s.stopMonitor = s.startTicker(gen, s.cfg.EventMonitorInterval, s.checkEventWindow)
		s.metrics.SessionStarted()

		s.logger().Info().Str("room", s.room.SyncCollection()).Msg("sync configured")
		go s.bootstrap(s.runCtx, gen, s.bootstrapParams())
		return nil
	})
}

// StartSync binds the local player and subscribes to remote timing and play
// state. The player is seeked to the event's elapsed time, or to zero in a
// fresh room, before remote updates are applied to it.
func (s *Session) StartSync(p Player) error {
	return s.call(func() error {
		if !s.configured {
			return ErrNotConfigured
		}
		if !s.withinEvent {
			return ErrOutsideEventWindow
		}
		gen := s.gen

		if s.playerCancel != nil {
			s.playerCancel()
		}
		s.player = p
		s.initializing = true
		s.pendingPlay = nil
		s.playerCancel = p.OnPlayStateChanged(func(isPlaying bool) {
			s.postGen(gen, func() { s.onLocalPlayState(isPlaying) })
		})

		if err := s.subscribeIngestion(gen); err != nil {
			s.recordError(err)
		}

		var host *syncstore.Snapshot
		path := s.room.HostPath()
		s.async(gen, func(ctx context.Context) error {
			var err error
			host, err = s.get(ctx, path)
			return err
		}, func(err error) {
			if err != nil {
				s.recordError(err)
				s.finishInitializing()
				return
			}
			s.initialSeek(gen, host.Exists)
		})
		return nil
	})
}

// HandlePlayPause applies a play/pause command. Only the host acts on it:
// the local player follows immediately and the new state is published.
func (s *Session) HandlePlayPause(isPlaying bool) {
	_ = s.call(func() error {
		if !s.isHost || !s.withinEvent || s.player == nil {
			return nil
		}
		s.applyLocal(isPlaying)
		s.publishPlayState(isPlaying)
		return nil
	})
}

// StopSync cancels every timer and subscription, removes this viewer's
// presence and unbinds the player. Calling it again is a no-op.
func (s *Session) StopSync() {
	_ = s.call(func() error {
		s.stop(true)
		return nil
	})
}

// HandleUserExit tears the session down and then, waiting on ctx, records
// watch time, hands the host role to the next live viewer (or clears it)
// and removes this viewer from the room.
func (s *Session) HandleUserExit(ctx context.Context) error {
	var plan exitPlan
	err := s.call(func() error {
		if s.userID == "" {
			return nil
		}
		plan = exitPlan{
			room:    s.room,
			userID:  s.userID,
			eventID: s.eventID,
			wasHost: s.isHost,
		}
		plan.watched = s.stop(false)
		plan.valid = true
		s.reset()
		return nil
	})
	if err != nil || !plan.valid {
		return err
	}
	return s.exit(ctx, plan)
}

// Close stops the session and its goroutine.
func (s *Session) Close() {
	s.StopSync()
	s.mbMu.Lock()
	s.closing = true
	s.mbMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
	s.cancel()
}

func (s *Session) IsHost() bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status.IsHost
}

func (s *Session) IsWithinEventTime() bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status.IsWithinEventTime
}

// LastError returns the most recent background failure.
func (s *Session) LastError() error {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.lastErr
}

// CurrentTimestamp is the last remote timing position the session observed.
func (s *Session) CurrentTimestamp() float64 {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status.CurrentTimestamp
}

func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// stop releases every live resource of the current generation. It returns
// the watch time accrued since join, which detached cleanup records itself.
func (s *Session) stop(detached bool) time.Duration {
	wasActive := s.configured
	s.gen++
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
	for _, stop := range []*func(){&s.stopMonitor, &s.stopPresence, &s.stopTiming} {
		if *stop != nil {
			(*stop)()
			*stop = nil
		}
	}
	for _, sub := range s.subscriptions() {
		sub.Stop()
	}
	s.hostSub, s.presenceSub, s.ingestSubs = nil, nil, nil
	if s.playerCancel != nil {
		s.playerCancel()
		s.playerCancel = nil
	}
	s.player = nil
	s.initializing = false
	s.pendingPlay = nil
	s.lastPublished = nil
	s.claiming = false
	s.electing = false
	s.hostKnown = false
	s.configured = false
	s.setHost(false)

	watched := s.closeWatchSegment()
	if !wasActive {
		return watched
	}
	s.metrics.SessionEnded()
	s.logger().Info().Dur("watched", watched).Msg("sync stopped")

	if detached && s.userID != "" {
		room, userID := s.room, s.userID
		go s.leave(room, userID, watched)
	}
	return watched
}

func (s *Session) subscriptions() []syncstore.Subscription {
	var subs []syncstore.Subscription
	if s.hostSub != nil {
		subs = append(subs, s.hostSub)
	}
	if s.presenceSub != nil {
		subs = append(subs, s.presenceSub)
	}
	return append(subs, s.ingestSubs...)
}

// closeWatchSegment returns the time since join once; later calls return 0.
func (s *Session) closeWatchSegment() time.Duration {
	if s.joinTime.IsZero() {
		return 0
	}
	d := s.clock.Since(s.joinTime)
	s.joinTime = time.Time{}
	if d < 0 {
		return 0
	}
	return d
}

// reset returns the session to its freshly constructed state.
func (s *Session) reset() {
	s.eventID = ""
	s.userID = ""
	s.event = models.CalendarEvent{}
	s.room = models.Room{}
	s.hostID = ""
	s.liveViewers = nil
	s.localPlaying = false
	s.setIdentity("", "")
	s.setWithinEvent(false)
	s.setCurrentTimestamp(0)
}

// resources reports what the current generation holds. Used by tests.
func (s *Session) resources() (timers, subs int, bound bool) {
	for _, stop := range []func(){s.stopMonitor, s.stopPresence, s.stopTiming} {
		if stop != nil {
			timers++
		}
	}
	return timers, len(s.subscriptions()), s.player != nil
}

func (s *Session) updateStatus(fn func(st *Status)) {
	s.statusMu.Lock()
	before := s.status
	fn(&s.status)
	after := s.status
	s.statusMu.Unlock()
	if after != before && s.statusHook != nil {
		s.statusHook(after)
	}
}

func (s *Session) setIdentity(eventID, userID string) {
	s.updateStatus(func(st *Status) { st.EventID, st.UserID = eventID, userID })
}

func (s *Session) setHost(v bool) {
	s.isHost = v
	s.updateStatus(func(st *Status) { st.IsHost = v })
}

func (s *Session) setWithinEvent(v bool) {
	s.withinEvent = v
	s.updateStatus(func(st *Status) { st.IsWithinEventTime = v })
}

func (s *Session) setCurrentTimestamp(v float64) {
	s.updateStatus(func(st *Status) { st.CurrentTimestamp = v })
}

// recordError stores err as the last error. Safe from any goroutine.
func (s *Session) recordError(err error) {
	if err == nil {
		return
	}
	s.statusMu.Lock()
	s.lastErr = err
	s.statusMu.Unlock()
	s.updateStatus(func(st *Status) { st.LastError = err.Error() })
	log.Error().Err(err).Str("session", s.instanceID).Msg("sync operation failed")
}

// emit publishes a session event for the current identity. Actor only.
func (s *Session) emit(typ EventType, attrs map[string]any) {
	s.emitFor(s.room, s.userID, typ, attrs)
}

// emitFor publishes ev without blocking the caller.
func (s *Session) emitFor(room models.Room, userID string, typ EventType, attrs map[string]any) {
	ev := Event{
		Type:       typ,
		EventID:    room.EventID,
		UserID:     userID,
		DateString: room.DateString,
		At:         s.clock.Now(),
		Attributes: attrs,
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.OperationTimeout)
		defer cancel()
		if err := s.sink.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("type", string(ev.Type)).Msg("failed to publish session event")
		}
	}()
}
