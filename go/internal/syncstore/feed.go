package syncstore

import "sync"

// Feed delivers watch callbacks in order on its own goroutine so writers
// never block on slow consumers. It implements Subscription.
type Feed struct {
	deliverMu sync.Mutex
	stopped   bool

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}
	quit  chan struct{}

	stopOnce sync.Once
	onStop   []func()
}

// NewFeed starts a feed.
func NewFeed() *Feed {
	f := &Feed{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	go f.run()
	return f
}

// OnStop registers cleanup that runs once when the feed stops.
func (f *Feed) OnStop(fn func()) {
	f.qmu.Lock()
	defer f.qmu.Unlock()
	f.onStop = append(f.onStop, fn)
}

// Push queues a delivery.
func (f *Feed) Push(fn func()) {
	f.qmu.Lock()
	f.queue = append(f.queue, fn)
	f.qmu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Stop ends delivery. No queued callback starts after Stop returns.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		f.deliverMu.Lock()
		f.stopped = true
		f.deliverMu.Unlock()
		close(f.quit)

		f.qmu.Lock()
		hooks := f.onStop
		f.onStop = nil
		f.queue = nil
		f.qmu.Unlock()
		for _, fn := range hooks {
			fn()
		}
	})
}

func (f *Feed) run() {
	for {
		select {
		case <-f.quit:
			return
		case <-f.wake:
		}
		for {
			f.qmu.Lock()
			if len(f.queue) == 0 {
				f.qmu.Unlock()
				break
			}
			fn := f.queue[0]
			f.queue = f.queue[1:]
			f.qmu.Unlock()

			f.deliverMu.Lock()
			if f.stopped {
				f.deliverMu.Unlock()
				return
			}
			fn()
			f.deliverMu.Unlock()
		}
	}
}
