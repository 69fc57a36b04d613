package gateway

import (
	"sync"

	"github.com/mcdev12/watchparty/go/internal/videosync"
)

// RemotePlayer drives a player running in a WebSocket client. Commands are
// sent as frames; the client reports position, play state and seek
// completion back.
type RemotePlayer struct {
	send func(ServerFrame) bool

	mu        sync.Mutex
	position  float64
	playing   bool
	seq       uint64
	pending   map[uint64]func(bool)
	listeners map[int]func(bool)
	nextID    int
	detached  bool
}

var _ videosync.Player = (*RemotePlayer)(nil)

func NewRemotePlayer(send func(ServerFrame) bool) *RemotePlayer {
	return &RemotePlayer{
		send:      send,
		pending:   make(map[uint64]func(bool)),
		listeners: make(map[int]func(bool)),
	}
}

func (p *RemotePlayer) CurrentPosition() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Seek asks the client to seek. done runs when the client acknowledges, or
// with false if the frame cannot be delivered.
func (p *RemotePlayer) Seek(position float64, done func(bool)) {
	p.mu.Lock()
	if p.detached {
		p.mu.Unlock()
		done(false)
		return
	}
	p.seq++
	seq := p.seq
	p.pending[seq] = done
	p.position = position
	p.mu.Unlock()

	if !p.send(ServerFrame{Type: FrameSeek, Seq: seq, Position: &position}) {
		p.mu.Lock()
		_, waiting := p.pending[seq]
		delete(p.pending, seq)
		p.mu.Unlock()
		if waiting {
			done(false)
		}
	}
}

func (p *RemotePlayer) Play() { p.command(true) }

func (p *RemotePlayer) Pause() { p.command(false) }

// command changes the remembered state before sending, so the client's
// confirmation is not reported as a new transition.
func (p *RemotePlayer) command(playing bool) {
	p.mu.Lock()
	p.playing = playing
	p.mu.Unlock()
	typ := FramePause
	if playing {
		typ = FramePlay
	}
	p.send(ServerFrame{Type: typ})
}

func (p *RemotePlayer) OnPlayStateChanged(fn func(bool)) func() {
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

func (p *RemotePlayer) updatePosition(pos float64) {
	p.mu.Lock()
	p.position = pos
	p.mu.Unlock()
}

// reportState records the client's play state and notifies listeners on a
// transition.
func (p *RemotePlayer) reportState(playing bool) {
	p.mu.Lock()
	if p.playing == playing {
		p.mu.Unlock()
		return
	}
	p.playing = playing
	fns := make([]func(bool), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(playing)
	}
}

func (p *RemotePlayer) completeSeek(seq uint64, finished bool) {
	p.mu.Lock()
	done, ok := p.pending[seq]
	delete(p.pending, seq)
	p.mu.Unlock()
	if ok {
		done(finished)
	}
}

// detach fails every outstanding seek and rejects new ones.
func (p *RemotePlayer) detach() {
	p.mu.Lock()
	p.detached = true
	pending := p.pending
	p.pending = make(map[uint64]func(bool))
	p.mu.Unlock()
	for _, done := range pending {
		done(false)
	}
}
