// Package typewriter reveals text one character at a time.
package typewriter

import (
	"iter"
	"sync"
	"time"
	"unicode/utf8"

	"funnel-engine/internal/clock"
)

// DefaultInterval is the delay between two revealed characters.
const DefaultInterval = 50 * time.Millisecond

// Frames yields every non-empty prefix of text, rune by rune. A text of N
// runes yields N frames.
func Frames(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := range text {
			_, size := utf8.DecodeRuneInString(text[i:])
			if !yield(text[:i+size]) {
				return
			}
		}
	}
}

// Player emits the Frames of a text on a clock. OnFrame gets every prefix
// and OnDone fires right after the last one. Both run on the clock's
// goroutine.
type Player struct {
	clock    clock.Clock
	interval time.Duration
	onFrame  func(string)
	onDone   func()

	mu       sync.Mutex
	next     func() (string, bool)
	release  func()
	frame    string
	hasFrame bool
	started  bool
	stopped  bool
	timer    clock.Timer
}

func NewPlayer(clk clock.Clock, interval time.Duration, onFrame func(string), onDone func()) *Player {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if onFrame == nil {
		onFrame = func(string) {}
	}
	if onDone == nil {
		onDone = func() {}
	}
	return &Player{clock: clk, interval: interval, onFrame: onFrame, onDone: onDone}
}

// Play starts revealing text. A player plays a single text; later calls are
// ignored.
func (p *Player) Play(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.started {
		return
	}
	p.started = true
	p.next, p.release = iter.Pull(Frames(text))
	p.frame, p.hasFrame = p.next()
	p.timer = p.clock.AfterFunc(p.interval, p.step)
}

// step emits the frame pulled ahead and pulls the one after it, so the last
// frame and the completion go out together.
func (p *Player) step() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	frame, emit := p.frame, p.hasFrame
	if emit {
		p.frame, p.hasFrame = p.next()
	}
	last := !p.hasFrame
	if last {
		p.finish()
	} else {
		p.timer = p.clock.AfterFunc(p.interval, p.step)
	}
	p.mu.Unlock()

	if emit {
		p.onFrame(frame)
	}
	if last {
		p.onDone()
	}
}

// finish ends playback and releases the frame iterator. Callers hold p.mu.
func (p *Player) finish() {
	p.stopped = true
	if p.release != nil {
		p.release()
	}
}

// Stop abandons the reveal. No frame or completion is emitted afterwards.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.finish()
}
