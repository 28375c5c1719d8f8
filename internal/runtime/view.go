// Package runtime hosts a funnel state machine: it executes the effects of
// each transition on a clock and streams the resulting view to subscribers.
package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"funnel-engine/internal/clock"
	"funnel-engine/internal/engine"
	"funnel-engine/internal/jsonpatch"
	"funnel-engine/internal/model"
	"funnel-engine/internal/transitions"
	"funnel-engine/internal/typewriter"
)

var ErrClosed = errors.New("view closed")

// Commands carried by an Update.
const (
	CommandOpen     = "open"
	CommandNavigate = "navigate"
)

const popupKey = "popup"

// Tracker receives analytics events. Track must not block.
type Tracker interface {
	Track(ctx context.Context, ev model.TrackEvent)
}

type AnswerRecorder interface {
	RecordAnswer(ctx context.Context, rec model.AnswerRecord, c model.Category) error
}

type SpotsCounter interface {
	DecrementSpots(ctx context.Context) (int, error)
}

// Renderer mounts embedded content such as the video player. Mount may block
// until the content is ready.
type Renderer interface {
	Mount(ctx context.Context, stage string) error
}

// CheckoutLinker decorates the checkout base URL with attribution.
type CheckoutLinker interface {
	CheckoutURL(ctx context.Context, base string) string
}

type Options struct {
	Session string
	Clock   clock.Clock
	Logger  *zap.Logger

	Tracker  Tracker
	Answers  AnswerRecorder
	Spots    SpotsCounter
	Renderer Renderer
	Checkout CheckoutLinker

	CheckoutBase   string
	TypingInterval time.Duration
	// PopupCheckDelay is how long the client waits after opening the
	// checkout window before it checks the window and reports back.
	PopupCheckDelay time.Duration
	// ReportTimeout bounds how long an unreported checkout stays pending.
	// Silence is not a blocked window, so expiry never navigates.
	ReportTimeout time.Duration

	// Buffer is the per-subscriber queue length; a subscriber that falls
	// further behind is dropped.
	Buffer int
}

// Update is one message of a view stream. The first update of a
// subscription carries the full view; later ones carry a patch or a command.
type Update struct {
	Seq     int            `json:"seq"`
	Patch   []jsonpatch.Op `json:"patch,omitempty"`
	View    any            `json:"view,omitempty"`
	Command string         `json:"command,omitempty"`
	URL     string         `json:"url,omitempty"`
	// CheckAfter is the delay in milliseconds before the client checks an
	// opened window.
	CheckAfter int64 `json:"checkAfterMs,omitempty"`
}

type timerEntry struct {
	timer clock.Timer
	gen   int
}

type pendingCheckout struct {
	url string
}

// View runs one state machine for one visitor. All transitions are
// serialized; effects that feed events back are queued and drained before
// the view is published.
type View[S, V any] struct {
	reg     transitions.Registry[S]
	project func(S) V
	opts    Options
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    S
	queue    []model.Event
	closed   bool
	gen      int
	timers   map[string]*timerEntry
	players  map[int]*typewriter.Player
	subs     map[int]chan Update
	nextSub  int
	seq      int
	view     V
	doc      any
	checkout *pendingCheckout
}

func New[S, V any](reg transitions.Registry[S], initial S, project func(S) V, opts Options) *View[S, V] {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = typewriter.DefaultInterval
	}
	if opts.PopupCheckDelay <= 0 {
		opts.PopupCheckDelay = 100 * time.Millisecond
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &View[S, V]{
		reg:     reg,
		project: project,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("session", opts.Session)),
		ctx:     ctx,
		cancel:  cancel,
		state:   initial,
		timers:  make(map[string]*timerEntry),
		players: make(map[int]*typewriter.Player),
		subs:    make(map[int]chan Update),
	}
	v.view = project(initial)
	v.doc, _ = jsonpatch.Snapshot(v.view)
	return v
}

// Post feeds ev to the state machine and runs its effects.
func (v *View[S, V]) Post(ev model.Event) (engine.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return engine.Result{Event: ev}, ErrClosed
	}
	return v.dispatch(ev), nil
}

// Snapshot returns the current view.
func (v *View[S, V]) Snapshot() V {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.view
}

// State returns the current machine state.
func (v *View[S, V]) State() S {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Subscribe registers a stream consumer. The returned function ends the
// subscription; the channel is also closed when the view closes.
func (v *View[S, V]) Subscribe() (<-chan Update, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan Update, v.opts.Buffer)
	if v.closed {
		close(ch)
		return ch, func() {}
	}
	id := v.nextSub
	v.nextSub++
	v.subs[id] = ch
	ch <- Update{Seq: v.seq, View: v.view}

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if c, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(c)
		}
	}
}

// ReportWindow settles a pending checkout: the client reports whether the
// checkout window it opened is alive. A blocked or closed window falls back
// to navigation at once.
func (v *View[S, V]) ReportWindow(open bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.checkout == nil {
		return false
	}
	pending := v.checkout
	v.checkout = nil
	v.stopTimer(popupKey)
	if !open {
		v.broadcast(Update{Command: CommandNavigate, URL: pending.url})
	}
	return true
}

// Close stops every timer and typewriter, ends all subscriptions and waits
// for background work to return. Late callbacks are dropped.
func (v *View[S, V]) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	for key := range v.timers {
		v.stopTimer(key)
	}
	for seq, p := range v.players {
		p.Stop()
		delete(v.players, seq)
	}
	for id, ch := range v.subs {
		delete(v.subs, id)
		close(ch)
	}
	v.checkout = nil
	v.queue = nil
	v.mu.Unlock()

	v.cancel()
	v.wg.Wait()
}

// Closed reports whether the view was torn down.
func (v *View[S, V]) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *View[S, V]) dispatch(ev model.Event) engine.Result {
	res := v.apply(ev)
	for len(v.queue) > 0 && !v.closed {
		next := v.queue[0]
		v.queue = v.queue[1:]
		v.apply(next)
	}
	v.publish()
	return res
}

func (v *View[S, V]) apply(ev model.Event) engine.Result {
	res := engine.Step(v.reg, &v.state, ev)
	for _, n := range res.Notices {
		v.logger.Debug("event notice",
			zap.String("event", string(ev.Kind)),
			zap.String("level", n.Level),
			zap.String("code", n.Code),
			zap.String("message", n.Message),
		)
	}
	if !res.Applied {
		return res
	}
	if ev.Kind == model.EventTyped {
		delete(v.players, ev.Seq)
	}
	for _, eff := range res.Effects {
		v.execute(eff)
	}
	return res
}

func (v *View[S, V]) execute(eff model.Effect) {
	switch eff.Kind {
	case model.EffectSchedule:
		v.arm(eff.Key, eff.Delay, *eff.Event, false)
	case model.EffectEvery:
		v.arm(eff.Key, eff.Delay, *eff.Event, true)
	case model.EffectCancel:
		v.stopTimer(eff.Key)
	case model.EffectType:
		v.typeText(eff.Seq, eff.Text)
	case model.EffectTrack:
		v.track(*eff.Track)
	case model.EffectRecordAnswer:
		if v.opts.Answers == nil {
			return
		}
		if err := v.opts.Answers.RecordAnswer(v.ctx, *eff.Answer, eff.Category); err != nil {
			v.logger.Warn("record answer", zap.Int("question", eff.Answer.QuestionID), zap.Error(err))
		}
	case model.EffectDecrementSpots:
		if v.opts.Spots == nil {
			return
		}
		n, err := v.opts.Spots.DecrementSpots(v.ctx)
		if err != nil {
			v.logger.Warn("decrement spots", zap.Error(err))
			return
		}
		v.queue = append(v.queue, model.Event{Kind: model.EventSpots, Spots: n})
	case model.EffectMount:
		v.mount(eff.Stage)
	case model.EffectOpenCheckout:
		v.openCheckout()
	case model.EffectNavigate:
		v.broadcast(Update{Command: CommandNavigate, URL: eff.URL})
	default:
		v.logger.Warn("unknown effect", zap.String("kind", string(eff.Kind)))
	}
}

func (v *View[S, V]) arm(key string, d time.Duration, ev model.Event, repeat bool) {
	v.armFunc(key, d, func() {
		if repeat {
			v.arm(key, d, ev, true)
		} else {
			delete(v.timers, key)
		}
		v.dispatch(ev)
	})
}

// armFunc runs f under the view lock after d unless the timer is replaced,
// cancelled or the view closes first.
func (v *View[S, V]) armFunc(key string, d time.Duration, f func()) {
	v.stopTimer(key)
	v.gen++
	entry := &timerEntry{gen: v.gen}
	v.timers[key] = entry
	entry.timer = v.opts.Clock.AfterFunc(d, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.closed || v.timers[key] != entry {
			return
		}
		f()
	})
}

func (v *View[S, V]) stopTimer(key string) {
	if entry, ok := v.timers[key]; ok {
		entry.timer.Stop()
		delete(v.timers, key)
	}
}

func (v *View[S, V]) typeText(seq int, text string) {
	p := typewriter.NewPlayer(v.opts.Clock, v.opts.TypingInterval,
		func(frame string) { v.Post(model.Event{Kind: model.EventFrame, Seq: seq, Text: frame}) },
		func() { v.Post(model.Event{Kind: model.EventTyped, Seq: seq}) },
	)
	v.players[seq] = p
	p.Play(text)
}

func (v *View[S, V]) track(ev model.TrackEvent) {
	if v.opts.Tracker == nil {
		return
	}
	ev.Session = v.opts.Session
	ev.At = v.opts.Clock.Now().UTC()
	v.opts.Tracker.Track(v.ctx, ev)
}

func (v *View[S, V]) mount(stage string) {
	if v.opts.Renderer == nil {
		v.queue = append(v.queue, model.Event{Kind: model.EventMounted, Stage: stage})
		return
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		err := v.opts.Renderer.Mount(v.ctx, stage)
		if err != nil {
			v.logger.Info("mount failed", zap.String("stage", stage), zap.Error(err))
		}
		v.Post(model.Event{Kind: model.EventMounted, Stage: stage, Failed: err != nil})
	}()
}

func (v *View[S, V]) openCheckout() {
	url := v.opts.CheckoutBase
	if v.opts.Checkout != nil {
		url = v.opts.Checkout.CheckoutURL(v.ctx, v.opts.CheckoutBase)
	}
	v.checkout = &pendingCheckout{url: url}
	v.broadcast(Update{Command: CommandOpen, URL: url, CheckAfter: v.opts.PopupCheckDelay.Milliseconds()})

	// The client judges the window itself and reports a blocked one through
	// ReportWindow. Without a report the pending checkout is dropped.
	v.armFunc(popupKey, v.opts.ReportTimeout, func() {
		delete(v.timers, popupKey)
		if v.checkout != nil {
			v.logger.Debug("checkout window never reported", zap.String("url", v.checkout.url))
			v.checkout = nil
		}
	})
}

func (v *View[S, V]) publish() {
	view := v.project(v.state)
	doc, err := jsonpatch.Snapshot(view)
	if err != nil {
		v.logger.Error("snapshot view", zap.Error(err))
		return
	}
	ops := jsonpatch.Diff(v.doc, doc, "")
	v.view = view
	v.doc = doc
	if len(ops) == 0 {
		return
	}
	v.broadcast(Update{Patch: ops})
}

func (v *View[S, V]) broadcast(u Update) {
	v.seq++
	u.Seq = v.seq
	for id, ch := range v.subs {
		select {
		case ch <- u:
		default:
			v.logger.Info("dropping slow subscriber", zap.Int("subscriber", id))
			delete(v.subs, id)
			close(ch)
		}
	}
}
