// Package session tracks visitor sessions and the live view each one has
// open. A session owns at most one view at a time.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"funnel-engine/internal/attribution"
	"funnel-engine/internal/clock"
	"funnel-engine/internal/funnelstate"
	"funnel-engine/internal/kv"
	"funnel-engine/internal/model"
	"funnel-engine/internal/runtime"
	"funnel-engine/internal/script"
	"funnel-engine/internal/transitions"
)

var ErrUnknownSession = errors.New("session: unknown session")

type (
	ChatView   = runtime.View[model.Dialogue, model.DialogueView]
	ResultView = runtime.View[model.Reveal, model.RevealView]
)

type Options struct {
	Clock    clock.Clock
	Logger   *zap.Logger
	Tracker  runtime.Tracker
	Renderer runtime.Renderer
	Script   *script.Script

	CheckoutURL     string
	TypingInterval  time.Duration
	PopupCheckDelay time.Duration
	ReportTimeout   time.Duration
	Dialogue        transitions.DialogueTimings
	Reveal          transitions.RevealConfig
	Countdown       int
	SpotsCeiling    int
	SpotsFloor      int
	IdleTimeout     time.Duration
}

// DefaultOptions mirrors the observed funnel pacing.
func DefaultOptions() Options {
	return Options{
		Clock:           clock.Real{},
		Logger:          zap.NewNop(),
		Script:          script.Default(),
		CheckoutURL:     "https://pay.hotmart.com/checkout",
		Dialogue:        transitions.DefaultDialogueTimings,
		Reveal:          transitions.DefaultRevealConfig,
		Countdown:       2820,
		SpotsCeiling:    funnelstate.DefaultSpotsCeiling,
		SpotsFloor:      funnelstate.DefaultSpotsFloor,
		IdleTimeout:     30 * time.Minute,
		PopupCheckDelay: 100 * time.Millisecond,
		ReportTimeout:   30 * time.Second,
	}
}

// Session is one visitor: their persisted funnel data, attribution and the
// view currently open.
type Session struct {
	ID          string
	State       *funnelstate.Store
	Attribution *attribution.Capture

	mu       sync.Mutex
	chat     *ChatView
	result   *ResultView
	lastSeen time.Time
}

// Chat returns the open dialogue view, if any.
func (s *Session) Chat() *ChatView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat
}

// Result returns the open reveal view, if any.
func (s *Session) Result() *ResultView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// closeViews tears down whatever view is open. Callers hold s.mu.
func (s *Session) closeViews() {
	if s.chat != nil {
		s.chat.Close()
		s.chat = nil
	}
	if s.result != nil {
		s.result.Close()
		s.result = nil
	}
}

type Manager struct {
	kv   kv.Store
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(store kv.Store, opts Options) *Manager {
	def := DefaultOptions()
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	if opts.Script == nil {
		opts.Script = def.Script
	}
	if opts.Reveal.Stages == nil {
		opts.Reveal = def.Reveal
	}
	if opts.Dialogue == (transitions.DialogueTimings{}) {
		opts.Dialogue = def.Dialogue
	}
	if opts.SpotsCeiling == 0 {
		opts.SpotsCeiling, opts.SpotsFloor = def.SpotsCeiling, def.SpotsFloor
	}
	if opts.Countdown <= 0 {
		opts.Countdown = def.Countdown
	}
	if opts.CheckoutURL == "" {
		opts.CheckoutURL = def.CheckoutURL
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	opts.Reveal.SpotsFloor = opts.SpotsFloor
	return &Manager{kv: store, opts: opts, sessions: make(map[string]*Session)}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.New().String()
}

// Get returns the session for id, creating it on first use.
func (m *Manager) Get(id string) (*Session, error) {
	if id == "" {
		return nil, ErrUnknownSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		logger := m.opts.Logger.With(zap.String("session", id))
		s = &Session{
			ID: id,
			State: funnelstate.New(m.kv, id,
				funnelstate.WithSpots(m.opts.SpotsCeiling, m.opts.SpotsFloor),
				funnelstate.WithLogger(logger),
			),
			Attribution: attribution.New(m.kv, id, m.opts.Clock, logger),
		}
		m.sessions[id] = s
	}
	s.mu.Lock()
	s.lastSeen = m.opts.Clock.Now()
	s.mu.Unlock()
	return s, nil
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

func (m *Manager) viewOptions(s *Session) runtime.Options {
	return runtime.Options{
		Session:         s.ID,
		Clock:           m.opts.Clock,
		Logger:          m.opts.Logger,
		Tracker:         m.opts.Tracker,
		Answers:         s.State,
		Spots:           s.State,
		Renderer:        m.opts.Renderer,
		Checkout:        s.Attribution,
		CheckoutBase:    m.opts.CheckoutURL,
		TypingInterval:  m.opts.TypingInterval,
		PopupCheckDelay: m.opts.PopupCheckDelay,
		ReportTimeout:   m.opts.ReportTimeout,
	}
}

// OpenChat replaces the session's view with a dialogue resumed from the
// persisted answers.
func (m *Manager) OpenChat(ctx context.Context, s *Session) *ChatView {
	st := s.State.State(ctx)
	sc := m.opts.Script

	v := runtime.New(
		transitions.NewDialogueRegistry(sc, m.opts.Dialogue),
		model.NewDialogue(len(st.Answers), st.Gender),
		func(d model.Dialogue) model.DialogueView { return transitions.DialogueView(sc, d) },
		m.viewOptions(s),
	)

	s.mu.Lock()
	s.closeViews()
	s.chat = v
	s.lastSeen = m.opts.Clock.Now()
	s.mu.Unlock()

	v.Post(model.Event{Kind: model.EventOpen})
	return v
}

// OpenResult replaces the session's view with the timed reveal page.
func (m *Manager) OpenResult(ctx context.Context, s *Session) *ResultView {
	st := s.State.State(ctx)
	text := m.opts.Script.ResultCopy(st)

	v := runtime.New(
		transitions.NewRevealRegistry(m.opts.Reveal),
		model.NewReveal(m.opts.Countdown, st.SpotsLeft),
		func(r model.Reveal) model.RevealView { return transitions.RevealView(r, text) },
		m.viewOptions(s),
	)

	s.mu.Lock()
	s.closeViews()
	s.result = v
	s.lastSeen = m.opts.Clock.Now()
	s.mu.Unlock()

	v.Post(model.Event{Kind: model.EventLoad})
	return v
}

// Release closes v if it is still the session's open view.
func (m *Manager) Release(s *Session, v interface{ Close() }) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.chat != nil && any(s.chat) == v:
		s.chat.Close()
		s.chat = nil
	case s.result != nil && any(s.result) == v:
		s.result.Close()
		s.result = nil
	}
}

// Reset closes the open view and discards the session's funnel data.
func (m *Manager) Reset(ctx context.Context, s *Session) error {
	s.mu.Lock()
	s.closeViews()
	s.mu.Unlock()
	return s.State.Reset(ctx)
}

// Sweep drops sessions idle for longer than the idle timeout and returns
// how many were removed.
func (m *Manager) Sweep() int {
	cutoff := m.opts.Clock.Now().Add(-m.opts.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		s.mu.Lock()
		if s.lastSeen.Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.mu.Lock()
		s.closeViews()
		s.mu.Unlock()
	}
	if len(idle) > 0 {
		m.opts.Logger.Debug("swept idle sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Clock returns the clock sessions and their views run on.
func (m *Manager) Clock() clock.Clock {
	return m.opts.Clock
}

// Touch marks the session as active.
func (m *Manager) Touch(s *Session) {
	s.mu.Lock()
	s.lastSeen = m.opts.Clock.Now()
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down every session's view.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.closeViews()
		s.mu.Unlock()
	}
}
