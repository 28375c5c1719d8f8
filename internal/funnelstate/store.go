// Package funnelstate owns the persisted answers and scarcity counter of a
// visitor session. No other package touches the funnel keys.
package funnelstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"funnel-engine/internal/kv"
	"funnel-engine/internal/model"
)

const (
	stateKey = "funnel_state"
	spotsKey = "spots_left"

	DefaultSpotsCeiling = 50
	DefaultSpotsFloor   = 15
)

var (
	ErrAnswersComplete = errors.New("funnelstate: all questions already answered")
	ErrUnknownCategory = errors.New("funnelstate: unknown category")
)

type Store struct {
	kv      kv.Store
	session string
	ceiling int
	floor   int
	logger  *zap.Logger

	mu sync.Mutex
}

type Option func(*Store)

// WithSpots sets the starting ceiling and the floor of the scarcity counter.
func WithSpots(ceiling, floor int) Option {
	return func(s *Store) {
		s.ceiling = ceiling
		s.floor = floor
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func New(store kv.Store, session string, opts ...Option) *Store {
	s := &Store{
		kv:      store,
		session: session,
		ceiling: DefaultSpotsCeiling,
		floor:   DefaultSpotsFloor,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.floor > s.ceiling {
		s.floor = s.ceiling
	}
	return s
}

func (s *Store) Session() string { return s.session }

// State returns the current aggregate. Missing or corrupt data yields the
// zero state with the counter at its ceiling.
func (s *Store) State(ctx context.Context) model.FunnelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.load(ctx)
	st.SpotsLeft = s.loadSpots(ctx)
	return st
}

// AppendAnswer appends rec and flushes immediately.
func (s *Store) AppendAnswer(ctx context.Context, rec model.AnswerRecord) error {
	return s.update(ctx, func(st *model.FunnelState) error {
		return appendAnswer(st, rec)
	})
}

// SetCategory writes one scalar field and flushes immediately.
func (s *Store) SetCategory(ctx context.Context, c model.Category, value string) error {
	return s.update(ctx, func(st *model.FunnelState) error {
		if !st.Set(c, value) {
			return fmt.Errorf("%w: %q", ErrUnknownCategory, c)
		}
		return nil
	})
}

// RecordAnswer appends rec and sets its category in a single flush.
func (s *Store) RecordAnswer(ctx context.Context, rec model.AnswerRecord, c model.Category) error {
	return s.update(ctx, func(st *model.FunnelState) error {
		if !c.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownCategory, c)
		}
		if err := appendAnswer(st, rec); err != nil {
			return err
		}
		st.Set(c, rec.SelectedOption)
		return nil
	})
}

// SpotsLeft returns the scarcity counter.
func (s *Store) SpotsLeft(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSpots(ctx)
}

// DecrementSpots lowers the counter by one unless it is already at the floor.
func (s *Store) DecrementSpots(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spots := s.loadSpots(ctx)
	if spots <= s.floor {
		return spots, nil
	}
	spots--
	if err := s.kv.Set(ctx, kv.Key(s.session, spotsKey), []byte(strconv.Itoa(spots))); err != nil {
		return spots + 1, fmt.Errorf("save spots: %w", err)
	}
	return spots, nil
}

// Reset discards everything stored for the session.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range []string{stateKey, spotsKey} {
		if err := s.kv.Delete(ctx, kv.Key(s.session, name)); err != nil {
			return fmt.Errorf("reset %s: %w", name, err)
		}
	}
	return nil
}

func appendAnswer(st *model.FunnelState, rec model.AnswerRecord) error {
	if len(st.Answers) >= model.QuestionCount {
		return ErrAnswersComplete
	}
	st.Answers = append(st.Answers, rec)
	return nil
}

func (s *Store) update(ctx context.Context, mutate func(*model.FunnelState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.load(ctx)
	if err := mutate(&st); err != nil {
		return err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode funnel state: %w", err)
	}
	if err := s.kv.Set(ctx, kv.Key(s.session, stateKey), raw); err != nil {
		return fmt.Errorf("save funnel state: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) model.FunnelState {
	key := kv.Key(s.session, stateKey)
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("load funnel state", zap.String("session", s.session), zap.Error(err))
		}
		return model.FunnelState{Answers: []model.AnswerRecord{}}
	}
	var st model.FunnelState
	if err := json.Unmarshal(raw, &st); err != nil {
		s.discard(ctx, key, err)
		return model.FunnelState{Answers: []model.AnswerRecord{}}
	}
	if st.Answers == nil {
		st.Answers = []model.AnswerRecord{}
	}
	if len(st.Answers) > model.QuestionCount {
		st.Answers = st.Answers[:model.QuestionCount]
	}
	return st
}

func (s *Store) loadSpots(ctx context.Context) int {
	key := kv.Key(s.session, spotsKey)
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("load spots", zap.String("session", s.session), zap.Error(err))
		}
		return s.ceiling
	}
	spots, err := strconv.Atoi(string(raw))
	if err != nil {
		s.discard(ctx, key, err)
		return s.ceiling
	}
	if spots < s.floor {
		return s.floor
	}
	return spots
}

func (s *Store) discard(ctx context.Context, key string, cause error) {
	s.logger.Info("discarding corrupt blob", zap.String("key", key), zap.Error(cause))
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.Warn("delete corrupt blob", zap.String("key", key), zap.Error(err))
	}
}
