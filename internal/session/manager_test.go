package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"funnel-engine/internal/clock"
	"funnel-engine/internal/kv"
	"funnel-engine/internal/model"
	"funnel-engine/internal/transitions"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newManager(clk *clock.Fake) *Manager {
	opts := DefaultOptions()
	opts.Clock = clk
	return NewManager(kv.NewMemory(), opts)
}

func TestGetCreatesOnce(t *testing.T) {
	m := newManager(clock.NewFake(time.Unix(0, 0)))
	defer m.Close()

	_, err := m.Get("")
	require.ErrorIs(t, err, ErrUnknownSession)

	a, err := m.Get("abc")
	require.NoError(t, err)
	b, err := m.Get("abc")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = m.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.NotEqual(t, NewID(), NewID())
}

func TestOpeningAViewClosesThePrevious(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(0, 0))
	m := newManager(clk)
	defer m.Close()

	s, _ := m.Get("abc")
	chat := m.OpenChat(ctx, s)
	require.Same(t, chat, s.Chat())
	require.Positive(t, clk.Pending())

	result := m.OpenResult(ctx, s)
	assert.True(t, chat.Closed())
	assert.Nil(t, s.Chat())
	assert.Same(t, result, s.Result())
	assert.Equal(t, []string{transitions.StageWhyLeft}, result.Snapshot().Stages)

	// A stale stream disconnect must not close the newer view.
	m.Release(s, chat)
	assert.False(t, result.Closed())

	m.Release(s, result)
	assert.True(t, result.Closed())
	assert.Zero(t, clk.Pending())
}

func TestResultViewIsPersonalized(t *testing.T) {
	ctx := context.Background()
	m := newManager(clock.NewFake(time.Unix(0, 0)))
	defer m.Close()

	s, _ := m.Get("abc")
	require.NoError(t, s.State.RecordAnswer(ctx, model.AnswerRecord{QuestionID: 1, SelectedOption: "HOMBRE"}, model.CategoryGender))

	v := m.OpenResult(ctx, s)
	view := v.Snapshot()
	assert.Contains(t, view.Copy.WhyLeft, "conquistarla")
	assert.Equal(t, 50, view.SpotsLeft)
	assert.Equal(t, "47:00", view.CountdownText)
}

func TestChatResumes(t *testing.T) {
	ctx := context.Background()
	m := newManager(clock.NewFake(time.Unix(0, 0)))
	defer m.Close()

	s, _ := m.Get("abc")
	for i := range 2 {
		require.NoError(t, s.State.AppendAnswer(ctx, model.AnswerRecord{QuestionID: i + 1}))
	}
	v := m.OpenChat(ctx, s)
	st := v.State()
	assert.Equal(t, model.PhaseAsking, st.Phase)
	assert.Equal(t, 2, st.Index)
}

func TestResetDropsFunnelData(t *testing.T) {
	ctx := context.Background()
	m := newManager(clock.NewFake(time.Unix(0, 0)))
	defer m.Close()

	s, _ := m.Get("abc")
	require.NoError(t, s.State.AppendAnswer(ctx, model.AnswerRecord{QuestionID: 1}))
	chat := m.OpenChat(ctx, s)

	require.NoError(t, m.Reset(ctx, s))
	assert.True(t, chat.Closed())
	assert.Empty(t, s.State.State(ctx).Answers)
}

func TestSweepDropsIdleSessions(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(0, 0))
	m := newManager(clk)
	defer m.Close()

	idle, _ := m.Get("idle")
	chat := m.OpenChat(ctx, idle)

	clk.Advance(20 * time.Minute)
	busy, _ := m.Get("busy")
	m.Touch(busy)
	clk.Advance(15 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	assert.True(t, chat.Closed())
	assert.Equal(t, 1, m.Len())
	_, err := m.Lookup("busy")
	assert.NoError(t, err)
}
