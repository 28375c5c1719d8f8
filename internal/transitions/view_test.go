package transitions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-engine/internal/model"
	"funnel-engine/internal/script"
)

func TestDialogueViewOptions(t *testing.T) {
	sc := script.Default()

	s := model.NewDialogue(0, "")
	v := DialogueView(sc, s)
	assert.Empty(t, v.Options)
	assert.NotNil(t, v.Messages)
	assert.Equal(t, "ANÁLISIS: 0%", v.ProgressLabel)

	s.ShowOptions = true
	assert.Equal(t, []string{sc.StartLabel}, Options(sc, s))
	ev, ok := ChoiceEvent(sc, s, 0)
	require.True(t, ok)
	assert.Equal(t, model.EventStart, ev.Kind)

	s.Phase = model.PhaseAwaiting
	s.Index = 1
	s.Answered = 1
	s.Progress = model.ProgressAfter(1)
	v = DialogueView(sc, s)
	assert.Equal(t, sc.Questions[1].Options, v.Options)
	assert.Equal(t, 2, v.Question)
	assert.Equal(t, "ANÁLISIS: 14%", v.ProgressLabel)

	ev, ok = ChoiceEvent(sc, s, 2)
	require.True(t, ok)
	assert.Equal(t, model.Event{Kind: model.EventAnswer, Option: sc.Questions[1].Options[2]}, ev)

	_, ok = ChoiceEvent(sc, s, 99)
	assert.False(t, ok)

	s.Phase = model.PhaseCompleted
	v = DialogueView(sc, s)
	assert.True(t, v.Completed)
	assert.Equal(t, []string{sc.ViewPlanLabel}, v.Options)
}

func TestRevealView(t *testing.T) {
	s := model.NewReveal(2820, 50)
	s.Stages = []string{StageWhyLeft, StageOffer, StageStickyCTA}
	v := RevealView(s, model.ResultCopy{Title: "t"})
	assert.Equal(t, "47:00", v.CountdownText)
	assert.True(t, v.Sticky)
	assert.Equal(t, "t", v.Copy.Title)

	v.Stages[0] = "x"
	assert.Equal(t, StageWhyLeft, s.Stages[0])
}

func TestFormatCountdown(t *testing.T) {
	assert.Equal(t, "0:00", FormatCountdown(0))
	assert.Equal(t, "0:09", FormatCountdown(9))
	assert.Equal(t, "1:05", FormatCountdown(65))
	assert.Equal(t, "0:00", FormatCountdown(-3))
}
