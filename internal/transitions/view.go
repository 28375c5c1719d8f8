package transitions

import (
	"fmt"
	"math"
	"slices"

	"funnel-engine/internal/model"
	"funnel-engine/internal/script"
)

// DialogueView projects the dialogue state onto what a host renders.
func DialogueView(sc *script.Script, s model.Dialogue) model.DialogueView {
	v := model.DialogueView{
		Phase:         s.Phase,
		Progress:      s.Progress,
		ProgressLabel: fmt.Sprintf("ANÁLISIS: %d%%", int(math.Round(s.Progress))),
		Processing:    s.Processing,
		Messages:      slices.Clone(s.Messages),
		Options:       Options(sc, s),
		Completed:     s.Phase == model.PhaseCompleted,
	}
	if v.Messages == nil {
		v.Messages = []model.Message{}
	}
	if s.Phase != model.PhaseNotStarted {
		v.Question = s.Index + 1
	}
	return v
}

// Options returns the choices currently offered to the visitor.
func Options(sc *script.Script, s model.Dialogue) []string {
	if !s.ShowOptions {
		return []string{}
	}
	switch s.Phase {
	case model.PhaseNotStarted:
		return []string{sc.StartLabel}
	case model.PhaseAwaiting:
		q, _ := sc.Question(s.Index)
		return slices.Clone(q.Options)
	case model.PhaseCompleted:
		return []string{sc.ViewPlanLabel}
	}
	return []string{}
}

// ChoiceEvent maps the i-th offered option to the event it triggers.
func ChoiceEvent(sc *script.Script, s model.Dialogue, i int) (model.Event, bool) {
	opts := Options(sc, s)
	if i < 0 || i >= len(opts) {
		return model.Event{}, false
	}
	switch s.Phase {
	case model.PhaseNotStarted:
		return model.Event{Kind: model.EventStart}, true
	case model.PhaseAwaiting:
		return model.Event{Kind: model.EventAnswer, Option: opts[i]}, true
	case model.PhaseCompleted:
		return model.Event{Kind: model.EventViewPlan}, true
	}
	return model.Event{}, false
}

// RevealView projects the sequencer state with the personalized copy.
func RevealView(s model.Reveal, text model.ResultCopy) model.RevealView {
	stages := slices.Clone(s.Stages)
	if stages == nil {
		stages = []string{}
	}
	return model.RevealView{
		Stages:        stages,
		Countdown:     s.Countdown,
		CountdownText: FormatCountdown(s.Countdown),
		Expired:       s.Expired,
		SpotsLeft:     s.SpotsLeft,
		Video:         s.Video,
		Sticky:        s.Active(StageStickyCTA),
		Copy:          text,
	}
}

// FormatCountdown renders seconds as m:ss.
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
