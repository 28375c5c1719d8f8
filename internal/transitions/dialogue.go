package transitions

import (
	"fmt"
	"strconv"
	"time"

	"funnel-engine/internal/model"
	"funnel-engine/internal/script"
)

// DialogueTimings are the pauses of the scripted chat.
type DialogueTimings struct {
	OptionsDelay time.Duration
	Processing   time.Duration
	NextQuestion time.Duration
	Closing      time.Duration
}

var DefaultDialogueTimings = DialogueTimings{
	OptionsDelay: 300 * time.Millisecond,
	Processing:   1500 * time.Millisecond,
	NextQuestion: 800 * time.Millisecond,
	Closing:      1000 * time.Millisecond,
}

// Timer keys used by the dialogue.
const (
	KeyOptions     = "options"
	KeyAcknowledge = "acknowledge"
	KeyAdvance     = "advance"
)

// ResultPath is where the completed dialogue sends the visitor.
const ResultPath = "/resultado"

// PositionChatComplete tags the dialogue's final call to action.
const PositionChatComplete = "chat_complete"

type dialogue struct {
	script  *script.Script
	timings DialogueTimings
}

// NewDialogueRegistry builds the handlers of the scripted chat.
func NewDialogueRegistry(sc *script.Script, timings DialogueTimings) Registry[model.Dialogue] {
	d := &dialogue{script: sc, timings: timings}
	return Registry[model.Dialogue]{
		model.EventOpen:         handlerFuncs[model.Dialogue]{d.validateOpen, d.applyOpen},
		model.EventStart:        handlerFuncs[model.Dialogue]{d.validateStart, d.applyStart},
		model.EventFrame:        handlerFuncs[model.Dialogue]{validateTyping, applyFrame},
		model.EventTyped:        handlerFuncs[model.Dialogue]{validateTyping, d.applyTyped},
		model.EventOptionsReady: handlerFuncs[model.Dialogue]{validateOptionsReady, applyOptionsReady},
		model.EventAnswer:       handlerFuncs[model.Dialogue]{d.validateAnswer, d.applyAnswer},
		model.EventAcknowledge:  handlerFuncs[model.Dialogue]{validateAcknowledge, d.applyAcknowledge},
		model.EventAdvance:      handlerFuncs[model.Dialogue]{validateAdvance, d.applyAdvance},
		model.EventViewPlan:     handlerFuncs[model.Dialogue]{validateViewPlan, applyViewPlan},
	}
}

func (d *dialogue) validateOpen(s *model.Dialogue, ev *model.Event) []model.Notice {
	if s.Phase != model.PhaseNotStarted || len(s.Messages) > 0 {
		return model.Reject("ALREADY_OPEN", "Dialogue was already opened")
	}
	return nil
}

func (d *dialogue) applyOpen(s *model.Dialogue, ev *model.Event) []model.Effect {
	effects := []model.Effect{model.Track(model.TrackPageView, map[string]string{"page": "chat"})}
	switch {
	case s.Answered == 0:
		effects = append(effects, model.Track(model.TrackFunnelStarted, nil))
		seq := s.Say(d.script.Greeting)
		effects = append(effects, model.Type(seq, d.script.Greeting))
	case s.Answered >= model.QuestionCount:
		s.Phase = model.PhaseCompleted
		s.Index = model.QuestionCount - 1
		seq := s.Say(d.script.Closing)
		effects = append(effects, model.Type(seq, d.script.Closing))
	default:
		effects = append(effects, d.ask(s, s.Answered)...)
	}
	return effects
}

func (d *dialogue) validateStart(s *model.Dialogue, ev *model.Event) []model.Notice {
	if s.Phase != model.PhaseNotStarted {
		return model.Reject("ALREADY_STARTED", "Dialogue already started")
	}
	if !s.ShowOptions {
		return model.Reject("START_NOT_OFFERED", "Start control is not shown yet")
	}
	return nil
}

func (d *dialogue) applyStart(s *model.Dialogue, ev *model.Event) []model.Effect {
	s.ShowOptions = false
	return d.ask(s, s.Answered)
}

func (d *dialogue) ask(s *model.Dialogue, i int) []model.Effect {
	q, _ := d.script.Question(i)
	s.Phase = model.PhaseAsking
	s.Index = i
	s.ShowOptions = false
	seq := s.Say(q.Prompt)
	return []model.Effect{
		model.Track(model.TrackQuestionShown, map[string]string{"questionId": strconv.Itoa(q.ID)}),
		model.Type(seq, q.Prompt),
	}
}

func validateTyping(s *model.Dialogue, ev *model.Event) []model.Notice {
	last, ok := s.Last()
	if !ok || last.Seq != ev.Seq || !last.Typing {
		return model.Reject("STALE_TYPING", fmt.Sprintf("Message %d is not being typed", ev.Seq))
	}
	return nil
}

func applyFrame(s *model.Dialogue, ev *model.Event) []model.Effect {
	last, _ := s.Last()
	last.Shown = ev.Text
	return nil
}

func (d *dialogue) applyTyped(s *model.Dialogue, ev *model.Event) []model.Effect {
	last, _ := s.Last()
	last.Shown = last.Text
	last.Typing = false

	switch s.Phase {
	case model.PhaseAcknowledging:
		if s.Index < model.QuestionCount-1 {
			return []model.Effect{model.Schedule(KeyAdvance, d.timings.NextQuestion, model.Event{Kind: model.EventAdvance, Index: s.Index})}
		}
		return []model.Effect{
			model.Track(model.TrackFunnelCompleted, nil),
			model.Schedule(KeyAdvance, d.timings.Closing, model.Event{Kind: model.EventAdvance, Index: s.Index}),
		}
	default:
		return []model.Effect{model.Schedule(KeyOptions, d.timings.OptionsDelay, model.Event{Kind: model.EventOptionsReady, Seq: last.Seq})}
	}
}

func validateOptionsReady(s *model.Dialogue, ev *model.Event) []model.Notice {
	last, ok := s.Last()
	if !ok || last.Seq != ev.Seq || last.Typing {
		return model.Reject("STALE_OPTIONS", "Options belong to an outdated message")
	}
	if s.ShowOptions {
		return model.Reject("OPTIONS_SHOWN", "Options are already shown")
	}
	switch s.Phase {
	case model.PhaseNotStarted, model.PhaseAsking, model.PhaseCompleted:
		return nil
	}
	return model.Reject("NO_OPTIONS", fmt.Sprintf("No options in phase %s", s.Phase))
}

func applyOptionsReady(s *model.Dialogue, ev *model.Event) []model.Effect {
	s.ShowOptions = true
	if s.Phase == model.PhaseAsking {
		s.Phase = model.PhaseAwaiting
	}
	return nil
}

func (d *dialogue) validateAnswer(s *model.Dialogue, ev *model.Event) []model.Notice {
	if s.Phase != model.PhaseAwaiting {
		return model.Reject("NOT_AWAITING", fmt.Sprintf("Answer rejected in phase %s", s.Phase))
	}
	q, ok := d.script.Question(s.Index)
	if !ok || !q.HasOption(ev.Option) {
		return model.Reject("INVALID_OPTION", fmt.Sprintf("%q is not an option of question %d", ev.Option, s.Index+1))
	}
	return nil
}

func (d *dialogue) applyAnswer(s *model.Dialogue, ev *model.Event) []model.Effect {
	q, _ := d.script.Question(s.Index)

	s.Reply(ev.Option)
	s.ShowOptions = false
	s.Processing = true
	s.Phase = model.PhaseAcknowledging
	s.Answered = s.Index + 1
	s.Progress = model.ProgressAfter(s.Answered)
	if q.Category == model.CategoryGender {
		s.Gender = ev.Option
	}

	rec := model.AnswerRecord{QuestionID: q.ID, QuestionText: q.Prompt, SelectedOption: ev.Option}
	return []model.Effect{
		model.RecordAnswer(rec, q.Category),
		model.Track(model.TrackQuestionAnswered, map[string]string{"questionId": strconv.Itoa(q.ID), "option": ev.Option}),
		model.Schedule(KeyAcknowledge, d.timings.Processing, model.Event{Kind: model.EventAcknowledge, Index: s.Index}),
	}
}

func validateAcknowledge(s *model.Dialogue, ev *model.Event) []model.Notice {
	if s.Phase != model.PhaseAcknowledging || !s.Processing || ev.Index != s.Index {
		return model.Reject("STALE_ACKNOWLEDGE", "No answer is being processed")
	}
	return nil
}

func (d *dialogue) applyAcknowledge(s *model.Dialogue, ev *model.Event) []model.Effect {
	q, _ := d.script.Question(s.Index)
	s.Processing = false
	text := q.Acknowledgement(s.Gender)
	seq := s.Say(text)
	return []model.Effect{model.Type(seq, text)}
}

func validateAdvance(s *model.Dialogue, ev *model.Event) []model.Notice {
	if s.Phase != model.PhaseAcknowledging || s.Processing || ev.Index != s.Index {
		return model.Reject("STALE_ADVANCE", "Nothing to advance")
	}
	if last, ok := s.Last(); ok && last.Typing {
		return model.Reject("STILL_TYPING", "Acknowledgement is still being typed")
	}
	return nil
}

func (d *dialogue) applyAdvance(s *model.Dialogue, ev *model.Event) []model.Effect {
	if s.Index < model.QuestionCount-1 {
		return d.ask(s, s.Index+1)
	}
	s.Phase = model.PhaseCompleted
	seq := s.Say(d.script.Closing)
	return []model.Effect{model.Type(seq, d.script.Closing)}
}

func validateViewPlan(s *model.Dialogue, ev *model.Event) []model.Notice {
	if s.Phase != model.PhaseCompleted || !s.ShowOptions {
		return model.Reject("PLAN_NOT_READY", "The plan is not unlocked yet")
	}
	return nil
}

func applyViewPlan(s *model.Dialogue, ev *model.Event) []model.Effect {
	return []model.Effect{
		model.Track(model.TrackCTAClicked, map[string]string{"position": PositionChatComplete}),
		model.Navigate(ResultPath),
	}
}

// RehearsalEvents is the event sequence of a visitor who reads every message
// to the end and picks answers in order, with the scheduled events inlined.
// Message sequence numbers follow Say and Reply: greeting 1, then three per
// question (prompt, reply, acknowledgement), then the closing.
func RehearsalEvents(answers []string) []model.Event {
	events := []model.Event{
		{Kind: model.EventOpen},
		{Kind: model.EventTyped, Seq: 1},
		{Kind: model.EventOptionsReady, Seq: 1},
		{Kind: model.EventStart},
	}
	for i, option := range answers {
		prompt, ack := 2+3*i, 4+3*i
		events = append(events,
			model.Event{Kind: model.EventTyped, Seq: prompt},
			model.Event{Kind: model.EventOptionsReady, Seq: prompt},
			model.Event{Kind: model.EventAnswer, Option: option},
			model.Event{Kind: model.EventAcknowledge, Index: i},
			model.Event{Kind: model.EventTyped, Seq: ack},
			model.Event{Kind: model.EventAdvance, Index: i},
		)
	}
	if len(answers) == model.QuestionCount {
		closing := 2 + 3*model.QuestionCount
		events = append(events,
			model.Event{Kind: model.EventTyped, Seq: closing},
			model.Event{Kind: model.EventOptionsReady, Seq: closing},
			model.Event{Kind: model.EventViewPlan},
		)
	}
	return events
}
