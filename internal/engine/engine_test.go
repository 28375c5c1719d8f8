package engine

import (
	"testing"

	"funnel-engine/internal/model"
	"funnel-engine/internal/script"
	"funnel-engine/internal/transitions"
)

// host plays the effects of a dialogue without a clock: typing finishes at
// once and scheduled events fire in order.
type host struct {
	reg      transitions.Registry[model.Dialogue]
	state    model.Dialogue
	queue    []model.Event
	answers  []model.AnswerRecord
	tracked  []string
	navigate string
	rejected int
}

func newHost(answered int) *host {
	return &host{
		reg:   transitions.NewDialogueRegistry(script.Default(), transitions.DefaultDialogueTimings),
		state: model.NewDialogue(answered, ""),
	}
}

func (h *host) send(ev model.Event) Result {
	res := Step(h.reg, &h.state, ev)
	if !res.Applied {
		h.rejected++
	}
	for _, eff := range res.Effects {
		switch eff.Kind {
		case model.EffectType:
			h.queue = append(h.queue, model.Event{Kind: model.EventTyped, Seq: eff.Seq})
		case model.EffectSchedule:
			h.queue = append(h.queue, *eff.Event)
		case model.EffectRecordAnswer:
			h.answers = append(h.answers, *eff.Answer)
		case model.EffectTrack:
			h.tracked = append(h.tracked, eff.Track.Name)
		case model.EffectNavigate:
			h.navigate = eff.URL
		}
	}
	return res
}

func (h *host) settle() {
	for len(h.queue) > 0 {
		ev := h.queue[0]
		h.queue = h.queue[1:]
		h.send(ev)
	}
}

func TestDialogueFullRun(t *testing.T) {
	sc := script.Default()
	h := newHost(0)
	h.send(model.Event{Kind: model.EventOpen})
	h.settle()

	if h.state.Phase != model.PhaseNotStarted || !h.state.ShowOptions {
		t.Fatalf("expected start control after greeting, got phase %s options %v", h.state.Phase, h.state.ShowOptions)
	}

	h.send(model.Event{Kind: model.EventStart})
	h.settle()

	for i, q := range sc.Questions {
		if h.state.Phase != model.PhaseAwaiting || h.state.Index != i {
			t.Fatalf("question %d: expected awaiting, got %s at %d", i, h.state.Phase, h.state.Index)
		}
		res := h.send(model.Event{Kind: model.EventAnswer, Option: q.Options[len(q.Options)-1]})
		if !res.Applied {
			t.Fatalf("question %d: answer rejected: %+v", i, res.Notices)
		}
		want := float64(i+1) / 7 * 100
		if h.state.Progress != want {
			t.Fatalf("question %d: expected progress %v, got %v", i, want, h.state.Progress)
		}
		h.settle()
	}

	if h.state.Phase != model.PhaseCompleted {
		t.Fatalf("expected completed, got %s", h.state.Phase)
	}
	if h.state.Progress != 100 {
		t.Fatalf("expected progress 100, got %v", h.state.Progress)
	}
	if len(h.answers) != model.QuestionCount {
		t.Fatalf("expected 7 answers, got %d", len(h.answers))
	}
	for i, a := range h.answers {
		if a.QuestionID != i+1 {
			t.Fatalf("answer %d has question id %d", i, a.QuestionID)
		}
	}
	last, _ := h.state.Last()
	if last.Text != sc.Closing || last.Typing {
		t.Fatalf("expected closing message fully typed, got %q typing=%v", last.Text, last.Typing)
	}
	if h.rejected != 0 {
		t.Fatalf("expected no rejected events, got %d", h.rejected)
	}

	h.send(model.Event{Kind: model.EventViewPlan})
	if h.navigate != transitions.ResultPath {
		t.Fatalf("expected navigation to %s, got %q", transitions.ResultPath, h.navigate)
	}

	completed := 0
	for _, name := range h.tracked {
		if name == model.TrackFunnelCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected one funnel_completed, got %d", completed)
	}
}

func TestGenderSpecificAcknowledgement(t *testing.T) {
	sc := script.Default()
	h := newHost(0)
	h.send(model.Event{Kind: model.EventOpen})
	h.settle()
	h.send(model.Event{Kind: model.EventStart})
	h.settle()
	h.send(model.Event{Kind: model.EventAnswer, Option: "MUJER"})
	h.settle()

	var ack string
	for _, m := range h.state.Messages {
		if m.Text == sc.Questions[0].AckByGender["MUJER"] {
			ack = m.Text
		}
	}
	if ack == "" {
		t.Fatal("expected the MUJER acknowledgement")
	}
	if h.state.Gender != "MUJER" {
		t.Fatalf("expected gender MUJER, got %q", h.state.Gender)
	}
}

func TestAnswerOutsideAwaitingIsNoop(t *testing.T) {
	h := newHost(0)
	h.send(model.Event{Kind: model.EventOpen})

	// Greeting is still typing: nothing can be answered.
	before := h.state.Clone()
	res := h.send(model.Event{Kind: model.EventAnswer, Option: "HOMBRE"})
	if res.Applied || len(res.Effects) != 0 {
		t.Fatal("expected answer to be rejected before start")
	}
	if len(h.state.Messages) != len(before.Messages) || h.state.Answered != before.Answered {
		t.Fatal("expected state to be unchanged")
	}

	h.settle()
	h.send(model.Event{Kind: model.EventStart})
	h.settle()
	h.send(model.Event{Kind: model.EventAnswer, Option: "HOMBRE"})

	// Double click while acknowledging.
	res = h.send(model.Event{Kind: model.EventAnswer, Option: "HOMBRE"})
	if res.Applied {
		t.Fatal("expected duplicate answer to be rejected")
	}
	if len(h.answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(h.answers))
	}
	if res.Notices[0].Code != "NOT_AWAITING" {
		t.Fatalf("expected NOT_AWAITING, got %s", res.Notices[0].Code)
	}
}

func TestInvalidOptionRejected(t *testing.T) {
	h := newHost(0)
	h.send(model.Event{Kind: model.EventOpen})
	h.settle()
	h.send(model.Event{Kind: model.EventStart})
	h.settle()

	res := h.send(model.Event{Kind: model.EventAnswer, Option: "OTRO"})
	if res.Applied {
		t.Fatal("expected unknown option to be rejected")
	}
	if h.state.Phase != model.PhaseAwaiting {
		t.Fatalf("expected awaiting, got %s", h.state.Phase)
	}
}

func TestResumeFromPersistedAnswers(t *testing.T) {
	h := newHost(3)
	h.send(model.Event{Kind: model.EventOpen})
	h.settle()
	if h.state.Phase != model.PhaseAwaiting || h.state.Index != 3 {
		t.Fatalf("expected awaiting question 4, got %s at %d", h.state.Phase, h.state.Index)
	}

	done := newHost(model.QuestionCount)
	done.send(model.Event{Kind: model.EventOpen})
	done.settle()
	if done.state.Phase != model.PhaseCompleted || !done.state.ShowOptions {
		t.Fatalf("expected completed with plan button, got %s", done.state.Phase)
	}
	for _, name := range done.tracked {
		if name == model.TrackFunnelStarted {
			t.Fatal("resumed funnel must not report funnel_started")
		}
	}
}

func TestStaleScheduledEventsRejected(t *testing.T) {
	h := newHost(0)
	h.send(model.Event{Kind: model.EventOpen})
	h.settle()
	h.send(model.Event{Kind: model.EventStart})
	h.settle()

	for _, ev := range []model.Event{
		{Kind: model.EventAcknowledge, Index: 0},
		{Kind: model.EventAdvance, Index: 0},
		{Kind: model.EventTyped, Seq: 1},
		{Kind: model.EventOptionsReady, Seq: 1},
		{Kind: model.EventViewPlan},
		{Kind: "bogus"},
	} {
		if res := h.send(ev); res.Applied {
			t.Fatalf("expected %s to be rejected", ev.Kind)
		}
	}
}

func TestTransitionIsPure(t *testing.T) {
	reg := transitions.NewDialogueRegistry(script.Default(), transitions.DefaultDialogueTimings)
	initial := model.NewDialogue(0, "")

	next, res := Transition(reg, initial, model.Event{Kind: model.EventOpen})
	if !res.Applied {
		t.Fatal("expected open to apply")
	}
	if len(initial.Messages) != 0 {
		t.Fatal("expected initial state to stay empty")
	}
	if len(next.Messages) != 1 {
		t.Fatalf("expected greeting, got %d messages", len(next.Messages))
	}
}

func TestProcessReplay(t *testing.T) {
	reg := transitions.NewRevealRegistry(transitions.DefaultRevealConfig)
	events := []model.Event{{Kind: model.EventLoad}}
	for range 2820 {
		events = append(events, model.Event{Kind: model.EventTick})
	}
	events = append(events, model.Event{Kind: model.EventTick}, model.Event{Kind: model.EventTick})

	out := Process(reg, model.NewReveal(2820, 50), events)

	if out.End.Countdown != 0 || !out.End.Expired {
		t.Fatalf("expected countdown 0 and expired, got %d %v", out.End.Countdown, out.End.Expired)
	}
	if out.Applied != 2821 || out.Rejected != 2 {
		t.Fatalf("expected 2821 applied and 2 rejected, got %d and %d", out.Applied, out.Rejected)
	}
	expired := 0
	for _, eff := range out.Effects() {
		if eff.Kind == model.EffectTrack && eff.Track.Name == model.TrackCountdownExpired {
			expired++
		}
	}
	if expired != 1 {
		t.Fatalf("expected exactly one countdown_expired, got %d", expired)
	}
	if !out.Results[2820].Applied || out.Results[2821].Applied {
		t.Fatal("expected the 2820th tick to apply and the next to be rejected")
	}
	if out.Initial.Loaded {
		t.Fatal("expected initial state to be preserved")
	}
	if out.ID == "" {
		t.Fatal("expected a replay id")
	}
}

func TestProcessRehearsal(t *testing.T) {
	sc := script.Default()
	reg := transitions.NewDialogueRegistry(sc, transitions.DefaultDialogueTimings)

	var answers []string
	for _, q := range sc.Questions {
		answers = append(answers, q.Options[0])
	}
	out := Process(reg, model.NewDialogue(0, ""), transitions.RehearsalEvents(answers))

	if out.Rejected != 0 {
		for _, r := range out.Results {
			if !r.Applied {
				t.Fatalf("expected every event to apply, %s rejected: %+v", r.Event.Kind, r.Notices)
			}
		}
	}
	if out.End.Phase != model.PhaseCompleted {
		t.Fatalf("expected completed, got %s", out.End.Phase)
	}
	recorded, navigated := 0, ""
	for _, eff := range out.Effects() {
		switch eff.Kind {
		case model.EffectRecordAnswer:
			recorded++
		case model.EffectNavigate:
			navigated = eff.URL
		}
	}
	if recorded != model.QuestionCount {
		t.Fatalf("expected %d recorded answers, got %d", model.QuestionCount, recorded)
	}
	if navigated != transitions.ResultPath {
		t.Fatalf("expected navigation to %s, got %q", transitions.ResultPath, navigated)
	}
}

func TestProcessRehearsalStopsAtInvalidAnswer(t *testing.T) {
	reg := transitions.NewDialogueRegistry(script.Default(), transitions.DefaultDialogueTimings)
	out := Process(reg, model.NewDialogue(0, ""), transitions.RehearsalEvents([]string{"HOMBRE", "nunca"}))

	if out.End.Answered != 1 {
		t.Fatalf("expected one accepted answer, got %d", out.End.Answered)
	}
	if out.Rejected == 0 {
		t.Fatal("expected the invalid answer and its follow-ups to be rejected")
	}
}
