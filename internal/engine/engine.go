package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"funnel-engine/internal/model"
	"funnel-engine/internal/transitions"
)

// Result is the outcome of feeding one event to a state machine.
type Result struct {
	Event   model.Event
	Applied bool
	Notices []model.Notice
	Effects []model.Effect
}

// Step validates ev against state and, if no rejection notice was raised,
// applies it in place. A rejected event leaves state untouched.
func Step[S any](reg transitions.Registry[S], state *S, ev model.Event) Result {
	res := Result{Event: ev}

	handler, ok := reg.Get(ev.Kind)
	if !ok {
		res.Notices = model.Reject("UNKNOWN_EVENT", fmt.Sprintf("Unknown event: %s", ev.Kind))
		return res
	}

	res.Notices = handler.Validate(state, &ev)
	if model.Rejected(res.Notices) {
		return res
	}

	res.Effects = handler.Apply(state, &ev)
	res.Applied = true
	return res
}

// Cloner is a state that can be deep-copied.
type Cloner[S any] interface {
	Clone() S
}

// Transition is the pure form of Step: state is never mutated, the next
// state is returned instead.
func Transition[S Cloner[S]](reg transitions.Registry[S], state S, ev model.Event) (S, Result) {
	next := state.Clone()
	res := Step(reg, &next, ev)
	if !res.Applied {
		return state, res
	}
	return next, res
}

// Outcome summarizes a replay of an event sequence.
type Outcome[S any] struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Applied     int
	Rejected    int
	Results     []Result
	Initial     S
	End         S
}

// Process replays events in order from initial. Rejected events are recorded
// and skipped; replay never stops early.
func Process[S Cloner[S]](reg transitions.Registry[S], initial S, events []model.Event) *Outcome[S] {
	start := time.Now()

	out := &Outcome[S]{
		ID:        uuid.New().String(),
		StartedAt: start.UTC(),
		Initial:   initial.Clone(),
		Results:   make([]Result, 0, len(events)),
	}

	state := initial.Clone()
	for _, ev := range events {
		var res Result
		state, res = Transition(reg, state, ev)
		if res.Applied {
			out.Applied++
		} else {
			out.Rejected++
		}
		out.Results = append(out.Results, res)
	}

	out.End = state
	out.Duration = time.Since(start)
	out.CompletedAt = out.StartedAt.Add(out.Duration)
	return out
}

// Effects collects every effect of the applied results.
func (o *Outcome[S]) Effects() []model.Effect {
	var all []model.Effect
	for _, r := range o.Results {
		all = append(all, r.Effects...)
	}
	return all
}
