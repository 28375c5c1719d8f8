package transitions

import "funnel-engine/internal/model"

// Handler defines the contract for every event kind of a state machine.
// Validate guards the transition; any rejection notice turns the event into a
// no-op. Apply mutates the state and returns the effects the host executes.
type Handler[S any] interface {
	Validate(state *S, ev *model.Event) []model.Notice
	Apply(state *S, ev *model.Event) []model.Effect
}

// Registry maps event kinds to their handlers.
type Registry[S any] map[model.EventKind]Handler[S]

func (r Registry[S]) Get(kind model.EventKind) (Handler[S], bool) {
	h, ok := r[kind]
	return h, ok
}

// handlerFuncs adapts a pair of functions to Handler.
type handlerFuncs[S any] struct {
	validate func(*S, *model.Event) []model.Notice
	apply    func(*S, *model.Event) []model.Effect
}

func (h handlerFuncs[S]) Validate(state *S, ev *model.Event) []model.Notice {
	if h.validate == nil {
		return nil
	}
	return h.validate(state, ev)
}

func (h handlerFuncs[S]) Apply(state *S, ev *model.Event) []model.Effect {
	return h.apply(state, ev)
}
