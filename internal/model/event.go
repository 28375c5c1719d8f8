package model

// EventKind selects the transition handler for an event.
type EventKind string

// Dialogue events.
const (
	EventOpen         EventKind = "open"
	EventStart        EventKind = "start"
	EventFrame        EventKind = "frame"
	EventTyped        EventKind = "typed"
	EventOptionsReady EventKind = "options_ready"
	EventAnswer       EventKind = "answer"
	EventAcknowledge  EventKind = "acknowledge"
	EventAdvance      EventKind = "advance"
	EventViewPlan     EventKind = "view_plan"
)

// Reveal events.
const (
	EventLoad      EventKind = "load"
	EventStageDue  EventKind = "stage_due"
	EventAction    EventKind = "action"
	EventTick      EventKind = "tick"
	EventSpotsTick EventKind = "spots_tick"
	EventSpots     EventKind = "spots"
	EventBuy       EventKind = "buy"
	EventMounted   EventKind = "mounted"
)

// Event is the input of a transition. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind `json:"kind"`

	// Seq identifies the message a typewriter event belongs to.
	Seq int `json:"seq,omitempty"`
	// Index is the question index a scheduled dialogue event was armed for.
	Index int `json:"index,omitempty"`
	// Text carries the revealed prefix of a frame event.
	Text string `json:"text,omitempty"`

	Option   string `json:"option,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Action   string `json:"action,omitempty"`
	Position string `json:"position,omitempty"`
	Spots    int    `json:"spots,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
}
