package model

import "time"

// EffectKind tells the host what to execute.
type EffectKind string

const (
	EffectSchedule       EffectKind = "schedule"
	EffectEvery          EffectKind = "every"
	EffectCancel         EffectKind = "cancel"
	EffectType           EffectKind = "type"
	EffectTrack          EffectKind = "track"
	EffectRecordAnswer   EffectKind = "record_answer"
	EffectDecrementSpots EffectKind = "decrement_spots"
	EffectMount          EffectKind = "mount"
	EffectOpenCheckout   EffectKind = "open_checkout"
	EffectNavigate       EffectKind = "navigate"
)

// Effect is a side-effect request produced by a transition. Transitions never
// perform I/O or read the clock themselves.
type Effect struct {
	Kind EffectKind

	// Key names the timer for schedule, every and cancel.
	Key   string
	Delay time.Duration
	Event *Event

	Seq  int
	Text string

	Track *TrackEvent

	Answer   *AnswerRecord
	Category Category

	Stage    string
	URL      string
	Position string
}

func Schedule(key string, delay time.Duration, ev Event) Effect {
	return Effect{Kind: EffectSchedule, Key: key, Delay: delay, Event: &ev}
}

func Every(key string, interval time.Duration, ev Event) Effect {
	return Effect{Kind: EffectEvery, Key: key, Delay: interval, Event: &ev}
}

func Cancel(key string) Effect {
	return Effect{Kind: EffectCancel, Key: key}
}

func Type(seq int, text string) Effect {
	return Effect{Kind: EffectType, Seq: seq, Text: text}
}

func Track(name string, props map[string]string) Effect {
	return Effect{Kind: EffectTrack, Track: &TrackEvent{Name: name, Props: props}}
}

func RecordAnswer(rec AnswerRecord, c Category) Effect {
	return Effect{Kind: EffectRecordAnswer, Answer: &rec, Category: c}
}

func DecrementSpots() Effect {
	return Effect{Kind: EffectDecrementSpots}
}

func Mount(stage string) Effect {
	return Effect{Kind: EffectMount, Stage: stage}
}

func OpenCheckout(position string) Effect {
	return Effect{Kind: EffectOpenCheckout, Position: position}
}

func Navigate(url string) Effect {
	return Effect{Kind: EffectNavigate, URL: url}
}
