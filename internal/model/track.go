package model

import "time"

// Analytics event names.
const (
	TrackPageView         = "page_view"
	TrackFunnelStarted    = "funnel_started"
	TrackQuestionShown    = "question_shown"
	TrackQuestionAnswered = "question_answered"
	TrackFunnelCompleted  = "funnel_completed"
	TrackStageViewed      = "reveal_stage_viewed"
	TrackVSLStarted       = "vsl_started"
	TrackCTAClicked       = "cta_clicked"
	TrackCountdownExpired = "countdown_expired"
)

// TrackEvent is handed to the analytics sink. Session and At are stamped by
// the host.
type TrackEvent struct {
	Name    string            `json:"event"`
	Session string            `json:"session,omitempty"`
	Props   map[string]string `json:"props,omitempty"`
	At      time.Time         `json:"at"`
}
