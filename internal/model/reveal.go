package model

import "slices"

const (
	VideoHidden  = "hidden"
	VideoLoading = "loading"
	VideoReady   = "ready"
	VideoFailed  = "failed"
)

// Reveal is the state of the result page sequencer.
type Reveal struct {
	Loaded    bool     `json:"loaded"`
	Stages    []string `json:"stages"`
	Countdown int      `json:"countdown"`
	Expired   bool     `json:"expired"`
	SpotsLeft int      `json:"spotsLeft"`
	Video     string   `json:"video"`
}

// NewReveal returns an unloaded sequencer state.
func NewReveal(countdown, spotsLeft int) Reveal {
	return Reveal{Countdown: countdown, SpotsLeft: spotsLeft, Video: VideoHidden}
}

func (r Reveal) Clone() Reveal {
	r.Stages = slices.Clone(r.Stages)
	return r
}

// Active reports whether stage has been revealed.
func (r *Reveal) Active(stage string) bool {
	return slices.Contains(r.Stages, stage)
}

// ResultCopy is the personalized text of the result page.
type ResultCopy struct {
	Title       string   `yaml:"title" json:"title"`
	WhyLeft     string   `yaml:"why_left" json:"whyLeft"`
	Window      string   `yaml:"window" json:"window"`
	Phases      []string `yaml:"phases" json:"phases"`
	Video       string   `yaml:"video" json:"video"`
	OfferTitle  string   `yaml:"offer_title" json:"offerTitle"`
	Features    []string `yaml:"features" json:"features"`
	CTA         string   `yaml:"cta" json:"cta"`
	SocialProof string   `yaml:"social_proof" json:"socialProof"`
	Guarantee   string   `yaml:"guarantee" json:"guarantee"`
}

// RevealView is what a result host renders.
type RevealView struct {
	Stages        []string   `json:"stages"`
	Countdown     int        `json:"countdown"`
	CountdownText string     `json:"countdownText"`
	Expired       bool       `json:"expired"`
	SpotsLeft     int        `json:"spotsLeft"`
	Video         string     `json:"video"`
	Sticky        bool       `json:"sticky"`
	Copy          ResultCopy `json:"copy"`
}
