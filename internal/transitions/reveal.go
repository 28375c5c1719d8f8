package transitions

import (
	"fmt"
	"time"

	"funnel-engine/internal/model"
)

// Stage names of the result page.
const (
	StageWhyLeft   = "why_left"
	StageWindow    = "72h_window"
	StageVSL       = "vsl"
	StageOffer     = "offer"
	StageStickyCTA = "sticky_cta"
)

// Actions a visitor can take on the result page.
const (
	ActionRevealOffer = "reveal_offer"
	ActionVideoRetry  = "video_retry"
)

// PositionResultBuy is the default call-to-action position.
const PositionResultBuy = "result_buy"

// Timer keys used by the reveal sequencer.
const (
	KeyCountdown = "countdown"
	KeySpots     = "spots"
)

func stageKey(name string) string { return "stage:" + name }

// Stage is one reveal block. A stage fires after a delay when Timed, on the
// named user Action, or right after the stage it Follows.
type Stage struct {
	Name    string
	After   time.Duration
	Timed   bool
	Action  string
	Follows string
	Mount   bool
}

var DefaultStages = []Stage{
	{Name: StageWhyLeft, After: 0, Timed: true},
	{Name: StageWindow, After: 6 * time.Second, Timed: true},
	{Name: StageVSL, After: 9 * time.Second, Timed: true, Mount: true},
	{Name: StageOffer, After: 12 * time.Second, Timed: true, Action: ActionRevealOffer},
	{Name: StageStickyCTA, Follows: StageOffer},
}

// RevealConfig parameterizes the sequencer.
type RevealConfig struct {
	Stages        []Stage
	TickInterval  time.Duration
	SpotsInterval time.Duration
	SpotsFloor    int
}

var DefaultRevealConfig = RevealConfig{
	Stages:        DefaultStages,
	TickInterval:  time.Second,
	SpotsInterval: 45 * time.Second,
	SpotsFloor:    15,
}

type reveal struct {
	cfg RevealConfig
}

// NewRevealRegistry builds the handlers of the timed result page.
func NewRevealRegistry(cfg RevealConfig) Registry[model.Reveal] {
	r := &reveal{cfg: cfg}
	return Registry[model.Reveal]{
		model.EventLoad:      handlerFuncs[model.Reveal]{validateLoad, r.applyLoad},
		model.EventStageDue:  handlerFuncs[model.Reveal]{r.validateStageDue, r.applyStageDue},
		model.EventAction:    handlerFuncs[model.Reveal]{r.validateAction, r.applyAction},
		model.EventTick:      handlerFuncs[model.Reveal]{validateTick, applyTick},
		model.EventSpotsTick: handlerFuncs[model.Reveal]{r.validateSpotsTick, applySpotsTick},
		model.EventSpots:     handlerFuncs[model.Reveal]{validateSpots, applySpots},
		model.EventBuy:       handlerFuncs[model.Reveal]{requireLoaded, applyBuy},
		model.EventMounted:   handlerFuncs[model.Reveal]{validateMounted, applyMounted},
	}
}

func (r *reveal) stage(name string) (Stage, bool) {
	for _, st := range r.cfg.Stages {
		if st.Name == name {
			return st, true
		}
	}
	return Stage{}, false
}

func (r *reveal) stageForAction(action string) (Stage, bool) {
	for _, st := range r.cfg.Stages {
		if st.Action != "" && st.Action == action {
			return st, true
		}
	}
	return Stage{}, false
}

func validateLoad(s *model.Reveal, ev *model.Event) []model.Notice {
	if s.Loaded {
		return model.Reject("ALREADY_LOADED", "Result page already loaded")
	}
	return nil
}

func (r *reveal) applyLoad(s *model.Reveal, ev *model.Event) []model.Effect {
	s.Loaded = true
	effects := []model.Effect{model.Track(model.TrackPageView, map[string]string{"page": "resultado"})}
	for _, st := range r.cfg.Stages {
		if !st.Timed {
			continue
		}
		if st.After <= 0 {
			effects = append(effects, r.activate(s, st.Name)...)
			continue
		}
		effects = append(effects, model.Schedule(stageKey(st.Name), st.After, model.Event{Kind: model.EventStageDue, Stage: st.Name}))
	}
	if s.Countdown > 0 {
		effects = append(effects, model.Every(KeyCountdown, r.cfg.TickInterval, model.Event{Kind: model.EventTick}))
	}
	effects = append(effects, model.Every(KeySpots, r.cfg.SpotsInterval, model.Event{Kind: model.EventSpotsTick}))
	return effects
}

// activate reveals name and every stage that follows it. Stages are kept in
// declared order whatever order they fire in.
func (r *reveal) activate(s *model.Reveal, name string) []model.Effect {
	if s.Active(name) {
		return nil
	}
	st, ok := r.stage(name)
	if !ok {
		return nil
	}

	var stages []string
	for _, decl := range r.cfg.Stages {
		if decl.Name == name || s.Active(decl.Name) {
			stages = append(stages, decl.Name)
		}
	}
	s.Stages = stages

	effects := []model.Effect{model.Track(model.TrackStageViewed, map[string]string{"stage": name})}
	if st.Timed && st.Action != "" {
		effects = append(effects, model.Cancel(stageKey(name)))
	}
	if st.Mount {
		s.Video = model.VideoLoading
		effects = append(effects,
			model.Mount(name),
			model.Track(model.TrackVSLStarted, nil),
		)
	}
	for _, next := range r.cfg.Stages {
		if next.Follows == name {
			effects = append(effects, r.activate(s, next.Name)...)
		}
	}
	return effects
}

func (r *reveal) validateStageDue(s *model.Reveal, ev *model.Event) []model.Notice {
	if n := requireLoaded(s, ev); n != nil {
		return n
	}
	st, ok := r.stage(ev.Stage)
	if !ok || !st.Timed {
		return model.Reject("UNKNOWN_STAGE", fmt.Sprintf("Stage %q has no timer", ev.Stage))
	}
	if s.Active(ev.Stage) {
		return model.Reject("STAGE_ACTIVE", fmt.Sprintf("Stage %q is already shown", ev.Stage))
	}
	return nil
}

func (r *reveal) applyStageDue(s *model.Reveal, ev *model.Event) []model.Effect {
	return r.activate(s, ev.Stage)
}

func (r *reveal) validateAction(s *model.Reveal, ev *model.Event) []model.Notice {
	if n := requireLoaded(s, ev); n != nil {
		return n
	}
	if ev.Action == ActionVideoRetry {
		if s.Video != model.VideoFailed {
			return model.Reject("VIDEO_NOT_FAILED", "Retry is only offered after a failed load")
		}
		return nil
	}
	st, ok := r.stageForAction(ev.Action)
	if !ok {
		return model.Reject("UNKNOWN_ACTION", fmt.Sprintf("Unknown action %q", ev.Action))
	}
	if s.Active(st.Name) {
		return model.Reject("STAGE_ACTIVE", fmt.Sprintf("Stage %q is already shown", st.Name))
	}
	return nil
}

func (r *reveal) applyAction(s *model.Reveal, ev *model.Event) []model.Effect {
	if ev.Action == ActionVideoRetry {
		s.Video = model.VideoLoading
		for _, st := range r.cfg.Stages {
			if st.Mount {
				return []model.Effect{model.Mount(st.Name)}
			}
		}
		return nil
	}
	st, _ := r.stageForAction(ev.Action)
	return r.activate(s, st.Name)
}

func validateTick(s *model.Reveal, ev *model.Event) []model.Notice {
	if s.Countdown <= 0 {
		return model.Reject("COUNTDOWN_EXPIRED", "Countdown already reached zero")
	}
	return nil
}

func applyTick(s *model.Reveal, ev *model.Event) []model.Effect {
	s.Countdown--
	if s.Countdown > 0 {
		return nil
	}
	s.Expired = true
	return []model.Effect{
		model.Track(model.TrackCountdownExpired, nil),
		model.Cancel(KeyCountdown),
	}
}

func (r *reveal) validateSpotsTick(s *model.Reveal, ev *model.Event) []model.Notice {
	if s.SpotsLeft <= r.cfg.SpotsFloor {
		return model.Reject("SPOTS_AT_FLOOR", "Scarcity counter is at its floor")
	}
	return nil
}

func applySpotsTick(s *model.Reveal, ev *model.Event) []model.Effect {
	return []model.Effect{model.DecrementSpots()}
}

func validateSpots(s *model.Reveal, ev *model.Event) []model.Notice {
	if ev.Spots > s.SpotsLeft {
		return model.Reject("SPOTS_INCREASE", fmt.Sprintf("Spots cannot grow from %d to %d", s.SpotsLeft, ev.Spots))
	}
	return nil
}

func applySpots(s *model.Reveal, ev *model.Event) []model.Effect {
	s.SpotsLeft = ev.Spots
	return nil
}

func requireLoaded(s *model.Reveal, ev *model.Event) []model.Notice {
	if !s.Loaded {
		return model.Reject("NOT_LOADED", "Result page is not loaded")
	}
	return nil
}

func applyBuy(s *model.Reveal, ev *model.Event) []model.Effect {
	position := ev.Position
	if position == "" {
		position = PositionResultBuy
	}
	return []model.Effect{
		model.Track(model.TrackCTAClicked, map[string]string{"position": position}),
		model.OpenCheckout(position),
	}
}

func validateMounted(s *model.Reveal, ev *model.Event) []model.Notice {
	if s.Video != model.VideoLoading {
		return model.Reject("NOT_MOUNTING", "No video mount in flight")
	}
	return nil
}

func applyMounted(s *model.Reveal, ev *model.Event) []model.Effect {
	if ev.Failed {
		s.Video = model.VideoFailed
	} else {
		s.Video = model.VideoReady
	}
	return nil
}
