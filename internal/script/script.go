// Package script holds the static dialogue table and result page copy.
package script

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"funnel-engine/internal/model"
)

//go:embed script.yaml
var defaultScript []byte

var ErrInvalidScript = errors.New("invalid script")

// Script is the authored content of both funnel pages.
type Script struct {
	Greeting        string           `yaml:"greeting"`
	StartLabel      string           `yaml:"start_label"`
	Closing         string           `yaml:"closing"`
	ViewPlanLabel   string           `yaml:"view_plan_label"`
	CompletionBadge string           `yaml:"completion_badge"`
	Questions       []model.Question `yaml:"questions"`
	Result          model.ResultCopy `yaml:"result"`
	Personalization Personalization  `yaml:"personalization"`
}

type Personalization struct {
	Conquer     map[string]string `yaml:"conquer"`
	TimeDefault string            `yaml:"time_default"`
}

// Default returns the embedded script. It panics if the embedded table is
// broken, which only a bad edit to script.yaml can cause.
func Default() *Script {
	s, err := Parse(defaultScript)
	if err != nil {
		panic(err)
	}
	return s
}

// Load reads a script from path.
func Load(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the question table covers every category exactly once, in
// order.
func (s *Script) Validate() error {
	if len(s.Questions) != model.QuestionCount {
		return fmt.Errorf("%w: %d questions, want %d", ErrInvalidScript, len(s.Questions), model.QuestionCount)
	}
	for i, q := range s.Questions {
		if q.Category != model.Categories[i] {
			return fmt.Errorf("%w: question %d has category %q, want %q", ErrInvalidScript, q.ID, q.Category, model.Categories[i])
		}
		if q.Prompt == "" || q.Ack == "" {
			return fmt.Errorf("%w: question %d lacks prompt or ack", ErrInvalidScript, q.ID)
		}
		if len(q.Options) == 0 {
			return fmt.Errorf("%w: question %d has no options", ErrInvalidScript, q.ID)
		}
	}
	if s.Greeting == "" || s.Closing == "" {
		return fmt.Errorf("%w: greeting and closing are required", ErrInvalidScript)
	}
	return nil
}

// Question returns the question at index i.
func (s *Script) Question(i int) (model.Question, bool) {
	if i < 0 || i >= len(s.Questions) {
		return model.Question{}, false
	}
	return s.Questions[i], true
}

// ResultCopy fills the result page templates from the visitor's answers.
// Missing answers fall back to neutral phrases.
func (s *Script) ResultCopy(state model.FunnelState) model.ResultCopy {
	conquer, ok := s.Personalization.Conquer[state.Gender]
	if !ok || state.Gender == "" {
		conquer = s.Personalization.Conquer["default"]
	}
	when := state.TimeSeparation
	if when == "" {
		when = s.Personalization.TimeDefault
	}
	r := strings.NewReplacer("{conquer}", conquer, "{time}", when)

	c := s.Result
	c.Title = r.Replace(c.Title)
	c.WhyLeft = r.Replace(c.WhyLeft)
	c.Window = r.Replace(c.Window)
	c.Phases = append([]string(nil), c.Phases...)
	c.Features = append([]string(nil), c.Features...)
	return c
}
