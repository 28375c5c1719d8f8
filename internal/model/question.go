package model

import "slices"

// Question is a static entry of the dialogue script.
type Question struct {
	ID          int               `yaml:"id" json:"id"`
	Prompt      string            `yaml:"prompt" json:"prompt"`
	Options     []string          `yaml:"options" json:"options"`
	Ack         string            `yaml:"ack" json:"ack"`
	AckByGender map[string]string `yaml:"ack_by_gender" json:"ackByGender,omitempty"`
	Category    Category          `yaml:"category" json:"category"`
}

// HasOption reports whether option is one of the question's choices.
func (q Question) HasOption(option string) bool {
	return slices.Contains(q.Options, option)
}

// Acknowledgement picks the gender-specific acknowledgement when one exists,
// falling back to the plain one.
func (q Question) Acknowledgement(gender string) string {
	if gender != "" {
		if text, ok := q.AckByGender[gender]; ok && text != "" {
			return text
		}
	}
	return q.Ack
}
