package model

// Category names one of the seven scalar fields of FunnelState. The values
// double as the persisted JSON field names.
type Category string

const (
	CategoryGender               Category = "gender"
	CategoryTimeSeparation       Category = "timeSeparation"
	CategoryWhoEnded             Category = "whoEnded"
	CategoryRelationshipDuration Category = "relationshipDuration"
	CategoryCurrentSituation     Category = "currentSituation"
	CategoryExSituation          Category = "exSituation"
	CategoryCommitmentLevel      Category = "commitmentLevel"
)

// Categories lists every category in question order.
var Categories = []Category{
	CategoryGender,
	CategoryTimeSeparation,
	CategoryWhoEnded,
	CategoryRelationshipDuration,
	CategoryCurrentSituation,
	CategoryExSituation,
	CategoryCommitmentLevel,
}

// QuestionCount is the fixed length of the question table.
const QuestionCount = 7

// AnswerRecord is immutable once created.
type AnswerRecord struct {
	QuestionID     int    `json:"questionId"`
	QuestionText   string `json:"question"`
	SelectedOption string `json:"answer"`
}

// FunnelState is the aggregate persisted between the chat and result pages.
type FunnelState struct {
	Answers              []AnswerRecord `json:"answers"`
	Gender               string         `json:"gender,omitempty"`
	TimeSeparation       string         `json:"timeSeparation,omitempty"`
	WhoEnded             string         `json:"whoEnded,omitempty"`
	RelationshipDuration string         `json:"relationshipDuration,omitempty"`
	CurrentSituation     string         `json:"currentSituation,omitempty"`
	ExSituation          string         `json:"exSituation,omitempty"`
	CommitmentLevel      string         `json:"commitmentLevel,omitempty"`

	// SpotsLeft lives under its own storage key.
	SpotsLeft int `json:"-"`
}

func (s *FunnelState) field(c Category) *string {
	switch c {
	case CategoryGender:
		return &s.Gender
	case CategoryTimeSeparation:
		return &s.TimeSeparation
	case CategoryWhoEnded:
		return &s.WhoEnded
	case CategoryRelationshipDuration:
		return &s.RelationshipDuration
	case CategoryCurrentSituation:
		return &s.CurrentSituation
	case CategoryExSituation:
		return &s.ExSituation
	case CategoryCommitmentLevel:
		return &s.CommitmentLevel
	}
	return nil
}

// Set writes the scalar field for c. It reports false for unknown categories.
func (s *FunnelState) Set(c Category, value string) bool {
	f := s.field(c)
	if f == nil {
		return false
	}
	*f = value
	return true
}

// Get returns the scalar field for c, or "" when unset or unknown.
func (s *FunnelState) Get(c Category) string {
	if f := s.field(c); f != nil {
		return *f
	}
	return ""
}

// Valid reports whether c is one of the seven known categories.
func (c Category) Valid() bool {
	var s FunnelState
	return s.field(c) != nil
}
