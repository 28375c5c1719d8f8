package model

import "slices"

type DialoguePhase string

const (
	PhaseNotStarted    DialoguePhase = "not_started"
	PhaseAsking        DialoguePhase = "asking"
	PhaseAwaiting      DialoguePhase = "awaiting"
	PhaseAcknowledging DialoguePhase = "acknowledging"
	PhaseCompleted     DialoguePhase = "completed"
)

const (
	FromBot  = "bot"
	FromUser = "user"
)

// Message is one chat bubble. Shown is the part already revealed by the
// typewriter; Text is the full content.
type Message struct {
	Seq    int    `json:"seq"`
	From   string `json:"from"`
	Text   string `json:"-"`
	Shown  string `json:"text"`
	Typing bool   `json:"typing"`
}

// Dialogue is the state of the scripted chat.
type Dialogue struct {
	Phase       DialoguePhase `json:"phase"`
	Index       int           `json:"index"`
	Answered    int           `json:"answered"`
	Progress    float64       `json:"progress"`
	Processing  bool          `json:"processing"`
	ShowOptions bool          `json:"showOptions"`
	Messages    []Message     `json:"messages"`
	Gender      string        `json:"-"`
	NextSeq     int           `json:"-"`
}

// NewDialogue seeds a dialogue for a visitor who already answered the first
// answered questions.
func NewDialogue(answered int, gender string) Dialogue {
	if answered < 0 {
		answered = 0
	}
	if answered > QuestionCount {
		answered = QuestionCount
	}
	return Dialogue{
		Phase:    PhaseNotStarted,
		Answered: answered,
		Progress: ProgressAfter(answered),
		Gender:   gender,
		NextSeq:  1,
	}
}

// ProgressAfter returns the progress percentage once n questions are answered.
func ProgressAfter(n int) float64 {
	return float64(n) / float64(QuestionCount) * 100
}

func (d Dialogue) Clone() Dialogue {
	d.Messages = slices.Clone(d.Messages)
	return d
}

// Last returns the most recent message, if any.
func (d *Dialogue) Last() (*Message, bool) {
	if len(d.Messages) == 0 {
		return nil, false
	}
	return &d.Messages[len(d.Messages)-1], true
}

// Say appends a bot message in typing state and returns its sequence number.
func (d *Dialogue) Say(text string) int {
	seq := d.NextSeq
	d.NextSeq++
	d.Messages = append(d.Messages, Message{Seq: seq, From: FromBot, Text: text, Typing: true})
	return seq
}

// Reply appends a fully shown visitor message.
func (d *Dialogue) Reply(text string) {
	seq := d.NextSeq
	d.NextSeq++
	d.Messages = append(d.Messages, Message{Seq: seq, From: FromUser, Text: text, Shown: text})
}

// DialogueView is what a dialogue host renders.
type DialogueView struct {
	Phase         DialoguePhase `json:"phase"`
	Question      int           `json:"question"`
	Progress      float64       `json:"progress"`
	ProgressLabel string        `json:"progressLabel"`
	Processing    bool          `json:"processing"`
	Messages      []Message     `json:"messages"`
	Options       []string      `json:"options"`
	Completed     bool          `json:"completed"`
}
