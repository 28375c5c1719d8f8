package telegram

import (
	"slices"

	"funnel-engine/internal/model"
)

type actionKind int

const (
	actionTyping actionKind = iota
	actionSend
	actionAttach
	actionClear
)

type action struct {
	kind    actionKind
	text    string
	options []string
}

// presenter turns successive dialogue views into chat operations. Telegram
// has no typewriter, so a bot message is delivered once it is fully typed
// and a typing indicator stands in while it is not.
type presenter struct {
	sentSeq    int
	typingSeq  int
	processing bool
	options    []string
}

func (p *presenter) plan(v model.DialogueView) []action {
	var acts []action
	for _, m := range v.Messages {
		if m.From != model.FromBot || m.Seq <= p.sentSeq {
			continue
		}
		if m.Typing {
			if m.Seq > p.typingSeq {
				p.typingSeq = m.Seq
				acts = append(acts, action{kind: actionTyping})
			}
			break
		}
		p.sentSeq = m.Seq
		acts = append(acts, action{kind: actionSend, text: m.Shown})
	}

	if v.Processing && !p.processing {
		acts = append(acts, action{kind: actionTyping})
	}
	p.processing = v.Processing

	if !slices.Equal(v.Options, p.options) {
		if len(p.options) > 0 {
			acts = append(acts, action{kind: actionClear})
		}
		if len(v.Options) > 0 {
			acts = append(acts, action{kind: actionAttach, options: slices.Clone(v.Options)})
		}
		p.options = slices.Clone(v.Options)
	}
	return acts
}
