package telegram

import (
	"fmt"

	json "github.com/goccy/go-json"

	"funnel-engine/internal/jsonpatch"
	"funnel-engine/internal/model"
	"funnel-engine/internal/runtime"
)

// mirror rebuilds the dialogue view from a view stream the way the browser
// does: the first update carries the view, later ones a patch against it.
type mirror struct {
	doc any
}

// apply folds u into the mirrored document. ok is false for updates that
// carry no view change, such as commands.
func (m *mirror) apply(u runtime.Update) (view model.DialogueView, ok bool, err error) {
	switch {
	case u.View != nil:
		doc, err := jsonpatch.Snapshot(u.View)
		if err != nil {
			return view, false, err
		}
		m.doc = doc
	case len(u.Patch) > 0:
		if m.doc == nil {
			return view, false, fmt.Errorf("patch %d before snapshot", u.Seq)
		}
		ops, err := detach(u.Patch)
		if err != nil {
			return view, false, err
		}
		doc, err := jsonpatch.Apply(m.doc, ops)
		if err != nil {
			return view, false, fmt.Errorf("applying patch %d: %w", u.Seq, err)
		}
		m.doc = doc
	default:
		return view, false, nil
	}

	raw, err := json.Marshal(m.doc)
	if err != nil {
		return view, false, err
	}
	if err := json.Unmarshal(raw, &view); err != nil {
		return view, false, fmt.Errorf("decoding view: %w", err)
	}
	return view, true, nil
}

// detach copies ops through their wire form. Patch values are shared with
// the view and every other subscriber, and Apply edits in place.
func detach(ops []jsonpatch.Op) ([]jsonpatch.Op, error) {
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, err
	}
	var out []jsonpatch.Op
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
