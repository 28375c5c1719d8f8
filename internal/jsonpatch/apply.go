package jsonpatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidPath = errors.New("invalid patch path")

// Apply applies ops produced by Diff to doc and returns the new document.
// doc may be modified in place.
func Apply(doc any, ops []Op) (any, error) {
	var err error
	for _, op := range ops {
		doc, err = applyOp(doc, op)
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func applyOp(doc any, op Op) (any, error) {
	if op.Path == "" {
		if op.Op == OpRemove {
			return nil, nil
		}
		return op.Value, nil
	}
	if !strings.HasPrefix(op.Path, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, op.Path)
	}
	tokens := strings.Split(op.Path[1:], "/")
	return set(doc, tokens, op)
}

func set(node any, tokens []string, op Op) (any, error) {
	key := unescapeKey(tokens[0])
	last := len(tokens) == 1

	switch n := node.(type) {
	case map[string]any:
		if last {
			if op.Op == OpRemove {
				delete(n, key)
			} else {
				n[key] = op.Value
			}
			return n, nil
		}
		child, ok := n[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing key %q", ErrInvalidPath, key)
		}
		updated, err := set(child, tokens[1:], op)
		if err != nil {
			return nil, err
		}
		n[key] = updated
		return n, nil

	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i > len(n) {
			return nil, fmt.Errorf("%w: bad index %q", ErrInvalidPath, key)
		}
		if last {
			switch op.Op {
			case OpAdd:
				n = append(n, nil)
				copy(n[i+1:], n[i:])
				n[i] = op.Value
			case OpRemove:
				if i == len(n) {
					return nil, fmt.Errorf("%w: index %d out of range", ErrInvalidPath, i)
				}
				n = append(n[:i], n[i+1:]...)
			default:
				if i == len(n) {
					return nil, fmt.Errorf("%w: index %d out of range", ErrInvalidPath, i)
				}
				n[i] = op.Value
			}
			return n, nil
		}
		if i == len(n) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrInvalidPath, i)
		}
		updated, err := set(n[i], tokens[1:], op)
		if err != nil {
			return nil, err
		}
		n[i] = updated
		return n, nil
	}
	return nil, fmt.Errorf("%w: cannot descend into %T", ErrInvalidPath, node)
}
