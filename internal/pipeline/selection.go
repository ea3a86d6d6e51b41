package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/memohai/terarelay/internal/resolver"
	"github.com/memohai/terarelay/internal/session"
)

const selectionPrefix = "sel"

// ErrMalformedSelection is returned for a choice tag that was not produced by Selection.Tag.
var ErrMalformedSelection = errors.New("pipeline: malformed selection tag")

// Selection is a decoded variant choice: which variant, for which stored resolution.
type Selection struct {
	Scope   session.Scope
	Variant resolver.VariantKind
}

// Tag encodes the selection as an opaque button payload. The conversation is not encoded; it
// comes from the tap itself.
func (s Selection) Tag() string {
	return selectionPrefix + ":" + string(s.Variant) + ":" + s.Scope.Nonce
}

// ParseSelection decodes a button payload received in conversationID.
func ParseSelection(conversationID, tag string) (Selection, error) {
	parts := strings.Split(tag, ":")
	if len(parts) != 3 || parts[0] != selectionPrefix {
		return Selection{}, fmt.Errorf("%w: %q", ErrMalformedSelection, tag)
	}
	kind, err := resolver.ParseVariantKind(parts[1])
	if err != nil || string(kind) != parts[1] {
		return Selection{}, fmt.Errorf("%w: %q", ErrMalformedSelection, tag)
	}
	nonce := parts[2]
	if nonce == "" || strings.TrimSpace(conversationID) == "" {
		return Selection{}, fmt.Errorf("%w: %q", ErrMalformedSelection, tag)
	}
	return Selection{
		Scope:   session.Scope{ConversationID: conversationID, Nonce: nonce},
		Variant: kind,
	}, nil
}
