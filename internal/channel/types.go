package channel

import (
	"strings"
	"time"
)

// Type identifies a transport implementation.
type Type string

func (t Type) String() string { return string(t) }

// Identity describes who sent an inbound event.
type Identity struct {
	ExternalID  string
	DisplayName string
	Attributes  map[string]string
}

// Attribute returns a trimmed attribute value or "".
func (i Identity) Attribute(key string) string {
	if i.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(i.Attributes[key])
}

// Submission is a text or command sent by a user.
type Submission struct {
	Channel        Type
	ConversationID string
	MessageID      string
	Sender         Identity
	Text           string
	// Command is the bot command without the leading slash ("start"), empty for plain text.
	Command    string
	ReceivedAt time.Time
}

// SelectionTap is a tap on an inline choice attached to a bot message.
type SelectionTap struct {
	Channel        Type
	ConversationID string
	// MessageID is the message carrying the choice (the status message).
	MessageID string
	// CallbackID must be passed to Messenger.AnswerSelection.
	CallbackID string
	Sender     Identity
	// Tag is the opaque payload of the tapped choice.
	Tag        string
	ReceivedAt time.Time
}

// Button is one inline choice. Tag is returned verbatim in SelectionTap.Tag.
type Button struct {
	Label string
	Tag   string
}

// MessageRef addresses a sent message for later edits or deletion.
type MessageRef struct {
	ConversationID string
	MessageID      string
}

// IsZero reports whether the ref points nowhere.
func (r MessageRef) IsZero() bool {
	return strings.TrimSpace(r.MessageID) == ""
}

// Document is a local file to upload.
type Document struct {
	Path    string
	Name    string
	Caption string
}
