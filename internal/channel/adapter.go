// Package channel defines the boundary between the relay pipeline and the messaging transport.
package channel

import (
	"context"
	"errors"
)

// ErrUnsupportedTarget is returned when a conversation id cannot be addressed by the transport.
var ErrUnsupportedTarget = errors.New("channel: unsupported target")

// Handler consumes inbound events. Implementations must not block the caller for the duration
// of a request; transports may call them from their event loop.
type Handler interface {
	HandleSubmission(ctx context.Context, msg Submission)
	HandleSelection(ctx context.Context, tap SelectionTap)
}

// Messenger is what the pipeline needs from a transport.
type Messenger interface {
	// SendText posts a new message, optionally with inline buttons (one per row).
	SendText(ctx context.Context, conversationID, text string, buttons []Button) (MessageRef, error)
	// EditText replaces the text of a message; nil buttons removes any keyboard.
	EditText(ctx context.Context, ref MessageRef, text string, buttons []Button) error
	// Delete removes a message.
	Delete(ctx context.Context, ref MessageRef) error
	// SendDocument uploads a local file to a conversation.
	SendDocument(ctx context.Context, conversationID string, doc Document) error
	// AnswerSelection acknowledges a SelectionTap, optionally showing a short notice.
	AnswerSelection(ctx context.Context, callbackID, notice string) error
}
