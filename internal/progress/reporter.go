// Package progress drives the single editable status message of a request.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/memohai/terarelay/internal/channel"
)

// State is a status message state. States only move forward.
type State int

const (
	StateNone State = iota
	StateCreated
	StateMetadataReady
	StateDownloading
	StateUploading
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateCreated:
		return "created"
	case StateMetadataReady:
		return "metadata_ready"
	case StateDownloading:
		return "downloading"
	case StateUploading:
		return "uploading"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

const (
	TextCreated     = "⏳ Processing your link..."
	TextDownloading = "📥 Downloading file..."
	TextUploading   = "📤 Uploading file..."
	failedPrefix    = "❌ "
)

// ErrInvalidTransition is returned for a backward, repeated or post-terminal transition.
var ErrInvalidTransition = errors.New("progress: invalid state transition")

// Metadata is what the MetadataReady view shows.
type Metadata struct {
	Name string
	Size string
}

// MetadataText renders the MetadataReady view; the choice prompt is shown only with choices.
func MetadataText(m Metadata, withChoices bool) string {
	text := "📄 File: " + m.Name + "\n📦 Size: " + m.Size
	if withChoices {
		text += "\n\nChoose a download option:"
	}
	return text
}

// FailedText renders the Failed view.
func FailedText(reason string) string {
	reason = strings.TrimSpace(reason)
	if strings.HasPrefix(reason, failedPrefix) {
		return reason
	}
	return failedPrefix + reason
}

// Reporter owns one status message. Transport errors are logged, never returned: a broken
// status message must not stop the pipeline.
type Reporter struct {
	mu             sync.Mutex
	messenger      channel.Messenger
	conversationID string
	ref            channel.MessageRef
	state          State
	logger         *slog.Logger
}

// New returns a reporter that has not sent anything yet.
func New(log *slog.Logger, messenger channel.Messenger, conversationID string) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		messenger:      messenger,
		conversationID: conversationID,
		logger:         log.With(slog.String("component", "progress"), slog.String("conversation_id", conversationID)),
	}
}

// Resume rebuilds a reporter for a status message created by an earlier event.
func Resume(log *slog.Logger, messenger channel.Messenger, ref channel.MessageRef, state State) *Reporter {
	r := New(log, messenger, ref.ConversationID)
	r.ref = ref
	r.state = state
	return r
}

// State returns the current state.
func (r *Reporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Ref returns the status message, zero if it could not be sent.
func (r *Reporter) Ref() channel.MessageRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ref
}

func (r *Reporter) advance(next State) error {
	if r.state.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, next)
	}
	if next == StateFailed {
		return nil
	}
	if next != r.state+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, next)
	}
	return nil
}

// Created sends the initial status message.
func (r *Reporter) Created(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.advance(StateCreated); err != nil {
		return err
	}
	r.state = StateCreated
	ref, err := r.messenger.SendText(ctx, r.conversationID, TextCreated, nil)
	if err != nil {
		r.logger.Warn("send status message failed", slog.Any("error", err))
		return nil
	}
	r.ref = ref
	return nil
}

// MetadataReady shows the file summary with one button per choice. Without a status message
// (the initial send failed) a fresh one is sent so the choices still reach the user.
func (r *Reporter) MetadataReady(ctx context.Context, m Metadata, choices []channel.Button) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.advance(StateMetadataReady); err != nil {
		return err
	}
	r.state = StateMetadataReady
	text := MetadataText(m, len(choices) > 0)
	if r.ref.IsZero() {
		ref, err := r.messenger.SendText(ctx, r.conversationID, text, choices)
		if err != nil {
			r.logger.Warn("send metadata failed", slog.Any("error", err))
			return nil
		}
		r.ref = ref
		return nil
	}
	r.edit(ctx, text, choices)
	return nil
}

// Downloading marks the transfer start.
func (r *Reporter) Downloading(ctx context.Context) error {
	return r.simple(ctx, StateDownloading, TextDownloading)
}

// Uploading marks the relay start.
func (r *Reporter) Uploading(ctx context.Context) error {
	return r.simple(ctx, StateUploading, TextUploading)
}

func (r *Reporter) simple(ctx context.Context, next State, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.advance(next); err != nil {
		return err
	}
	r.state = next
	if !r.ref.IsZero() {
		r.edit(ctx, text, nil)
	}
	return nil
}

// Done deletes the status message.
func (r *Reporter) Done(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.advance(StateDone); err != nil {
		return err
	}
	r.state = StateDone
	if r.ref.IsZero() {
		return nil
	}
	if err := r.messenger.Delete(ctx, r.ref); err != nil {
		r.logger.Warn("delete status message failed", slog.Any("error", err))
	}
	return nil
}

// Failed overwrites the status message with reason and ends the request.
func (r *Reporter) Failed(ctx context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.advance(StateFailed); err != nil {
		return err
	}
	r.state = StateFailed
	text := FailedText(reason)
	if r.ref.IsZero() {
		if _, err := r.messenger.SendText(ctx, r.conversationID, text, nil); err != nil {
			r.logger.Warn("send failure message failed", slog.Any("error", err))
		}
		return nil
	}
	r.edit(ctx, text, nil)
	return nil
}

func (r *Reporter) edit(ctx context.Context, text string, buttons []channel.Button) {
	if err := r.messenger.EditText(ctx, r.ref, text, buttons); err != nil {
		r.logger.Warn("edit status message failed",
			slog.String("state", r.state.String()),
			slog.Any("error", err),
		)
	}
}
