// Package channeltest provides an in-memory channel.Messenger for tests.
package channeltest

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"

	"github.com/memohai/terarelay/internal/channel"
)

// OpKind names a recorded Messenger call.
type OpKind string

const (
	OpSend     OpKind = "send"
	OpEdit     OpKind = "edit"
	OpDelete   OpKind = "delete"
	OpDocument OpKind = "document"
	OpAnswer   OpKind = "answer"
)

// Op is one recorded call.
type Op struct {
	Kind           OpKind
	ConversationID string
	MessageID      string
	Text           string
	Buttons        []channel.Button
	Document       channel.Document
	// DocumentBody is the uploaded file content read at send time.
	DocumentBody string
}

// Recorder records every call. Set the *Err fields to make calls fail; DocumentErrFor fails
// uploads to specific conversations only.
type Recorder struct {
	mu     sync.Mutex
	ops    []Op
	nextID int

	SendErr        error
	EditErr        error
	DeleteErr      error
	DocumentErr    error
	DocumentErrFor map[string]error
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{nextID: 100}
}

func (r *Recorder) record(op Op) {
	r.ops = append(r.ops, op)
}

// SendText records a send and returns an incrementing message id.
func (r *Recorder) SendText(_ context.Context, conversationID, text string, buttons []channel.Button) (channel.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return channel.MessageRef{}, r.SendErr
	}
	r.nextID++
	id := strconv.Itoa(r.nextID)
	r.record(Op{Kind: OpSend, ConversationID: conversationID, MessageID: id, Text: text, Buttons: buttons})
	return channel.MessageRef{ConversationID: conversationID, MessageID: id}, nil
}

func (r *Recorder) EditText(_ context.Context, ref channel.MessageRef, text string, buttons []channel.Button) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.EditErr != nil {
		return r.EditErr
	}
	r.record(Op{Kind: OpEdit, ConversationID: ref.ConversationID, MessageID: ref.MessageID, Text: text, Buttons: buttons})
	return nil
}

func (r *Recorder) Delete(_ context.Context, ref channel.MessageRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	r.record(Op{Kind: OpDelete, ConversationID: ref.ConversationID, MessageID: ref.MessageID})
	return nil
}

func (r *Recorder) SendDocument(_ context.Context, conversationID string, doc channel.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.DocumentErrFor[conversationID]; err != nil {
		return err
	}
	if r.DocumentErr != nil {
		return r.DocumentErr
	}
	body, err := os.ReadFile(doc.Path)
	if err != nil {
		return errors.Join(errors.New("channeltest: read document"), err)
	}
	r.record(Op{Kind: OpDocument, ConversationID: conversationID, Document: doc, DocumentBody: string(body)})
	return nil
}

func (r *Recorder) AnswerSelection(_ context.Context, callbackID, notice string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Op{Kind: OpAnswer, MessageID: callbackID, Text: notice})
	return nil
}

// Ops returns a copy of the recorded calls.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, len(r.ops))
	copy(out, r.ops)
	return out
}

// OpsOf returns the recorded calls of one kind.
func (r *Recorder) OpsOf(kind OpKind) []Op {
	var out []Op
	for _, op := range r.Ops() {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// Documents returns uploads addressed to conversationID.
func (r *Recorder) Documents(conversationID string) []Op {
	var out []Op
	for _, op := range r.OpsOf(OpDocument) {
		if op.ConversationID == conversationID {
			out = append(out, op)
		}
	}
	return out
}

var _ channel.Messenger = (*Recorder)(nil)
