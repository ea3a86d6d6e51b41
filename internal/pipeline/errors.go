package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/memohai/terarelay/internal/download"
	"github.com/memohai/terarelay/internal/relay"
	"github.com/memohai/terarelay/internal/resolver"
	"github.com/memohai/terarelay/internal/session"
)

// ValidationError is a submission that is not an allow-listed link.
type ValidationError struct {
	Input string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pipeline: link not allowed: %q", e.Input)
}

// StaleSelectionError is a variant tap with no live session entry.
type StaleSelectionError struct {
	Scope session.Scope
	Err   error
}

func (e *StaleSelectionError) Error() string {
	return fmt.Sprintf("pipeline: stale selection in %s: %v", e.Scope.ConversationID, e.Err)
}

func (e *StaleSelectionError) Unwrap() error { return e.Err }

const (
	MsgInvalidLink   = "❌ Invalid link. Please send a valid Terabox link."
	MsgStale         = "⚠️ This selection has expired. Please send the link again."
	MsgUnknownOption = "⚠️ This option is not available."
)

// UserMessage maps a pipeline error to the text shown to the user.
func UserMessage(err error) string {
	var (
		validationErr *ValidationError
		staleErr      *StaleSelectionError
		upstreamErr   *resolver.HTTPError
		formatErr     *resolver.FormatError
		downloadErr   *download.HTTPError
		networkErr    *download.NetworkError
		ioErr         *download.IOError
		deliveryErr   *relay.DeliveryError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return MsgInvalidLink
	case errors.As(err, &staleErr):
		return MsgStale
	case errors.Is(err, ErrMalformedSelection):
		return MsgUnknownOption
	case errors.Is(err, context.DeadlineExceeded):
		return "❌ The request timed out."
	case errors.As(err, &upstreamErr):
		return fmt.Sprintf("❌ Failed to fetch file info (HTTP %d). Please try again later.", upstreamErr.Status)
	case errors.As(err, &formatErr):
		return "❌ The file service returned an unexpected response."
	case errors.Is(err, resolver.ErrNoVariant):
		return "❌ No download link is available for this file."
	case errors.As(err, &downloadErr):
		return fmt.Sprintf("❌ Download failed (HTTP %d).", downloadErr.Status)
	case errors.Is(err, download.ErrTooLarge):
		return "❌ The file is too large to relay."
	case errors.Is(err, download.ErrStalled):
		return "❌ The download stalled. Please try again."
	case errors.As(err, &networkErr):
		return "❌ Network error while downloading. Please try again."
	case errors.As(err, &ioErr):
		return "❌ Could not save the file."
	case errors.As(err, &deliveryErr):
		return "❌ Could not send the file to you."
	default:
		return "❌ Something went wrong. Please try again."
	}
}
