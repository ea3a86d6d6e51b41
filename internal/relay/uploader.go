// Package relay delivers downloaded files to the requesting conversation and the optional archive.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/memohai/terarelay/internal/channel"
	"github.com/memohai/terarelay/internal/resolver"
)

// MaxCaptionRunes is Telegram's caption limit.
const MaxCaptionRunes = 1024

// Config holds the optional archive destination.
type Config struct {
	// ArchiveChatID is a numeric chat id or an @channel username; empty disables archiving.
	ArchiveChatID string
}

// Delivery describes one file to relay.
type Delivery struct {
	LocalPath     string
	File          resolver.File
	PrimaryChatID string
	// Caption for the primary send; empty uses the display name.
	Caption string
	// Requester is shown in the archive caption.
	Requester string
}

// Result reports what happened to each destination.
type Result struct {
	Archived   bool
	ArchiveErr error
}

// DeliveryError is a failed send to the requesting conversation.
type DeliveryError struct {
	ChatID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("relay: deliver to %s: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ArchiveError is a failed send to the archive destination. It never fails a request.
type ArchiveError struct {
	ChatID string
	Err    error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("relay: archive to %s: %v", e.ChatID, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// Uploader sends local files through a channel.Messenger. It only reads files; the caller
// removes them afterwards.
type Uploader struct {
	messenger channel.Messenger
	cfg       Config
	logger    *slog.Logger
}

// NewUploader creates an uploader.
func NewUploader(log *slog.Logger, messenger channel.Messenger, cfg Config) *Uploader {
	if log == nil {
		log = slog.Default()
	}
	cfg.ArchiveChatID = strings.TrimSpace(cfg.ArchiveChatID)
	return &Uploader{
		messenger: messenger,
		cfg:       cfg,
		logger:    log.With(slog.String("component", "relay")),
	}
}

// ArchiveEnabled reports whether an archive destination is configured.
func (u *Uploader) ArchiveEnabled() bool {
	return u.cfg.ArchiveChatID != ""
}

// Deliver sends the file to the primary chat, then to the archive chat when configured.
// Only a primary failure is returned as an error.
func (u *Uploader) Deliver(ctx context.Context, d Delivery) (Result, error) {
	if strings.TrimSpace(d.PrimaryChatID) == "" {
		return Result{}, &DeliveryError{Err: errors.New("primary chat id is required")}
	}
	if _, err := os.Stat(d.LocalPath); err != nil {
		return Result{}, &DeliveryError{ChatID: d.PrimaryChatID, Err: err}
	}
	name := documentName(d)
	caption := d.Caption
	if strings.TrimSpace(caption) == "" {
		caption = d.File.DisplayName
	}
	primary := channel.Document{Path: d.LocalPath, Name: name, Caption: TruncateCaption(caption)}
	if err := u.messenger.SendDocument(ctx, d.PrimaryChatID, primary); err != nil {
		return Result{}, &DeliveryError{ChatID: d.PrimaryChatID, Err: err}
	}
	u.logger.Info("delivered", slog.String("chat_id", d.PrimaryChatID), slog.String("name", name))

	if !u.ArchiveEnabled() {
		return Result{}, nil
	}
	archive := channel.Document{Path: d.LocalPath, Name: name, Caption: TruncateCaption(ArchiveCaption(d))}
	if err := u.messenger.SendDocument(ctx, u.cfg.ArchiveChatID, archive); err != nil {
		archiveErr := &ArchiveError{ChatID: u.cfg.ArchiveChatID, Err: err}
		u.logger.Error("archive send failed", slog.String("chat_id", u.cfg.ArchiveChatID), slog.Any("error", err))
		return Result{ArchiveErr: archiveErr}, nil
	}
	return Result{Archived: true}, nil
}

func documentName(d Delivery) string {
	base := filepath.Base(d.LocalPath)
	if base == "." || base == string(filepath.Separator) {
		return d.File.DisplayName
	}
	return base
}

// ArchiveCaption summarizes the file for the archive destination.
func ArchiveCaption(d Delivery) string {
	var b strings.Builder
	b.WriteString("File: ")
	b.WriteString(d.File.DisplayName)
	b.WriteString("\nSize: ")
	b.WriteString(FormatSize(d.File.SizeBytes))
	if src := d.File.Source.String(); src != "" {
		b.WriteString("\nLink: ")
		b.WriteString(src)
	}
	if req := strings.TrimSpace(d.Requester); req != "" {
		b.WriteString("\nRequested by: ")
		b.WriteString(req)
	}
	return b.String()
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders n with two decimals in the largest unit that keeps the value below 1024.
func FormatSize(n uint64) string {
	value := float64(n)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", value, sizeUnits[unit])
}

// TruncateCaption cuts s to MaxCaptionRunes runes.
func TruncateCaption(s string) string {
	if utf8.RuneCountInString(s) <= MaxCaptionRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxCaptionRunes-1]) + "…"
}
