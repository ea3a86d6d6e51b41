// Package pipeline composes link validation, resolution, download and relay into the two
// request flows: single-shot (first variant) and interactive (user picks a variant).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/memohai/terarelay/internal/channel"
	"github.com/memohai/terarelay/internal/link"
	"github.com/memohai/terarelay/internal/logger"
	"github.com/memohai/terarelay/internal/metrics"
	"github.com/memohai/terarelay/internal/progress"
	"github.com/memohai/terarelay/internal/relay"
	"github.com/memohai/terarelay/internal/resolver"
	"github.com/memohai/terarelay/internal/session"
)

const (
	FlowSingle      = "single"
	FlowInteractive = "interactive"

	DefaultMaxConcurrent = 4
)

// Resolver turns a link into file metadata.
type Resolver interface {
	Resolve(ctx context.Context, src link.Source) (resolver.File, error)
}

// Fetcher downloads a URL to a local file and returns its path.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, suggestedName string) (string, error)
}

// Deliverer relays a local file.
type Deliverer interface {
	Deliver(ctx context.Context, d relay.Delivery) (relay.Result, error)
}

// Config selects the flow and resource limits.
type Config struct {
	// Interactive offers a variant choice (two-step flow); false downloads the first variant.
	Interactive bool
	// Timeout bounds a whole request when > 0.
	Timeout time.Duration
	// MaxConcurrent bounds simultaneous download+upload stages.
	MaxConcurrent int64
}

// Deps are the pipeline collaborators.
type Deps struct {
	Validator *link.Validator
	Resolver  Resolver
	Fetcher   Fetcher
	Deliverer Deliverer
	Sessions  *session.Store
	Messenger channel.Messenger
	Metrics   *metrics.Metrics
}

// Orchestrator implements channel.Handler. Every inbound event runs in its own goroutine.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *slog.Logger

	// inUse counts selections working on a status message, keyed by message.
	inUseMu sync.Mutex
	inUse   map[channel.MessageRef]int
}

// New validates deps and returns an orchestrator.
func New(log *slog.Logger, cfg Config, deps Deps) (*Orchestrator, error) {
	if log == nil {
		log = slog.Default()
	}
	switch {
	case deps.Validator == nil:
		return nil, errors.New("pipeline: validator is required")
	case deps.Resolver == nil:
		return nil, errors.New("pipeline: resolver is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Deliverer == nil:
		return nil, errors.New("pipeline: deliverer is required")
	case deps.Messenger == nil:
		return nil, errors.New("pipeline: messenger is required")
	case deps.Sessions == nil && cfg.Interactive:
		return nil, errors.New("pipeline: session store is required in interactive mode")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		logger: log.With(slog.String("component", "pipeline")),
		inUse:  make(map[channel.MessageRef]int),
	}, nil
}

// HandleSubmission runs Submit in the background.
func (o *Orchestrator) HandleSubmission(ctx context.Context, msg channel.Submission) {
	ctx = context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Submit(ctx, msg); err != nil {
			o.logger.Debug("submission ended with error", slog.String("conversation_id", msg.ConversationID), slog.Any("error", err))
		}
	}()
}

// HandleSelection runs Select in the background.
func (o *Orchestrator) HandleSelection(ctx context.Context, tap channel.SelectionTap) {
	ctx = context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Select(ctx, tap); err != nil {
			o.logger.Debug("selection ended with error", slog.String("conversation_id", tap.ConversationID), slog.Any("error", err))
		}
	}()
}

// Wait blocks until every background event has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) flow() string {
	if o.cfg.Interactive {
		return FlowInteractive
	}
	return FlowSingle
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, o.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// Submit handles one text or command. It returns the error that ended the request, already
// reported to the user.
func (o *Orchestrator) Submit(ctx context.Context, msg channel.Submission) (err error) {
	ctx = o.scoped(ctx, msg.ConversationID)
	log := logger.FromContext(ctx, o.logger)
	var rep *progress.Reporter
	defer o.recoverPanic(ctx, &rep, &err)

	if msg.Command != "" {
		return o.command(ctx, msg)
	}
	src, ok := o.deps.Validator.Accept(msg.Text)
	if !ok {
		verr := &ValidationError{Input: strings.TrimSpace(msg.Text)}
		if _, sendErr := o.deps.Messenger.SendText(ctx, msg.ConversationID, UserMessage(verr), nil); sendErr != nil {
			log.Warn("reply failed", slog.Any("error", sendErr))
		}
		o.deps.Metrics.Request(o.flow(), metrics.OutcomeInvalid)
		return verr
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	defer o.deps.Metrics.Track()()

	log = log.With(slog.String("link", src.String()))
	ctx = logger.WithContext(ctx, log)
	rep = progress.New(log, o.deps.Messenger, msg.ConversationID)
	_ = rep.Created(ctx)

	start := time.Now()
	file, err := o.deps.Resolver.Resolve(ctx, src)
	o.deps.Metrics.Stage("resolve", start, err)
	if err != nil {
		return o.fail(ctx, rep, err)
	}
	log.Info("resolved", slog.String("name", file.DisplayName), slog.Uint64("size", file.SizeBytes), slog.Int("variants", len(file.Variants)))

	meta := progress.Metadata{Name: file.DisplayName, Size: relay.FormatSize(file.SizeBytes)}
	if !o.cfg.Interactive {
		_ = rep.MetadataReady(ctx, meta, nil)
		variant, ok := file.First()
		if !ok {
			return o.fail(ctx, rep, resolver.ErrNoVariant)
		}
		return o.transfer(ctx, rep, transferJob{
			conversationID: msg.ConversationID,
			requester:      requesterName(msg.Sender),
			file:           file,
			variant:        variant,
		})
	}

	if len(file.Variants) == 0 {
		return o.fail(ctx, rep, resolver.ErrNoVariant)
	}
	ref := rep.Ref()
	entry, err := o.deps.Sessions.Put(msg.ConversationID, file, session.StatusRef{ChatID: ref.ConversationID, MessageID: ref.MessageID})
	if err != nil {
		return o.fail(ctx, rep, err)
	}
	buttons := make([]channel.Button, 0, len(file.Variants))
	for _, v := range file.Variants {
		sel := Selection{Scope: entry.Scope, Variant: v.Kind}
		buttons = append(buttons, channel.Button{Label: v.Label, Tag: sel.Tag()})
	}
	_ = rep.MetadataReady(ctx, meta, buttons)
	o.deps.Metrics.Request(o.flow(), metrics.OutcomeAwaiting)
	return nil
}

// Select handles a variant tap. A tap without a live session entry fails with
// StaleSelectionError and downloads nothing.
func (o *Orchestrator) Select(ctx context.Context, tap channel.SelectionTap) (err error) {
	ctx = o.scoped(ctx, tap.ConversationID)
	var rep *progress.Reporter
	defer o.recoverPanic(ctx, &rep, &err)

	sel, err := ParseSelection(tap.ConversationID, tap.Tag)
	if err != nil {
		o.answer(ctx, tap, UserMessage(err))
		return err
	}
	if o.deps.Sessions == nil {
		stale := &StaleSelectionError{Scope: sel.Scope, Err: session.ErrNotFound}
		o.answer(ctx, tap, UserMessage(stale))
		return stale
	}
	entry, err := o.deps.Sessions.Get(sel.Scope)
	if err != nil {
		return o.stale(ctx, tap, sel, err)
	}
	variant, ok := entry.File.Variant(sel.Variant)
	if !ok {
		o.answer(ctx, tap, MsgUnknownOption)
		return fmt.Errorf("%w: variant %s not offered", ErrMalformedSelection, sel.Variant)
	}
	tapped := tapRef(tap)
	release := o.hold(tapped)
	defer release()
	entry, err = o.deps.Sessions.Take(sel.Scope)
	if err != nil {
		return o.stale(ctx, tap, sel, err)
	}
	o.answer(ctx, tap, "")

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	defer o.deps.Metrics.Track()()

	ref := tapped
	if ref.IsZero() {
		ref = channel.MessageRef{ConversationID: entry.Status.ChatID, MessageID: entry.Status.MessageID}
	}
	rep = progress.Resume(logger.FromContext(ctx, o.logger), o.deps.Messenger, ref, progress.StateMetadataReady)
	return o.transfer(ctx, rep, transferJob{
		conversationID: tap.ConversationID,
		requester:      requesterName(tap.Sender),
		file:           entry.File,
		variant:        variant,
	})
}

// stale answers the tap and retires the keyboard it came from, unless another selection is
// already reporting progress on that message.
func (o *Orchestrator) stale(ctx context.Context, tap channel.SelectionTap, sel Selection, cause error) error {
	log := logger.FromContext(ctx, o.logger)
	stale := &StaleSelectionError{Scope: sel.Scope, Err: cause}
	log.Info("stale selection", slog.String("variant", string(sel.Variant)))
	o.answer(ctx, tap, UserMessage(stale))
	if ref := tapRef(tap); !ref.IsZero() && !o.busy(ref) {
		if err := o.deps.Messenger.EditText(ctx, ref, UserMessage(stale), nil); err != nil {
			log.Warn("retire stale keyboard failed", slog.Any("error", err))
		}
	}
	o.deps.Metrics.Request(o.flow(), metrics.OutcomeStale)
	return stale
}

func tapRef(tap channel.SelectionTap) channel.MessageRef {
	if tap.MessageID == "" {
		return channel.MessageRef{}
	}
	return channel.MessageRef{ConversationID: tap.ConversationID, MessageID: tap.MessageID}
}

// hold marks ref as in use until the returned func is called.
func (o *Orchestrator) hold(ref channel.MessageRef) func() {
	if ref.IsZero() {
		return func() {}
	}
	o.inUseMu.Lock()
	o.inUse[ref]++
	o.inUseMu.Unlock()
	return func() {
		o.inUseMu.Lock()
		defer o.inUseMu.Unlock()
		if o.inUse[ref]--; o.inUse[ref] <= 0 {
			delete(o.inUse, ref)
		}
	}
}

func (o *Orchestrator) busy(ref channel.MessageRef) bool {
	o.inUseMu.Lock()
	defer o.inUseMu.Unlock()
	return o.inUse[ref] > 0
}

// scoped attaches a conversation-scoped logger to ctx.
func (o *Orchestrator) scoped(ctx context.Context, conversationID string) context.Context {
	return logger.WithContext(ctx, o.logger.With(slog.String("conversation_id", conversationID)))
}

type transferJob struct {
	conversationID string
	requester      string
	file           resolver.File
	variant        resolver.Variant
}

func (o *Orchestrator) transfer(ctx context.Context, rep *progress.Reporter, job transferJob) error {
	log := logger.FromContext(ctx, o.logger).With(slog.String("variant", string(job.variant.Kind)))

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return o.fail(ctx, rep, err)
	}
	defer o.sem.Release(1)

	_ = rep.Downloading(ctx)
	start := time.Now()
	path, err := o.deps.Fetcher.Fetch(ctx, job.variant.URL, job.file.DisplayName)
	o.deps.Metrics.Stage("download", start, err)
	if err != nil {
		return o.fail(ctx, rep, err)
	}
	defer o.removeFile(log, path)
	if info, statErr := os.Stat(path); statErr == nil {
		o.deps.Metrics.Downloaded(info.Size())
	}

	_ = rep.Uploading(ctx)
	start = time.Now()
	res, err := o.deps.Deliverer.Deliver(ctx, relay.Delivery{
		LocalPath:     path,
		File:          job.file,
		PrimaryChatID: job.conversationID,
		Caption:       job.file.DisplayName,
		Requester:     job.requester,
	})
	o.deps.Metrics.Stage("upload", start, err)
	if err != nil {
		return o.fail(ctx, rep, err)
	}
	if res.ArchiveErr != nil {
		o.deps.Metrics.Request(o.flow(), metrics.OutcomeArchiveKO)
	}
	_ = rep.Done(ctx)
	o.deps.Metrics.Request(o.flow(), metrics.OutcomeDone)
	log.Info("request done", slog.String("path", path), slog.Bool("archived", res.Archived))
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, rep *progress.Reporter, err error) error {
	logger.FromContext(ctx, o.logger).Error("request failed", slog.Any("error", err))
	// The request context may be the reason for the failure; the report must still go out.
	_ = rep.Failed(context.WithoutCancel(ctx), UserMessage(err))
	o.deps.Metrics.Request(o.flow(), metrics.OutcomeFailed)
	return err
}

func (o *Orchestrator) recoverPanic(ctx context.Context, rep **progress.Reporter, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("pipeline: panic: %v", r)
	logger.FromContext(ctx, o.logger).Error("pipeline panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
	if *rep != nil {
		_ = (*rep).Failed(context.WithoutCancel(ctx), UserMessage(err))
	}
	o.deps.Metrics.Request(o.flow(), metrics.OutcomeFailed)
	*errp = err
}

func (o *Orchestrator) removeFile(log *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove local file failed", slog.String("path", path), slog.Any("error", err))
	}
}

func (o *Orchestrator) answer(ctx context.Context, tap channel.SelectionTap, notice string) {
	if tap.CallbackID == "" {
		return
	}
	if err := o.deps.Messenger.AnswerSelection(ctx, tap.CallbackID, notice); err != nil {
		logger.FromContext(ctx, o.logger).Warn("answer selection failed", slog.Any("error", err))
	}
}

func (o *Orchestrator) command(ctx context.Context, msg channel.Submission) error {
	var text string
	switch strings.ToLower(msg.Command) {
	case "start", "help":
		text = WelcomeText(o.deps.Validator.Prefixes())
	default:
		text = "Unknown command. Send /help for usage."
	}
	if _, err := o.deps.Messenger.SendText(ctx, msg.ConversationID, text, nil); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// WelcomeText lists the supported link prefixes.
func WelcomeText(prefixes []string) string {
	var b strings.Builder
	b.WriteString("👋 Send me a Terabox link and I will fetch the file for you.\n\nSupported links:")
	for _, p := range prefixes {
		b.WriteString("\n• ")
		b.WriteString(p)
	}
	return b.String()
}

func requesterName(id channel.Identity) string {
	if username := id.Attribute("username"); username != "" {
		return "@" + strings.TrimPrefix(username, "@")
	}
	if name := strings.TrimSpace(id.DisplayName); name != "" {
		return name
	}
	return id.ExternalID
}
