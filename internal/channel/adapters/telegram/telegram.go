package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/memohai/terarelay/internal/channel"
	"github.com/memohai/terarelay/internal/channel/adapters/adapterutil"
)

// ErrNotStarted is returned by HandleWebhook before Start.
var ErrNotStarted = errors.New("telegram adapter not started")

// tgbotapi keeps its logger in a package variable.
var setBotLogger sync.Once

// TelegramAdapter is both the inbound event source and the channel.Messenger.
type TelegramAdapter struct {
	cfg     Config
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	handler channel.Handler
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTelegramAdapter authenticates the bot (getMe). httpClient may be nil.
func NewTelegramAdapter(log *slog.Logger, cfg Config, httpClient *http.Client) (*TelegramAdapter, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("adapter", "telegram"))
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	setBotLogger.Do(func() {
		if err := tgbotapi.SetLogger(&slogBotLogger{log: log}); err != nil {
			log.Warn("set bot logger failed", slog.Any("error", err))
		}
	})
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, cfg.APIEndpoint, httpClient)
	if err != nil {
		log.Error("create bot failed", slog.Any("error", err))
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	log.Info("authorized", slog.String("username", bot.Self.UserName), slog.String("mode", string(cfg.Mode)))
	return &TelegramAdapter{
		cfg:     cfg,
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:  log,
	}, nil
}

func (a *TelegramAdapter) Type() channel.Type {
	return Type
}

// Mode returns the configured update mode.
func (a *TelegramAdapter) Mode() Mode {
	return a.cfg.Mode
}

// WebhookPath is the local route updates are posted to in webhook mode.
func (a *TelegramAdapter) WebhookPath() string {
	return a.cfg.WebhookPath
}

// Start begins delivering updates to handler. In poll mode a receive loop is started; in
// webhook mode the webhook is registered and updates arrive through HandleWebhook.
func (a *TelegramAdapter) Start(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("telegram handler is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handler != nil {
		return errors.New("telegram adapter already started")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	switch a.cfg.Mode {
	case ModeWebhook:
		link, err := a.cfg.webhookLink()
		if err != nil {
			cancel()
			return err
		}
		wh, err := tgbotapi.NewWebhook(link)
		if err != nil {
			cancel()
			return fmt.Errorf("build webhook: %w", err)
		}
		wh.DropPendingUpdates = true
		if _, err := a.bot.Request(wh); err != nil {
			cancel()
			a.logger.Error("set webhook failed", slog.Any("error", err))
			return fmt.Errorf("set webhook: %w", err)
		}
		a.logger.Info("webhook registered", slog.String("path", a.cfg.WebhookPath))
	default:
		if _, err := a.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			a.logger.Warn("delete webhook before polling failed", slog.Any("error", err))
		}
		updateConfig := tgbotapi.NewUpdate(0)
		updateConfig.Timeout = a.cfg.PollTimeout
		updates := a.bot.GetUpdatesChan(updateConfig)
		a.done = make(chan struct{})
		go a.poll(runCtx, updates, a.done)
		a.logger.Info("polling started")
	}
	a.handler = handler
	a.runCtx = runCtx
	a.cancel = cancel
	return nil
}

func (a *TelegramAdapter) poll(ctx context.Context, updates tgbotapi.UpdatesChannel, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				a.logger.Info("updates channel closed")
				return
			}
			a.dispatch(ctx, update)
		}
	}
}

// Stop ends update delivery. In webhook mode the webhook is removed.
func (a *TelegramAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.handler = nil
	a.cancel = nil
	a.done = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	a.logger.Info("stop")
	cancel()
	if a.cfg.Mode == ModeWebhook {
		if _, err := a.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			a.logger.Warn("delete webhook failed", slog.Any("error", err))
		}
		return nil
	}
	a.bot.StopReceivingUpdates()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// HandleWebhook decodes one update posted by Telegram and dispatches it.
func (a *TelegramAdapter) HandleWebhook(r *http.Request) error {
	a.mu.Lock()
	started := a.handler != nil
	runCtx := a.runCtx
	a.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	update, err := a.bot.HandleUpdate(r)
	if err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	a.dispatch(runCtx, *update)
	return nil
}

func (a *TelegramAdapter) dispatch(ctx context.Context, update tgbotapi.Update) {
	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler == nil {
		return
	}
	if update.CallbackQuery != nil {
		tap, ok := selectionFromCallback(update.CallbackQuery)
		if !ok {
			return
		}
		a.logger.Info("selection received",
			slog.String("chat_id", tap.ConversationID),
			slog.String("user_id", tap.Sender.Attribute("user_id")),
			slog.String("tag", adapterutil.SummarizeText(tap.Tag)),
		)
		handler.HandleSelection(ctx, tap)
		return
	}
	if update.Message != nil {
		msg, ok := submissionFromMessage(update.Message)
		if !ok {
			return
		}
		a.logger.Info("inbound received",
			slog.String("chat_id", msg.ConversationID),
			slog.String("user_id", msg.Sender.Attribute("user_id")),
			slog.String("username", msg.Sender.Attribute("username")),
			slog.String("text", adapterutil.SummarizeText(msg.Text)),
		)
		handler.HandleSubmission(ctx, msg)
	}
}

func submissionFromMessage(msg *tgbotapi.Message) (channel.Submission, bool) {
	if msg == nil || msg.Chat == nil {
		return channel.Submission{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return channel.Submission{}, false
	}
	externalID, displayName, attrs := resolveTelegramSender(msg)
	sub := channel.Submission{
		Channel:        Type,
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:      strconv.Itoa(msg.MessageID),
		Sender:         channel.Identity{ExternalID: externalID, DisplayName: displayName, Attributes: attrs},
		Text:           text,
		ReceivedAt:     time.Unix(int64(msg.Date), 0).UTC(),
	}
	if msg.IsCommand() {
		sub.Command = msg.Command()
	}
	return sub, true
}

func selectionFromCallback(cq *tgbotapi.CallbackQuery) (channel.SelectionTap, bool) {
	if cq == nil || cq.Message == nil || cq.Message.Chat == nil || strings.TrimSpace(cq.Data) == "" {
		return channel.SelectionTap{}, false
	}
	attrs := map[string]string{"chat_id": strconv.FormatInt(cq.Message.Chat.ID, 10)}
	externalID, displayName := describeUser(cq.From, attrs)
	return channel.SelectionTap{
		Channel:        Type,
		ConversationID: strconv.FormatInt(cq.Message.Chat.ID, 10),
		MessageID:      strconv.Itoa(cq.Message.MessageID),
		CallbackID:     cq.ID,
		Sender:         channel.Identity{ExternalID: externalID, DisplayName: displayName, Attributes: attrs},
		Tag:            cq.Data,
		ReceivedAt:     time.Now().UTC(),
	}, true
}

func resolveTelegramSender(msg *tgbotapi.Message) (string, string, map[string]string) {
	attrs := map[string]string{}
	if msg == nil {
		return "", "", attrs
	}
	if msg.Chat != nil {
		attrs["chat_id"] = strconv.FormatInt(msg.Chat.ID, 10)
	}
	if msg.From != nil {
		externalID, displayName := describeUser(msg.From, attrs)
		return externalID, displayName, attrs
	}
	if msg.SenderChat != nil {
		senderChatID := strconv.FormatInt(msg.SenderChat.ID, 10)
		attrs["sender_chat_id"] = senderChatID
		if name := strings.TrimSpace(msg.SenderChat.UserName); name != "" {
			attrs["sender_chat_username"] = name
		}
		displayName := strings.TrimSpace(msg.SenderChat.Title)
		if displayName == "" {
			displayName = attrs["sender_chat_username"]
		}
		return senderChatID, displayName, attrs
	}
	return "", "", attrs
}

func describeUser(user *tgbotapi.User, attrs map[string]string) (string, string) {
	if user == nil {
		return "", ""
	}
	userID := strconv.FormatInt(user.ID, 10)
	attrs["user_id"] = userID
	username := strings.TrimSpace(user.UserName)
	if username != "" {
		attrs["username"] = username
	}
	displayName := username
	if displayName == "" {
		displayName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	return userID, displayName
}

func (a *TelegramAdapter) wait(ctx context.Context) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit: %w", err)
	}
	return nil
}

// SendText posts a message with optional inline buttons, one per row.
func (a *TelegramAdapter) SendText(ctx context.Context, conversationID, text string, buttons []channel.Button) (channel.MessageRef, error) {
	to, err := parseTarget(conversationID)
	if err != nil {
		return channel.MessageRef{}, errors.Join(channel.ErrUnsupportedTarget, err)
	}
	var message tgbotapi.MessageConfig
	if to.channelUsername != "" {
		message = tgbotapi.NewMessageToChannel(to.channelUsername, text)
	} else {
		message = tgbotapi.NewMessage(to.chatID, text)
	}
	if len(buttons) > 0 {
		message.ReplyMarkup = inlineKeyboard(buttons)
	}
	if err := a.wait(ctx); err != nil {
		return channel.MessageRef{}, err
	}
	sent, err := a.bot.Send(message)
	if err != nil {
		a.logger.Error("send message failed", slog.String("chat_id", conversationID), slog.Any("error", err))
		return channel.MessageRef{}, err
	}
	return channel.MessageRef{ConversationID: conversationID, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// EditText replaces a message's text. nil buttons removes the inline keyboard.
func (a *TelegramAdapter) EditText(ctx context.Context, ref channel.MessageRef, text string, buttons []channel.Button) error {
	to, messageID, err := parseRef(ref)
	if err != nil {
		return err
	}
	var edit tgbotapi.EditMessageTextConfig
	if len(buttons) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(to.chatID, messageID, text, inlineKeyboard(buttons))
	} else {
		edit = tgbotapi.NewEditMessageText(to.chatID, messageID, text)
	}
	edit.ChannelUsername = to.channelUsername
	if err := a.wait(ctx); err != nil {
		return err
	}
	if _, err := a.bot.Send(edit); err != nil {
		if isNotModified(err) {
			return nil
		}
		return err
	}
	return nil
}

// Delete removes a message.
func (a *TelegramAdapter) Delete(ctx context.Context, ref channel.MessageRef) error {
	to, messageID, err := parseRef(ref)
	if err != nil {
		return err
	}
	del := tgbotapi.NewDeleteMessage(to.chatID, messageID)
	del.ChannelUsername = to.channelUsername
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err = a.bot.Request(del)
	return err
}

// SendDocument uploads a local file.
func (a *TelegramAdapter) SendDocument(ctx context.Context, conversationID string, doc channel.Document) error {
	to, err := parseTarget(conversationID)
	if err != nil {
		return errors.Join(channel.ErrUnsupportedTarget, err)
	}
	if strings.TrimSpace(doc.Path) == "" {
		return errors.New("document path is required")
	}
	document := tgbotapi.NewDocument(to.chatID, tgbotapi.FilePath(doc.Path))
	document.ChannelUsername = to.channelUsername
	document.Caption = doc.Caption
	if err := a.wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	if _, err := a.bot.Send(document); err != nil {
		a.logger.Error("send document failed", slog.String("chat_id", conversationID), slog.Any("error", err))
		return err
	}
	a.logger.Debug("document sent", slog.String("chat_id", conversationID), slog.Duration("latency", time.Since(start)))
	return nil
}

// AnswerSelection acknowledges a callback query, optionally with a notice.
func (a *TelegramAdapter) AnswerSelection(ctx context.Context, callbackID, notice string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err := a.bot.Request(tgbotapi.NewCallback(callbackID, notice))
	return err
}

func parseRef(ref channel.MessageRef) (target, int, error) {
	to, err := parseTarget(ref.ConversationID)
	if err != nil {
		return target{}, 0, errors.Join(channel.ErrUnsupportedTarget, err)
	}
	messageID, err := strconv.Atoi(strings.TrimSpace(ref.MessageID))
	if err != nil {
		return target{}, 0, fmt.Errorf("telegram message id must be numeric: %q", ref.MessageID)
	}
	return to, messageID, nil
}

func inlineKeyboard(buttons []channel.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Tag)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

var _ channel.Messenger = (*TelegramAdapter)(nil)
