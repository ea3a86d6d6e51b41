package telegram

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Mode selects how updates are received.
type Mode string

const (
	ModePoll    Mode = "poll"
	ModeWebhook Mode = "webhook"
)

const (
	DefaultWebhookPath = "/telegram/webhook"
	DefaultRateLimit   = 20
	DefaultRateBurst   = 5
	DefaultPollTimeout = 30
)

// Config holds the bot credentials and transport settings.
type Config struct {
	BotToken string
	Mode     Mode
	// WebhookURL is the public base URL Telegram posts updates to; WebhookPath is appended.
	WebhookURL  string
	WebhookPath string
	// APIEndpoint overrides tgbotapi.APIEndpoint (format "https://host/bot%s/%s").
	APIEndpoint string
	// RateLimit is outbound requests per second; RateBurst the bucket size.
	RateLimit   float64
	RateBurst   int
	PollTimeout int
}

func (c Config) withDefaults() Config {
	c.BotToken = strings.TrimSpace(c.BotToken)
	if c.Mode == "" {
		c.Mode = ModePoll
	}
	c.Mode = Mode(strings.ToLower(string(c.Mode)))
	if strings.TrimSpace(c.WebhookPath) == "" {
		c.WebhookPath = DefaultWebhookPath
	}
	if !strings.HasPrefix(c.WebhookPath, "/") {
		c.WebhookPath = "/" + c.WebhookPath
	}
	if strings.TrimSpace(c.APIEndpoint) == "" {
		c.APIEndpoint = tgbotapi.APIEndpoint
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = DefaultRateBurst
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	return c
}

// Validate checks a config after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.BotToken == "" {
		return errors.New("telegram bot_token is required")
	}
	switch c.Mode {
	case ModePoll:
	case ModeWebhook:
		if _, err := c.webhookLink(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("telegram mode must be %q or %q, got %q", ModePoll, ModeWebhook, c.Mode)
	}
	if !strings.Contains(c.APIEndpoint, "%s") {
		return errors.New("telegram api_endpoint must contain %s placeholders for token and method")
	}
	return nil
}

// webhookLink joins the public base URL and the webhook path.
func (c Config) webhookLink() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.WebhookURL), "/")
	if base == "" {
		return "", errors.New("telegram webhook_url is required in webhook mode")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("telegram webhook_url must be an absolute https URL, got %q", c.WebhookURL)
	}
	return base + c.WebhookPath, nil
}

// normalizeTarget accepts a numeric chat id, an @channel username or a t.me link.
func normalizeTarget(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "@") {
		return value
	}
	value = strings.TrimPrefix(value, "tg:")
	value = strings.TrimPrefix(value, "telegram:")
	value = strings.TrimPrefix(value, "https://t.me/")
	value = strings.TrimPrefix(value, "http://t.me/")
	value = strings.TrimPrefix(value, "t.me/")
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "@") {
		return value
	}
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return value
	}
	return "@" + value
}

// target is a parsed conversation id: a chat id or a channel username.
type target struct {
	chatID          int64
	channelUsername string
}

func parseTarget(raw string) (target, error) {
	value := normalizeTarget(raw)
	if value == "" {
		return target{}, errors.New("telegram target is required")
	}
	if strings.HasPrefix(value, "@") {
		return target{channelUsername: value}, nil
	}
	chatID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return target{}, fmt.Errorf("telegram target must be @username or chat_id: %q", raw)
	}
	return target{chatID: chatID}, nil
}
