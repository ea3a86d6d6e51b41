// Package boot turns the loaded configuration into typed runtime settings for the service.
package boot

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/memohai/terarelay/internal/channel/adapters/telegram"
	"github.com/memohai/terarelay/internal/config"
	"github.com/memohai/terarelay/internal/download"
	"github.com/memohai/terarelay/internal/pipeline"
	"github.com/memohai/terarelay/internal/relay"
	"github.com/memohai/terarelay/internal/resolver"
	"github.com/memohai/terarelay/internal/schedule"
)

// RuntimeConfig holds parsed runtime settings. Values may be overridden by environment
// variables (TELEGRAM_BOT_TOKEN, RESOLVER_API_KEY, ARCHIVE_CHAT_ID, HTTP_ADDR, BOT_MODE,
// WEBHOOK_URL, DOWNLOAD_DIR).
type RuntimeConfig struct {
	ServerAddr      string
	Telegram        telegram.Config
	Resolver        resolver.Config
	Download        download.Config
	Relay           relay.Config
	SessionTTL      time.Duration
	Sweep           schedule.Config
	AllowedPrefixes []string
	Pipeline        pipeline.Config
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	return buildRuntimeConfig(cfg, os.Getenv)
}

func buildRuntimeConfig(cfg config.Config, getenv func(string) string) (*RuntimeConfig, error) {
	override := func(target *string, key string) {
		if value := strings.TrimSpace(getenv(key)); value != "" {
			*target = value
		}
	}
	override(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	override(&cfg.Telegram.Mode, "BOT_MODE")
	override(&cfg.Telegram.WebhookURL, "WEBHOOK_URL")
	override(&cfg.Resolver.APIKey, "RESOLVER_API_KEY")
	override(&cfg.Relay.ArchiveChatID, "ARCHIVE_CHAT_ID")
	override(&cfg.Server.Addr, "HTTP_ADDR")
	override(&cfg.Download.Dir, "DOWNLOAD_DIR")

	var (
		resolverTimeout, connectTimeout, readTimeout time.Duration
		sessionTTL, fileMaxAge, pipelineTimeout      time.Duration
	)
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"resolver.timeout", cfg.Resolver.Timeout, &resolverTimeout},
		{"download.connect_timeout", cfg.Download.ConnectTimeout, &connectTimeout},
		{"download.read_timeout", cfg.Download.ReadTimeout, &readTimeout},
		{"session.ttl", cfg.Session.TTL, &sessionTTL},
		{"session.file_max_age", cfg.Session.FileMaxAge, &fileMaxAge},
		{"pipeline.timeout", cfg.Pipeline.Timeout, &pipelineTimeout},
	}
	for _, f := range fields {
		d, err := parseDuration(f.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = d
	}

	return &RuntimeConfig{
		ServerAddr: cfg.Server.Addr,
		Telegram: telegram.Config{
			BotToken:    cfg.Telegram.BotToken,
			Mode:        telegram.Mode(cfg.Telegram.Mode),
			WebhookURL:  cfg.Telegram.WebhookURL,
			WebhookPath: cfg.Telegram.WebhookPath,
			APIEndpoint: cfg.Telegram.APIEndpoint,
			RateLimit:   cfg.Telegram.RateLimit,
			RateBurst:   cfg.Telegram.RateBurst,
			PollTimeout: cfg.Telegram.PollTimeout,
		},
		Resolver: resolver.Config{
			Endpoint:     cfg.Resolver.Endpoint,
			APIKey:       cfg.Resolver.APIKey,
			APIKeyHeader: cfg.Resolver.APIKeyHeader,
			QueryParam:   cfg.Resolver.QueryParam,
			Headers:      cfg.Resolver.Headers,
			Timeout:      resolverTimeout,
		},
		Download: download.Config{
			Dir:                cfg.Download.Dir,
			ConnectTimeout:     connectTimeout,
			ReadTimeout:        readTimeout,
			ChunkSize:          cfg.Download.ChunkSize,
			InsecureSkipVerify: cfg.Download.InsecureSkipVerify,
			MaxFileBytes:       cfg.Download.MaxFileBytes,
		},
		Relay:      relay.Config{ArchiveChatID: cfg.Relay.ArchiveChatID},
		SessionTTL: sessionTTL,
		Sweep: schedule.Config{
			Pattern:    cfg.Session.SweepSchedule,
			FileMaxAge: fileMaxAge,
		},
		AllowedPrefixes: cfg.Link.AllowedPrefixes,
		Pipeline: pipeline.Config{
			Interactive:   cfg.Pipeline.Interactive,
			Timeout:       pipelineTimeout,
			MaxConcurrent: cfg.Download.MaxConcurrent,
		},
	}, nil
}

// parseDuration accepts Go duration strings; empty means zero (use the component default).
func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative: %s", value)
	}
	return d, nil
}
