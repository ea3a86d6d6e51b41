package boot

import (
	"testing"
	"time"

	"github.com/memohai/terarelay/internal/channel/adapters/telegram"
	"github.com/memohai/terarelay/internal/config"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestRuntimeConfigFromDefaults(t *testing.T) {
	rc, err := buildRuntimeConfig(config.Defaults(), envMap(nil))
	if err != nil {
		t.Fatalf("buildRuntimeConfig: %v", err)
	}
	if rc.ServerAddr != config.DefaultHTTPAddr {
		t.Fatalf("unexpected addr: %s", rc.ServerAddr)
	}
	if rc.Resolver.Timeout != 30*time.Second || rc.Download.ReadTimeout != 60*time.Second {
		t.Fatalf("unexpected timeouts: %+v %+v", rc.Resolver, rc.Download)
	}
	if rc.SessionTTL != 15*time.Minute || rc.Sweep.FileMaxAge != time.Hour {
		t.Fatalf("unexpected session settings: %s %s", rc.SessionTTL, rc.Sweep.FileMaxAge)
	}
	if !rc.Pipeline.Interactive || rc.Pipeline.Timeout != 0 || rc.Pipeline.MaxConcurrent != config.DefaultMaxConcurrent {
		t.Fatalf("unexpected pipeline config: %+v", rc.Pipeline)
	}
	if rc.Download.InsecureSkipVerify {
		t.Fatalf("certificate verification must be on by default")
	}
}

func TestRuntimeConfigEnvOverrides(t *testing.T) {
	rc, err := buildRuntimeConfig(config.Defaults(), envMap(map[string]string{
		"TELEGRAM_BOT_TOKEN": "123:abc",
		"BOT_MODE":           "webhook",
		"WEBHOOK_URL":        "https://bot.example.com",
		"RESOLVER_API_KEY":   "secret",
		"ARCHIVE_CHAT_ID":    "-100",
		"HTTP_ADDR":          ":9999",
		"DOWNLOAD_DIR":       "/tmp/dl",
	}))
	if err != nil {
		t.Fatalf("buildRuntimeConfig: %v", err)
	}
	if rc.Telegram.BotToken != "123:abc" || rc.Telegram.Mode != telegram.ModeWebhook || rc.Telegram.WebhookURL != "https://bot.example.com" {
		t.Fatalf("telegram overrides not applied: %+v", rc.Telegram)
	}
	if rc.Resolver.APIKey != "secret" || rc.Relay.ArchiveChatID != "-100" || rc.ServerAddr != ":9999" || rc.Download.Dir != "/tmp/dl" {
		t.Fatalf("overrides not applied: %+v", rc)
	}
}

func TestRuntimeConfigRejectsBadDurations(t *testing.T) {
	for _, mutate := range []func(*config.Config){
		func(c *config.Config) { c.Resolver.Timeout = "soon" },
		func(c *config.Config) { c.Session.TTL = "-1m" },
		func(c *config.Config) { c.Pipeline.Timeout = "10" },
	} {
		cfg := config.Defaults()
		mutate(&cfg)
		if _, err := buildRuntimeConfig(cfg, envMap(nil)); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}
