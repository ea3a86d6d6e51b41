// Package config loads and exposes application configuration (TOML, or YAML by file extension).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default configuration values used when a field is missing in the file.
const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultTelegramMode    = "poll"
	DefaultWebhookPath     = "/telegram/webhook"
	DefaultResolverTimeout = "30s"
	DefaultAPIKeyHeader    = "x-api-key"
	DefaultQueryParam      = "url"
	DefaultDownloadDir     = "downloads"
	DefaultConnectTimeout  = "30s"
	DefaultReadTimeout     = "60s"
	DefaultChunkSize       = 8192
	DefaultMaxConcurrent   = 4
	DefaultSessionTTL      = "15m"
	DefaultSweepSchedule   = "@every 1m"
	DefaultFileMaxAge      = "1h"
)

// Config is the root application configuration.
type Config struct {
	Log      LogConfig      `toml:"log" yaml:"log"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Telegram TelegramConfig `toml:"telegram" yaml:"telegram"`
	Resolver ResolverConfig `toml:"resolver" yaml:"resolver"`
	Download DownloadConfig `toml:"download" yaml:"download"`
	Relay    RelayConfig    `toml:"relay" yaml:"relay"`
	Session  SessionConfig  `toml:"session" yaml:"session"`
	Link     LinkConfig     `toml:"link" yaml:"link"`
	Pipeline PipelineConfig `toml:"pipeline" yaml:"pipeline"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// TelegramConfig holds the bot token and update mode (poll or webhook).
type TelegramConfig struct {
	BotToken    string  `toml:"bot_token" yaml:"bot_token"`
	Mode        string  `toml:"mode" yaml:"mode"`
	WebhookURL  string  `toml:"webhook_url" yaml:"webhook_url"`
	WebhookPath string  `toml:"webhook_path" yaml:"webhook_path"`
	APIEndpoint string  `toml:"api_endpoint" yaml:"api_endpoint"`
	RateLimit   float64 `toml:"rate_limit" yaml:"rate_limit"`
	RateBurst   int     `toml:"rate_burst" yaml:"rate_burst"`
	PollTimeout int     `toml:"poll_timeout" yaml:"poll_timeout"`
}

// ResolverConfig describes the metadata resolution API.
type ResolverConfig struct {
	Endpoint     string            `toml:"endpoint" yaml:"endpoint"`
	APIKey       string            `toml:"api_key" yaml:"api_key"`
	APIKeyHeader string            `toml:"api_key_header" yaml:"api_key_header"`
	QueryParam   string            `toml:"query_param" yaml:"query_param"`
	Headers      map[string]string `toml:"headers" yaml:"headers"`
	Timeout      string            `toml:"timeout" yaml:"timeout"`
}

// DownloadConfig holds the download directory, timeouts and limits.
type DownloadConfig struct {
	Dir                string `toml:"dir" yaml:"dir"`
	ConnectTimeout     string `toml:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout        string `toml:"read_timeout" yaml:"read_timeout"`
	ChunkSize          int    `toml:"chunk_size" yaml:"chunk_size"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	MaxFileBytes       int64  `toml:"max_file_bytes" yaml:"max_file_bytes"`
	MaxConcurrent      int64  `toml:"max_concurrent" yaml:"max_concurrent"`
}

// RelayConfig holds the optional archive destination.
type RelayConfig struct {
	ArchiveChatID string `toml:"archive_chat_id" yaml:"archive_chat_id"`
}

// SessionConfig holds session expiry and the maintenance schedule.
type SessionConfig struct {
	TTL           string `toml:"ttl" yaml:"ttl"`
	SweepSchedule string `toml:"sweep_schedule" yaml:"sweep_schedule"`
	FileMaxAge    string `toml:"file_max_age" yaml:"file_max_age"`
}

// LinkConfig holds the allow-listed link prefixes; empty uses the built-in list.
type LinkConfig struct {
	AllowedPrefixes []string `toml:"allowed_prefixes" yaml:"allowed_prefixes"`
}

// PipelineConfig selects the request flow.
type PipelineConfig struct {
	Interactive bool   `toml:"interactive" yaml:"interactive"`
	Timeout     string `toml:"timeout" yaml:"timeout"`
}

// Defaults returns the configuration used for fields missing from the file.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Telegram: TelegramConfig{
			Mode:        DefaultTelegramMode,
			WebhookPath: DefaultWebhookPath,
		},
		Resolver: ResolverConfig{
			APIKeyHeader: DefaultAPIKeyHeader,
			QueryParam:   DefaultQueryParam,
			Timeout:      DefaultResolverTimeout,
		},
		Download: DownloadConfig{
			Dir:            DefaultDownloadDir,
			ConnectTimeout: DefaultConnectTimeout,
			ReadTimeout:    DefaultReadTimeout,
			ChunkSize:      DefaultChunkSize,
			MaxConcurrent:  DefaultMaxConcurrent,
		},
		Session: SessionConfig{
			TTL:           DefaultSessionTTL,
			SweepSchedule: DefaultSweepSchedule,
			FileMaxAge:    DefaultFileMaxAge,
		},
		Pipeline: PipelineConfig{
			Interactive: true,
		},
	}
}

// Load reads the config file at path and applies default values for missing fields.
// A missing file yields the defaults. Files ending in .yaml or .yml are decoded as YAML.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	return cfg, nil
}
