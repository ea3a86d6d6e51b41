// Package resolver calls the external metadata API that turns a share link into download variants.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/memohai/terarelay/internal/link"
)

const (
	defaultQueryParam   = "url"
	defaultAPIKeyHeader = "x-api-key"
	defaultTimeout      = 30 * time.Second
	maxBodyBytes        = 1 << 20
	maxErrorBodyBytes   = 512
)

// Config describes the resolution endpoint of a deployment.
type Config struct {
	Endpoint     string
	APIKey       string
	APIKeyHeader string
	QueryParam   string
	Headers      map[string]string
	Timeout      time.Duration
}

// Client resolves share links. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a resolver. httpClient may be nil.
func NewClient(log *slog.Logger, cfg Config, httpClient *http.Client) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("resolver endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid resolver endpoint: %w", err)
	}
	cfg.Endpoint = endpoint
	if strings.TrimSpace(cfg.QueryParam) == "" {
		cfg.QueryParam = defaultQueryParam
	}
	if strings.TrimSpace(cfg.APIKeyHeader) == "" {
		cfg.APIKeyHeader = defaultAPIKeyHeader
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: log.With(slog.String("component", "resolver")),
	}, nil
}

// Resolve issues one GET for src and normalizes the response. It never retries and does not
// touch session state.
func (c *Client) Resolve(ctx context.Context, src link.Source) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(src), nil)
	if err != nil {
		return File{}, fmt.Errorf("build resolver request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return File{}, fmt.Errorf("resolver request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return File{}, fmt.Errorf("read resolver response: %w", err)
	}
	c.logger.Debug("resolver response",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("latency", time.Since(start)),
	)
	if resp.StatusCode != http.StatusOK {
		return File{}, &HTTPError{Status: resp.StatusCode, Body: truncate(strings.TrimSpace(string(body)), maxErrorBodyBytes)}
	}
	return Parse(body, src)
}

func (c *Client) requestURL(src link.Source) string {
	sep := "?"
	if strings.Contains(c.cfg.Endpoint, "?") {
		sep = "&"
	}
	return c.cfg.Endpoint + sep + url.QueryEscape(c.cfg.QueryParam) + "=" + url.QueryEscape(src.String())
}

// payload mirrors the upstream document; every field is optional and loosely typed.
type payload struct {
	FileName  any `json:"file_name"`
	SizeBytes any `json:"sizebytes"`
	Link      any `json:"link"`
	FastLink  any `json:"fastlink"`
	Thumbnail any `json:"thumbnail"`
}

// Parse normalizes an upstream body. Missing fields get defaults: placeholder name, size 0,
// unavailable variants omitted.
func Parse(body []byte, src link.Source) (File, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return File{}, &FormatError{Err: errors.New("empty body")}
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return File{}, &FormatError{Err: err}
		}
		if len(items) == 0 {
			return File{}, ErrNoVariant
		}
		trimmed = items[0]
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return File{}, &FormatError{Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return File{}, &FormatError{Err: errors.New("trailing data after JSON value")}
	}

	file := File{
		DisplayName:  stringField(p.FileName),
		SizeBytes:    sizeField(p.SizeBytes),
		ThumbnailURL: urlField(p.Thumbnail),
		Source:       src,
	}
	if file.DisplayName == "" {
		file.DisplayName = PlaceholderName
	}
	if u := urlField(p.Link); u != "" {
		file.Variants = append(file.Variants, Variant{Kind: VariantDirect, Label: VariantDirect.Label(), URL: u})
	}
	if u := urlField(p.FastLink); u != "" {
		file.Variants = append(file.Variants, Variant{Kind: VariantFast, Label: VariantFast.Label(), URL: u})
	}
	if len(file.Variants) == 0 {
		return File{}, ErrNoVariant
	}
	return file, nil
}

func stringField(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func urlField(v any) string {
	raw := stringField(v)
	if raw == "" || strings.EqualFold(raw, "N/A") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return raw
}

func sizeField(v any) uint64 {
	var raw string
	switch value := v.(type) {
	case json.Number:
		raw = value.String()
	case string:
		raw = strings.TrimSpace(value)
	default:
		return 0
	}
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f <= 0 || f >= math.MaxUint64 {
		return 0
	}
	return uint64(f)
}

// truncate cuts s to at most limit bytes on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
