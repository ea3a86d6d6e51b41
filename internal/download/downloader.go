// Package download streams a resolved variant URL to a collision-safe local file.
package download

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

const (
	DefaultChunkSize      = 8192
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// Config controls the download directory, timeouts and TLS behavior.
type Config struct {
	Dir            string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	ChunkSize      int
	// InsecureSkipVerify disables certificate verification for variant URLs.
	InsecureSkipVerify bool
	// MaxFileBytes rejects bodies larger than this when > 0.
	MaxFileBytes int64
}

// Downloader fetches files over HTTP. It is safe for concurrent use; concurrent fetches of the
// same name never share a path.
type Downloader struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewDownloader creates the download directory and an HTTP client honoring cfg. A non-nil
// httpClient replaces the built-in one (its transport settings then apply instead).
func NewDownloader(log *slog.Logger, cfg Config, httpClient *http.Client) (*Downloader, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "download"))
	if cfg.Dir == "" {
		return nil, errors.New("download dir is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	if cfg.InsecureSkipVerify {
		log.Warn("TLS certificate verification is DISABLED for downloads; variant URLs can be intercepted",
			slog.String("setting", "download.insecure_skip_verify"))
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: newTransport(cfg)}
	}
	return &Downloader{cfg: cfg, client: httpClient, logger: log}, nil
}

func newTransport(cfg Config) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicit operator opt-in, logged at startup
		},
	}
}

// Dir returns the download directory.
func (d *Downloader) Dir() string { return d.cfg.Dir }

// Fetch streams sourceURL into the download dir under the sanitized suggestedName and returns
// the final path. The caller owns deleting the file. Partial files are removed on failure.
func (d *Downloader) Fetch(ctx context.Context, sourceURL, suggestedName string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("build request: %w", err)}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{Status: resp.StatusCode}
	}
	if d.cfg.MaxFileBytes > 0 && resp.ContentLength > d.cfg.MaxFileBytes {
		return "", &IOError{Op: "check size", Err: ErrTooLarge}
	}

	f, path, err := createUnique(d.cfg.Dir, Sanitize(suggestedName))
	if err != nil {
		return "", &IOError{Op: "create", Path: path, Err: err}
	}

	var stalled atomic.Bool
	timer := time.AfterFunc(d.cfg.ReadTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	written, copyErr := d.copyChunks(f, &idleReader{r: resp.Body, timer: timer, timeout: d.cfg.ReadTimeout})
	timer.Stop()
	closeErr := f.Close()

	if copyErr == nil && closeErr != nil {
		copyErr = &IOError{Op: "close", Path: path, Err: closeErr}
	}
	if copyErr != nil {
		var netErr *NetworkError
		if stalled.Load() && errors.As(copyErr, &netErr) {
			copyErr = &NetworkError{Err: fmt.Errorf("%w after %s without data", ErrStalled, d.cfg.ReadTimeout)}
		}
		d.removePartial(path)
		return "", copyErr
	}
	d.logger.Info("download complete", slog.String("path", path), slog.Int64("bytes", written))
	return path, nil
}

// copyChunks moves the body to disk one chunk at a time, classifying read and write failures.
func (d *Downloader) copyChunks(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, d.cfg.ChunkSize)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if d.cfg.MaxFileBytes > 0 && written+int64(n) > d.cfg.MaxFileBytes {
				return written, &IOError{Op: "write", Err: ErrTooLarge}
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, &IOError{Op: "write", Err: err}
			}
			written += int64(n)
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, &NetworkError{Err: readErr}
		}
	}
}

func (d *Downloader) removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("remove partial download failed", slog.String("path", path), slog.Any("error", err))
	}
}

// RemoveStale deletes regular files in the download dir last modified before now-olderThan.
// It returns how many files were removed.
func (d *Downloader) RemoveStale(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(d.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("read download dir: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(d.cfg.Dir, entry.Name())
		if err := os.Remove(path); err != nil {
			d.logger.Warn("remove stale file failed", slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
	}
	return removed, nil
}

// idleReader pushes the stall deadline forward whenever bytes arrive.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}
