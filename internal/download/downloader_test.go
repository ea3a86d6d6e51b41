package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"movie.mp4":                  "movie.mp4",
		"my movie (2024).mkv":        "my movie 2024.mkv",
		"../../etc/passwd":           "....etcpasswd",
		"..":                         "download",
		"...":                        "download",
		"":                           "download",
		"///":                        "download",
		"trailing   ":                "trailing",
		"  leading":                  "  leading",
		"файл_номер 1.zip":           "файл_номер 1.zip",
		"a/b\\c:d*e?f\"g<h>i|j.txt":  "abcdefghij.txt",
		"emoji 🎬 clip.mp4":          "emoji  clip.mp4",
		"tab\tname\n.mp4":            "tabname.mp4",
		"under_score-dash.tar.gz":    "under_scoredash.tar.gz",
	}
	for input, want := range cases {
		assert.Equal(t, want, Sanitize(input), "Sanitize(%q)", input)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"movie.mp4", "  x  ", "..", "a/b/c", "名前.txt", "🎬🎬🎬", strings.Repeat("é", 300),
		strings.Repeat("a", 199) + " b", strings.Repeat(".", 250), "x\x00y",
	}
	for _, input := range inputs {
		once := Sanitize(input)
		assert.Equal(t, once, Sanitize(once), "input %q", input)
		assert.LessOrEqual(t, len(once), maxNameBytes)
	}
}

func TestCandidateName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "movie.mp4", candidateName("movie.mp4", 0))
	assert.Equal(t, "movie_1.mp4", candidateName("movie.mp4", 1))
	assert.Equal(t, "archive.tar_2.gz", candidateName("archive.tar.gz", 2))
	assert.Equal(t, "README_3", candidateName("README", 3))
	assert.Equal(t, ".mp4_1", candidateName(".mp4", 1))
}

func newDownloader(t *testing.T, cfg Config, client *http.Client) *Downloader {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	d, err := NewDownloader(nil, cfg, client)
	require.NoError(t, err)
	return d
}

func payloadServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchCollisionSequence(t *testing.T) {
	t.Parallel()

	srv := payloadServer(t, "hello world")
	d := newDownloader(t, Config{ChunkSize: 4}, srv.Client())

	var paths []string
	for i := 0; i < 3; i++ {
		path, err := d.Fetch(context.Background(), srv.URL, "movie.mp4")
		require.NoError(t, err)
		paths = append(paths, filepath.Base(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
	}
	assert.Equal(t, []string{"movie.mp4", "movie_1.mp4", "movie_2.mp4"}, paths)
}

func TestFetchConcurrentSameNameGetsDistinctPaths(t *testing.T) {
	t.Parallel()

	srv := payloadServer(t, strings.Repeat("x", 50000))
	d := newDownloader(t, Config{}, srv.Client())

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path, err := d.Fetch(context.Background(), srv.URL, "same.bin")
			if err == nil {
				results <- path
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for path := range results {
		assert.False(t, seen[path], "duplicate path %s", path)
		seen[path] = true
	}
	assert.Len(t, seen, workers)
}

func TestFetchHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	d := newDownloader(t, Config{}, srv.Client())

	_, err := d.Fetch(context.Background(), srv.URL, "x.bin")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.Status)

	entries, err := os.ReadDir(d.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := newDownloader(t, Config{ConnectTimeout: time.Second}, nil)
	_, err := d.Fetch(context.Background(), url, "x.bin")
	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestFetchTooLargeRemovesPartialFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// No Content-Length: the limit must be enforced while streaming.
		flusher := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			_, _ = w.Write([]byte(strings.Repeat("y", 1000)))
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	d := newDownloader(t, Config{MaxFileBytes: 2500, ChunkSize: 512}, srv.Client())

	_, err := d.Fetch(context.Background(), srv.URL, "big.bin")
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.True(t, errors.Is(err, ErrTooLarge))

	entries, err := os.ReadDir(d.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "partial file must be cleaned up")
}

func TestFetchDeclaredLengthTooLarge(t *testing.T) {
	t.Parallel()

	srv := payloadServer(t, strings.Repeat("z", 4096))
	d := newDownloader(t, Config{MaxFileBytes: 100}, srv.Client())

	_, err := d.Fetch(context.Background(), srv.URL, "big.bin")
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestFetchStalledTransfer(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	d := newDownloader(t, Config{ReadTimeout: 150 * time.Millisecond}, srv.Client())

	_, err := d.Fetch(context.Background(), srv.URL, "slow.bin")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, errors.Is(err, ErrStalled))

	entries, err := os.ReadDir(d.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchTLSVerification(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	t.Cleanup(srv.Close)

	strict := newDownloader(t, Config{}, nil)
	_, err := strict.Fetch(context.Background(), srv.URL, "a.txt")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr, "self-signed certificate must be rejected by default")

	lax := newDownloader(t, Config{InsecureSkipVerify: true}, nil)
	path, err := lax.Fetch(context.Background(), srv.URL, "a.txt")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "secure", string(data))
}

func TestRemoveStale(t *testing.T) {
	t.Parallel()

	d := newDownloader(t, Config{}, nil)
	oldPath := filepath.Join(d.Dir(), "old.bin")
	newPath := filepath.Join(d.Dir(), "new.bin")
	require.NoError(t, os.WriteFile(oldPath, []byte("o"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("n"), 0o644))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))
	require.NoError(t, os.Mkdir(filepath.Join(d.Dir(), "sub"), 0o755))

	removed, err := d.RemoveStale(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, newPath)
	assert.DirExists(t, filepath.Join(d.Dir(), "sub"))
}
