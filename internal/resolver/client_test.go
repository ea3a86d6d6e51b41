package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/terarelay/internal/link"
)

const testLink = link.Source("https://teraboxapp.com/s/abc123")

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(nil, Config{
		Endpoint:     srv.URL + "/api",
		APIKey:       "secret",
		APIKeyHeader: "x-rapidapi-key",
		Headers:      map[string]string{"x-rapidapi-host": "example"},
	}, srv.Client())
	require.NoError(t, err)
	return c
}

func TestResolveSendsLinkAndKey(t *testing.T) {
	t.Parallel()

	var gotURL, gotKey, gotHost string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		gotKey = r.Header.Get("x-rapidapi-key")
		gotHost = r.Header.Get("x-rapidapi-host")
		_, _ = w.Write([]byte(`{"file_name":"movie.mp4","sizebytes":1048576,"link":"http://x/d","fastlink":"N/A"}`))
	})

	file, err := c.Resolve(context.Background(), link.Source("https://teraboxapp.com/s/abc?x=1&y=2"))
	require.NoError(t, err)
	assert.Equal(t, "https://teraboxapp.com/s/abc?x=1&y=2", gotURL)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "example", gotHost)

	assert.Equal(t, "movie.mp4", file.DisplayName)
	assert.Equal(t, uint64(1048576), file.SizeBytes)
	require.Len(t, file.Variants, 1)
	assert.Equal(t, VariantDirect, file.Variants[0].Kind)
	assert.Equal(t, "http://x/d", file.Variants[0].URL)
	assert.Equal(t, link.Source("https://teraboxapp.com/s/abc?x=1&y=2"), file.Source)
}

func TestResolveNonSuccessStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
		})
		_, err := c.Resolve(context.Background(), testLink)
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, status, httpErr.Status)
		assert.Contains(t, httpErr.Body, "nope")
	}

	// Only 200 counts as success, even when the body would parse.
	for _, status := range []int{http.StatusCreated, http.StatusAccepted, http.StatusNoContent, http.StatusPartialContent} {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"file_name":"a","link":"http://x/d"}`))
		})
		_, err := c.Resolve(context.Background(), testLink)
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr, "status %d", status)
		assert.Equal(t, status, httpErr.Status)
	}
}

func TestResolveErrorBodyCutOnRuneBoundary(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("é", maxErrorBodyBytes)
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	})
	_, err := c.Resolve(context.Background(), testLink)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.True(t, utf8.ValidString(httpErr.Body), "body %q", httpErr.Body)
	assert.True(t, strings.HasSuffix(httpErr.Body, "..."))
	assert.LessOrEqual(t, len(httpErr.Body), maxErrorBodyBytes+len("..."))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a...", truncate("aé", 2))
	assert.Equal(t, "aé...", truncate("aéb", 3))
}

func TestResolveFormatError(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"<html>oops</html>", "", `"just a string"`, `{"file_name":`, `[1,`,
		`{"link":"http://x/d"} this is not json`, `{"link":"http://x/d"}{"link":"http://x/f"}`, `[{"link":"http://x/d"}] trailing`} {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := c.Resolve(context.Background(), testLink)
		var formatErr *FormatError
		assert.ErrorAs(t, err, &formatErr, "body %q", body)
	}
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	file, err := Parse([]byte(`{"link":"https://cdn.example/d"}`), testLink)
	require.NoError(t, err)
	assert.Equal(t, PlaceholderName, file.DisplayName)
	assert.Zero(t, file.SizeBytes)
	assert.Empty(t, file.ThumbnailURL)
	require.Len(t, file.Variants, 1)

	file, err = Parse([]byte(`{"fastlink":"https://fast.example/d","file_name":"  ","sizebytes":"garbage","thumbnail":42}`), testLink)
	require.NoError(t, err)
	assert.Equal(t, PlaceholderName, file.DisplayName)
	assert.Zero(t, file.SizeBytes)
	require.Len(t, file.Variants, 1)
	assert.Equal(t, VariantFast, file.Variants[0].Kind)
}

func TestParseBothVariantsInOrder(t *testing.T) {
	t.Parallel()

	file, err := Parse([]byte(`[{"file_name":"a.zip","sizebytes":"2048","link":"https://d/1","fastlink":"https://f/1","thumbnail":"https://t/1.jpg"}]`), testLink)
	require.NoError(t, err)
	assert.Equal(t, uint64(2048), file.SizeBytes)
	assert.Equal(t, "https://t/1.jpg", file.ThumbnailURL)
	require.Len(t, file.Variants, 2)
	assert.Equal(t, VariantDirect, file.Variants[0].Kind)
	assert.Equal(t, VariantFast, file.Variants[1].Kind)

	first, ok := file.First()
	require.True(t, ok)
	assert.Equal(t, "https://d/1", first.URL)
	fast, ok := file.Variant(VariantFast)
	require.True(t, ok)
	assert.Equal(t, "https://f/1", fast.URL)
}

func TestParseNoVariant(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		`{}`,
		`null`,
		`[]`,
		`{"file_name":"x","link":"N/A","fastlink":"n/a"}`,
		`{"link":"ftp://host/file","fastlink":"not a url"}`,
		`{"link":123}`,
	} {
		_, err := Parse([]byte(body), testLink)
		assert.True(t, errors.Is(err, ErrNoVariant), "body %s: got %v", body, err)
	}
}

func TestParseVariantKind(t *testing.T) {
	t.Parallel()

	kind, err := ParseVariantKind(" Fast ")
	require.NoError(t, err)
	assert.Equal(t, VariantFast, kind)
	_, err = ParseVariantKind("slow")
	assert.Error(t, err)
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil, Config{}, nil)
	assert.Error(t, err)
	_, err = NewClient(nil, Config{Endpoint: "not a url"}, nil)
	assert.Error(t, err)
}
