package relay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/terarelay/internal/channel/channeltest"
	"github.com/memohai/terarelay/internal/link"
	"github.com/memohai/terarelay/internal/resolver"
)

func TestFormatSize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   uint64
		want string
	}{
		{0, "0.00 B"},
		{1023, "1023.00 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{5 * 1024 * 1024 * 1024, "5.00 GB"},
		{1 << 40, "1.00 TB"},
		{1 << 50, "1024.00 TB"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatSize(tc.in), "FormatSize(%d)", tc.in)
	}
}

func TestTruncateCaption(t *testing.T) {
	t.Parallel()

	short := "hello"
	assert.Equal(t, short, TruncateCaption(short))

	long := strings.Repeat("é", MaxCaptionRunes+10)
	got := TruncateCaption(long)
	assert.Equal(t, MaxCaptionRunes, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.mp4")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testDelivery(path string) Delivery {
	return Delivery{
		LocalPath:     path,
		PrimaryChatID: "42",
		Requester:     "alice",
		File: resolver.File{
			DisplayName: "movie.mp4",
			SizeBytes:   1048576,
			Source:      link.Source("https://teraboxapp.com/s/abc123"),
		},
	}
}

func TestDeliverPrimaryOnly(t *testing.T) {
	t.Parallel()

	rec := channeltest.New()
	u := NewUploader(nil, rec, Config{})
	path := writeFile(t, "payload")

	res, err := u.Deliver(context.Background(), testDelivery(path))
	require.NoError(t, err)
	assert.False(t, res.Archived)
	assert.NoError(t, res.ArchiveErr)

	docs := rec.OpsOf(channeltest.OpDocument)
	require.Len(t, docs, 1)
	assert.Equal(t, "42", docs[0].ConversationID)
	assert.Equal(t, "payload", docs[0].DocumentBody)
	assert.Equal(t, "movie.mp4", docs[0].Document.Caption)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "uploader must not delete the file")
}

func TestDeliverWithArchive(t *testing.T) {
	t.Parallel()

	rec := channeltest.New()
	u := NewUploader(nil, rec, Config{ArchiveChatID: " @archive "})
	require.True(t, u.ArchiveEnabled())

	res, err := u.Deliver(context.Background(), testDelivery(writeFile(t, "x")))
	require.NoError(t, err)
	assert.True(t, res.Archived)

	archived := rec.Documents("@archive")
	require.Len(t, archived, 1)
	caption := archived[0].Document.Caption
	assert.Contains(t, caption, "movie.mp4")
	assert.Contains(t, caption, "1.00 MB")
	assert.Contains(t, caption, "https://teraboxapp.com/s/abc123")
	assert.Contains(t, caption, "alice")
}

func TestArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	rec := channeltest.New()
	rec.DocumentErrFor = map[string]error{"-100": errors.New("chat not found")}
	u := NewUploader(nil, rec, Config{ArchiveChatID: "-100"})

	res, err := u.Deliver(context.Background(), testDelivery(writeFile(t, "x")))
	require.NoError(t, err)
	assert.False(t, res.Archived)

	var archiveErr *ArchiveError
	require.ErrorAs(t, res.ArchiveErr, &archiveErr)
	assert.Equal(t, "-100", archiveErr.ChatID)
	assert.Len(t, rec.Documents("42"), 1)
}

func TestPrimaryFailureIsFatal(t *testing.T) {
	t.Parallel()

	rec := channeltest.New()
	rec.DocumentErr = errors.New("too big")
	u := NewUploader(nil, rec, Config{ArchiveChatID: "-100"})

	_, err := u.Deliver(context.Background(), testDelivery(writeFile(t, "x")))
	var deliveryErr *DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	assert.Equal(t, "42", deliveryErr.ChatID)
	assert.Empty(t, rec.OpsOf(channeltest.OpDocument), "archive must not be attempted")
}

func TestDeliverMissingFile(t *testing.T) {
	t.Parallel()

	u := NewUploader(nil, channeltest.New(), Config{})
	_, err := u.Deliver(context.Background(), testDelivery(filepath.Join(t.TempDir(), "gone")))
	var deliveryErr *DeliveryError
	assert.ErrorAs(t, err, &deliveryErr)
}
