package adapterutil

import (
	"strings"
	"testing"
)

func TestSummarizeText(t *testing.T) {
	t.Parallel()

	if got := SummarizeText("  "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := SummarizeText("a\n b\tc"); got != "a b c" {
		t.Fatalf("expected collapsed whitespace, got %q", got)
	}
	long := strings.Repeat("ж", 200)
	got := SummarizeText(long)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != 123 {
		t.Fatalf("unexpected summary %q", got)
	}
}
