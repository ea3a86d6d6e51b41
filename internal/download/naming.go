package download

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	fallbackName       = "download"
	maxNameBytes       = 200
	maxCollisionProbes = 10000
)

// Sanitize keeps letters, digits, spaces, periods and underscores, strips trailing whitespace
// and caps the length. Names that end up empty or made only of dots become "download".
// Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == ' ' || r == '.' || r == '_' {
			b.WriteRune(r)
		}
	}
	out := strings.TrimRight(b.String(), " ")
	if len(out) > maxNameBytes {
		out = strings.TrimRight(truncateRunes(out, maxNameBytes), " ")
	}
	if strings.Trim(out, ".") == "" {
		return fallbackName
	}
	return out
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// candidateName returns name for attempt 0 and "base_N.ext" afterwards.
func candidateName(name string, attempt int) string {
	if attempt == 0 {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base, ext = name, ""
	}
	return fmt.Sprintf("%s_%d%s", base, attempt, ext)
}

// createUnique atomically creates the first free candidate path in dir. O_EXCL makes the
// create-or-retry loop safe against concurrent requests targeting the same name.
func createUnique(dir, name string) (*os.File, string, error) {
	for attempt := 0; attempt < maxCollisionProbes; attempt++ {
		path := filepath.Join(dir, candidateName(name, attempt))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return nil, path, err
	}
	return nil, "", fmt.Errorf("no free file name for %q after %d attempts", name, maxCollisionProbes)
}
