// Package link checks user-submitted text against the allow-listed source origins.
package link

import "strings"

// Source is a link that passed validation. It is the trimmed user text, unmodified otherwise.
type Source string

// String returns the link text.
func (s Source) String() string { return string(s) }

// DefaultPrefixes are the Terabox origins accepted when the config does not override them.
var DefaultPrefixes = []string{
	"https://1024terabox.com",
	"https://www.1024terabox.com",
	"https://terabox.com",
	"https://www.terabox.com",
	"https://nd.terabox.com",
	"https://teraboxapp.com",
	"https://www.teraboxapp.com",
	"https://terabox.app",
	"https://www.terabox.app",
	"https://teraboxlink.com",
	"https://terasharelink.com",
}

// Validator is a pure, case-sensitive prefix check. It never normalizes the candidate
// beyond trimming surrounding whitespace.
type Validator struct {
	prefixes []string
}

// NewValidator copies the non-empty prefixes; an empty list falls back to DefaultPrefixes.
func NewValidator(prefixes []string) *Validator {
	items := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		items = append(items, p)
	}
	if len(items) == 0 {
		items = append(items, DefaultPrefixes...)
	}
	return &Validator{prefixes: items}
}

// IsValid reports whether the trimmed candidate starts with an allowed prefix.
func (v *Validator) IsValid(candidate string) bool {
	_, ok := v.Accept(candidate)
	return ok
}

// Accept returns the trimmed candidate as a Source when it is valid.
func (v *Validator) Accept(candidate string) (Source, bool) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return "", false
	}
	for _, prefix := range v.prefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return Source(trimmed), true
		}
	}
	return "", false
}

// Prefixes returns a copy of the configured prefixes.
func (v *Validator) Prefixes() []string {
	out := make([]string, len(v.prefixes))
	copy(out, v.prefixes)
	return out
}
