package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/memohai/terarelay/internal/link"
)

// PlaceholderName is used when the upstream response has no file name.
const PlaceholderName = "Unknown file"

// VariantKind identifies one of the alternative download URLs of a file.
type VariantKind string

const (
	VariantDirect VariantKind = "direct"
	VariantFast   VariantKind = "fast"
)

// Label is the human-readable button label of the variant.
func (k VariantKind) Label() string {
	switch k {
	case VariantDirect:
		return "Direct"
	case VariantFast:
		return "Fast"
	default:
		return string(k)
	}
}

// Valid reports whether k is a known variant.
func (k VariantKind) Valid() bool {
	return k == VariantDirect || k == VariantFast
}

// ParseVariantKind converts a raw value to a VariantKind.
func ParseVariantKind(raw string) (VariantKind, error) {
	kind := VariantKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown variant: %q", raw)
	}
	return kind, nil
}

// Variant is one download URL offered for a file.
type Variant struct {
	Kind  VariantKind `json:"kind"`
	Label string      `json:"label"`
	URL   string      `json:"url"`
}

// File is the normalized resolution result. It is never mutated after Resolve returns it.
type File struct {
	DisplayName  string      `json:"display_name"`
	SizeBytes    uint64      `json:"size_bytes"`
	Variants     []Variant   `json:"variants"`
	ThumbnailURL string      `json:"thumbnail_url,omitempty"`
	Source       link.Source `json:"source"`
}

// Variant returns the variant of the given kind.
func (f File) Variant(kind VariantKind) (Variant, bool) {
	for _, v := range f.Variants {
		if v.Kind == kind {
			return v, true
		}
	}
	return Variant{}, false
}

// First returns the first available variant in offer order.
func (f File) First() (Variant, bool) {
	if len(f.Variants) == 0 {
		return Variant{}, false
	}
	return f.Variants[0], true
}

// ErrNoVariant is returned when the upstream response parsed but offers no usable download URL.
var ErrNoVariant = errors.New("resolver: no usable download variant")

// HTTPError is returned for a non-success upstream status.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("resolver: upstream returned status %d", e.Status)
	}
	return fmt.Sprintf("resolver: upstream returned status %d: %s", e.Status, e.Body)
}

// FormatError is returned when the upstream body is not the expected JSON document.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("resolver: unexpected response format: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }
