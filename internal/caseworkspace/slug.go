package caseworkspace

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 100

// slugFallback is used when sanitization leaves nothing usable.
const slugFallback = "document"

// foldMarks decomposes accented characters and strips the combining marks,
// so "Déposition" becomes "Deposition" before ASCII filtering.
var foldMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeSlug derives a filesystem-safe folder name from an uploaded
// filename. The result contains only alphanumerics, dashes, and underscores,
// is at most 100 characters, and is never empty.
func SanitizeSlug(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	if folded, _, err := transform.String(foldMarks, base); err == nil {
		base = folded
	}

	var b strings.Builder
	lastDash := false
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			lastDash = true
		}
	}

	slug := strings.Trim(b.String(), "-_")
	slug = truncateSlug(slug, maxSlugLength)
	if slug == "" {
		return slugFallback
	}
	return slug
}

// truncateSlug cuts a slug to at most n characters without leaving a trailing
// separator.
func truncateSlug(slug string, n int) string {
	if len(slug) > n {
		slug = slug[:n]
	}
	return strings.TrimRight(slug, "-_")
}
