package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns the hex-encoded SHA-256 of content after whitespace
// normalization. Incidental server formatting changes (re-indented markup,
// collapsed blank lines, trailing spaces) produce the same digest, so a page
// is only treated as changed when its visible content changed.
func Fingerprint(content []byte) string {
	h := sha256.Sum256([]byte(normalizeWhitespace(string(content))))
	return hex.EncodeToString(h[:])
}

// SnippetFingerprint returns the hex-encoded SHA-256 of the trimmed code body.
// Used to collapse repeated extraction of the same block within one document.
func SnippetFingerprint(code string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(h[:])
}

// normalizeWhitespace collapses runs of spaces and tabs to a single space,
// strips trailing whitespace per line, and drops blank lines.
func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, line := range strings.Split(s, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		b.WriteString(strings.Join(fields, " "))
		b.WriteByte('\n')
	}
	return b.String()
}
