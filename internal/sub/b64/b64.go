// Package b64 detects and reverses base64 encoding of a whole subscription payload.
package b64

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var alphabet = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// minLen is the shortest trimmed payload still considered base64.
const minLen = 20

// IsBase64 reports whether s looks like a base64 blob. The checks run in a
// fixed order; the first one that fails decides.
func IsBase64(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}

	if strings.Contains(trimmed, "://") || strings.Contains(trimmed, "\n") {
		for _, line := range strings.Split(trimmed, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if strings.Contains(line, "://") {
				return false
			}
		}
	}

	if len(trimmed) < minLen {
		return false
	}
	if !alphabet.MatchString(trimmed) {
		return false
	}

	decoded, err := Decode(trimmed)
	if err != nil {
		return false
	}
	return decoded != "" && !strings.ContainsRune(decoded, '\uFFFD')
}

// Decode accepts standard and URL-safe alphabets, with or without padding.
// Invalid UTF-8 sequences in the result are replaced with U+FFFD.
func Decode(s string) (string, error) {
	normalized := removeSpaceTabCRLF(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "+", "_", "/").Replace(normalized)
	if pad := len(normalized) % 4; pad != 0 {
		normalized += strings.Repeat("=", 4-pad)
	}

	b, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), "\uFFFD"), nil
}

// AutoDecode returns the decoded payload when s is base64, otherwise the
// trimmed input. It never fails.
func AutoDecode(s string) string {
	trimmed := strings.TrimSpace(stripUTF8BOM(s))
	if !IsBase64(trimmed) {
		return trimmed
	}
	decoded, err := Decode(trimmed)
	if err != nil {
		return trimmed
	}
	return decoded
}

func removeSpaceTabCRLF(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func stripUTF8BOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
