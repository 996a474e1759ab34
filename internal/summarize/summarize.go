// Package summarize implements spec.md §4.6: redacting secret-shaped
// arguments and truncating an argv array into a single display string safe
// to show in a confirmation dialog.
package summarize

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxLength is the display budget for a summarized command.
const MaxLength = 80

// NoSummary is returned by ParseHeader when no usable command summary is
// available.
const NoSummary = "no summary"

var (
	base64ish   = regexp.MustCompile(`^[A-Za-z0-9+/=_-]{40,}$`)
	flagKeyVal  = regexp.MustCompile(`^(--?[A-Za-z0-9][A-Za-z0-9_-]*)([=:])(.*)$`)
	sensitiveKw = []string{"password", "secret", "token", "key", "credential", "auth", "api-key", "private"}
)

// Command redacts and truncates argv into a single display string no longer
// than MaxLength runes. argv must be non-empty.
func Command(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	parts := make([]string, 0, len(argv))
	parts = append(parts, filepath.Base(argv[0]))
	for _, arg := range argv[1:] {
		parts = append(parts, redactArg(arg))
	}
	for i, p := range parts {
		parts[i] = stripControl(p)
	}
	joined := strings.Join(parts, " ")
	return truncate(joined, MaxLength)
}

func redactArg(arg string) string {
	if base64ish.MatchString(arg) {
		return "***"
	}
	if m := flagKeyVal.FindStringSubmatch(arg); m != nil {
		flag, sep := m[1], m[2]
		if isSensitiveKey(flag) {
			return flag + sep + "***"
		}
	}
	return arg
}

func isSensitiveKey(flag string) bool {
	key := strings.ToLower(strings.TrimLeft(flag, "-"))
	for _, kw := range sensitiveKw {
		if strings.Contains(key, kw) {
			return true
		}
	}
	return false
}

func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 0x00 && r <= 0x1F) || r == 0x7F {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// ParseHeaderOptional validates an optional X-Wrapped-Command header value:
// it must be JSON encoding a non-empty array of strings, per spec.md §4.3
// step 3. ok is false when the header is absent, invalid JSON, not an
// array, or contains a non-string element; callers (the gate router) must
// pass no summary to confirm in that case rather than a placeholder string.
func ParseHeaderOptional(raw string) (summary string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	var argv []string
	if err := json.Unmarshal([]byte(raw), &argv); err != nil {
		return "", false
	}
	if len(argv) == 0 {
		return "", false
	}
	return Command(argv), true
}

// ParseHeader is ParseHeaderOptional but returns the literal display string
// NoSummary instead of ok=false, per spec.md §4.6's header-parser contract.
func ParseHeader(raw string) string {
	if summary, ok := ParseHeaderOptional(raw); ok {
		return summary
	}
	return NoSummary
}
