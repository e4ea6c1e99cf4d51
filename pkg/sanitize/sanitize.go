// Package sanitize implements the anti-injection string sanitizer and the
// metadata shape validator shared by the domain model and the provider
// layer. It is grounded on the teacher's gin middleware validation rules
// (regex-based field validation plus an explicit "safe text" allowlist)
// generalized from an HTTP-body validator into a plain string/value
// validator with no HTTP dependency.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
)

var (
	sqlKeywords = regexp.MustCompile(`(?i)\b(select|insert|update|delete|drop|union|exec|execute|alter|create|truncate)\b.{0,40}\b(from|into|table|where|database)\b`)
	htmlMarkers = regexp.MustCompile(`(?i)<\s*(script|iframe|img|svg|object|embed)\b|javascript:|on\w+\s*=`)
	shellMeta   = regexp.MustCompile("[;&|" + "`" + `$(){}<>]`)
	pathTraversal = regexp.MustCompile(`\.\.[/\\]`)
)

// String validates s against length caps and the anti-injection rules §7
// requires for plan id/name/description, user_id, and feature. It returns
// the trimmed string on success.
func String(field, s string, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed != s {
		return "", payerrors.Validation(field, s, "must not have leading or trailing whitespace")
	}
	if trimmed == "" {
		return "", payerrors.Validation(field, s, "must not be empty")
	}
	if maxLen > 0 && len([]rune(trimmed)) > maxLen {
		return "", payerrors.Validation(field, s, fmt.Sprintf("must be at most %d characters", maxLen))
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) || r == 0 {
			return "", payerrors.Validation(field, s, "must not contain control characters")
		}
	}
	if sqlKeywords.MatchString(trimmed) {
		return "", payerrors.Validation(field, s, "must not contain SQL keyword sequences")
	}
	if htmlMarkers.MatchString(trimmed) {
		return "", payerrors.Validation(field, s, "must not contain HTML/JS markers")
	}
	if shellMeta.MatchString(trimmed) {
		return "", payerrors.Validation(field, s, "must not contain shell metacharacters")
	}
	if pathTraversal.MatchString(trimmed) {
		return "", payerrors.Validation(field, s, "must not contain path-traversal fragments")
	}
	return trimmed, nil
}

// OptionalString runs String only when s is non-empty.
func OptionalString(field, s string, maxLen int) (string, error) {
	if s == "" {
		return "", nil
	}
	return String(field, s, maxLen)
}
