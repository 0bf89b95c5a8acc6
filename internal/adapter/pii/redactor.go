package pii

import (
	"regexp"
	"strings"
)

const RedactedPlaceholder = "[REDACTED]"

var panPattern = regexp.MustCompile(`\d{13,19}`)

// Redactor masks card data before it reaches log output.
type Redactor struct {
	fieldPattern *regexp.Regexp // nil when no fields are configured
}

// NewRedactor creates a Redactor that blanks the given JSON string fields
// in addition to masking anything shaped like a card number.
func NewRedactor(fields []string) *Redactor {
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(f))
	}

	r := &Redactor{}
	if len(quoted) > 0 {
		r.fieldPattern = regexp.MustCompile(`"(` + strings.Join(quoted, "|") + `)"\s*:\s*"[^"]*"`)
	}
	return r
}

// MaskKey keeps the first six and last four digits of a card number.
// Short values keep only their last two characters.
func MaskKey(key string) string {
	n := len(key)
	switch {
	case n == 0:
		return ""
	case n >= 13:
		return key[:6] + strings.Repeat("*", n-10) + key[n-4:]
	case n > 2:
		return strings.Repeat("*", n-2) + key[n-2:]
	default:
		return strings.Repeat("*", n)
	}
}

// RedactLine masks card numbers and blanks sensitive fields in a raw log line.
// It works on text, so it also handles lines that are not valid JSON.
func (r *Redactor) RedactLine(line string) string {
	if r.fieldPattern != nil {
		line = r.fieldPattern.ReplaceAllString(line, `"$1":"`+RedactedPlaceholder+`"`)
	}
	return panPattern.ReplaceAllStringFunc(line, MaskKey)
}
