// Package security provides validation, sanitization, and limits for the outbox package.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/durable-outbox/pkg/core"
)

// Security limits and configuration
const (
	// MaxTargetLength is the maximum length for RPC and table names
	MaxTargetLength = 255

	// MaxArgsSize is the maximum size in bytes for serialized mutation arguments (1MB)
	MaxArgsSize = 1 << 20

	// MaxAttempts is the hard limit for the dead-letter threshold
	MaxAttempts = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxListLimit caps page sizes for list endpoints
	MaxListLimit = 1000
)

// validTarget matches PostgREST-style identifiers, optionally schema-qualified
var validTarget = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_\-]*(\.[a-zA-Z_][a-zA-Z0-9_\-]*)?$`)

// ValidateTarget validates an RPC function or table name
func ValidateTarget(name string) error {
	if name == "" {
		return core.ErrInvalidTarget
	}
	if len(name) > MaxTargetLength {
		return core.ErrTargetTooLong
	}
	if !validTarget.MatchString(name) {
		return core.ErrInvalidTarget
	}
	return nil
}

// ValidateArgsSize enforces MaxArgsSize on serialized arguments
func ValidateArgsSize(args []byte) error {
	if len(args) > MaxArgsSize {
		return core.ErrArgsTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampAttempts keeps the dead-letter threshold within limits. Zero disables
// dead-lettering.
func ClampAttempts(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// ClampLimit normalizes a list page size, substituting def for non-positive values
func ClampLimit(n, def int) int {
	if n <= 0 {
		n = def
	}
	if n > MaxListLimit {
		return MaxListLimit
	}
	return n
}
