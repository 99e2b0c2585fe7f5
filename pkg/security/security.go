package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

// Security limits and configuration
const (
	// MaxNameLength is the maximum length for template, category, and task names
	MaxNameLength = 255

	// MaxConfigSize is the maximum size in bytes for a queued task config (1MB)
	MaxConfigSize = 1 << 20

	// MaxPriority is the highest (least urgent) priority bucket
	MaxPriority = 1000

	// MaxConcurrency is the hard limit for dispatcher concurrency
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxIDLength is the maximum length for record identifiers
	MaxIDLength = 128
)

// validName matches alphanumeric, hyphens, underscores, and dots
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// validID rejects glob metacharacters so an id can be embedded in a scan pattern.
var validID = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

// ValidateName validates a template, category, or function name
func ValidateName(name string) error {
	if name == "" {
		return core.ErrInvalidName
	}
	if len(name) > MaxNameLength {
		return core.ErrNameTooLong
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidName
	}
	return nil
}

// ValidateID validates a chain or record identifier used in key patterns
func ValidateID(id string) error {
	if id == "" || len(id) > MaxIDLength {
		return core.ErrInvalidID
	}
	if !validID.MatchString(id) {
		return core.ErrInvalidID
	}
	return nil
}

// ValidatePriority validates a queue priority
func ValidatePriority(p int) error {
	if p < 0 || p > MaxPriority {
		return core.ErrInvalidPriority
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

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// ClampPriority ensures a priority bucket is within limits
func ClampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
