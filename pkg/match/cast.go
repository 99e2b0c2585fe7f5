package match

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are tried in order when casting a value to a datetime.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FuzzyCast infers a type for a textual value. It tries bool, then
// datetime, then null, then number, and otherwise leaves the string alone.
// Integers become int64 and other numbers float64.
func FuzzyCast(s string) any {
	if b, ok := parseBool(s); ok {
		return b
	}
	if t, ok := parseTime(s); ok {
		return t
	}
	if isNull(s) {
		return nil
	}
	if n, ok := parseNumber(s); ok {
		return n
	}
	return s
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isNull(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "nil":
		return true
	}
	return false
}

func parseNumber(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, false
	}
	return f, true
}
