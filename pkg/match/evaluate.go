package match

import (
	"cmp"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Lookup resolves a dotted key against a record. A literal key containing
// dots (a flattened record) wins over path traversal.
func Lookup(record map[string]any, key string) (any, bool) {
	if v, ok := record[key]; ok {
		return v, true
	}
	var cur any = record
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matches evaluates the expression against a record locally, with the same
// semantics as the rendered predicate. The record value is cast to the kind
// of the match value before comparing; values that cannot be cast never match.
func (e *Expression) Matches(record map[string]any) (bool, error) {
	actual, _ := Lookup(record, e.Key)
	op := e.Operator.normalize()

	if e.Value == nil {
		return actual == nil, nil
	}

	if op == OpContains || op == OpNotEqual {
		re, err := regexp.Compile("(?i)" + e.Raw)
		if err != nil {
			return false, fmt.Errorf("match: invalid pattern in %q: %w", e.Syntax, err)
		}
		found := actual != nil && re.MatchString(stringify(actual))
		if op == OpNotEqual {
			return !found, nil
		}
		return found, nil
	}

	c, ok := compareTo(actual, e.Value)
	if !ok {
		return false, nil
	}

	switch op {
	case OpEqual:
		return c == 0, nil
	case OpGreaterEqual:
		return c >= 0, nil
	case OpLessEqual:
		return c <= 0, nil
	case OpGreater:
		return c > 0, nil
	case OpLess:
		return c < 0, nil
	}
	return false, nil
}

// compareTo compares actual against want after casting actual to want's kind.
func compareTo(actual, want any) (int, bool) {
	if actual == nil {
		return 0, false
	}
	switch w := want.(type) {
	case bool:
		a, ok := toBool(actual)
		if !ok {
			return 0, false
		}
		return cmpBool(a, w), true
	case time.Time:
		a, ok := toTime(actual)
		if !ok {
			return 0, false
		}
		return a.Compare(w), true
	case int64:
		a, ok := toFloat(actual)
		if !ok {
			return 0, false
		}
		return cmp.Compare(a, float64(w)), true
	case float64:
		a, ok := toFloat(actual)
		if !ok {
			return 0, false
		}
		return cmp.Compare(a, w), true
	case string:
		return strings.Compare(stringify(actual), w), true
	}
	return 0, false
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		return parseBool(x)
	}
	return false, false
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		return parseTime(x)
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Matches reports whether every expression in the set holds.
func (s *Set) Matches(record map[string]any) (bool, error) {
	for _, e := range s.Expressions {
		ok, err := e.Matches(record)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Matches reports whether any set holds. No sets match everything.
func (ss Sets) Matches(record map[string]any) (bool, error) {
	if len(ss) == 0 {
		return true, nil
	}
	for _, s := range ss {
		ok, err := s.Matches(record)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Filter returns the records that match ss, in order.
func (ss Sets) Filter(records []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		ok, err := ss.Matches(r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
