package match

import (
	"strings"
)

// Expression is one parsed filter such as "age>=30".
type Expression struct {
	Syntax   string
	Key      string
	Operator Operator
	// Raw is the trimmed right-hand side before casting.
	Raw   string
	Value any
}

// Parse splits syntax on its operator and fuzzy casts the value.
func Parse(syntax string) (*Expression, error) {
	op, err := DetectOperator(syntax)
	if err != nil {
		return nil, err
	}

	key, raw, _ := strings.Cut(syntax, string(op))
	raw = strings.TrimSpace(raw)

	return &Expression{
		Syntax:   syntax,
		Key:      strings.TrimSpace(key),
		Operator: op,
		Raw:      raw,
		Value:    FuzzyCast(raw),
	}, nil
}

// MustParse is like Parse but panics on a syntax error.
func MustParse(syntax string) *Expression {
	e, err := Parse(syntax)
	if err != nil {
		panic(err)
	}
	return e
}

// Predicate renders the expression as a document-store predicate.
// A null value always renders as a null equality on the key.
func (e *Expression) Predicate() map[string]any {
	if e.Value == nil {
		return map[string]any{e.Key: nil}
	}

	switch e.Operator.normalize() {
	case OpContains:
		return e.regexMatch()
	case OpNotEqual:
		// Negates the contains predicate, not the equality.
		return map[string]any{"$not": e.regexMatch()}
	case OpEqual:
		return map[string]any{e.Key: e.Value}
	case OpGreaterEqual:
		return map[string]any{e.Key: map[string]any{"$gte": e.Value}}
	case OpLessEqual:
		return map[string]any{e.Key: map[string]any{"$lte": e.Value}}
	case OpGreater:
		return map[string]any{e.Key: map[string]any{"$gt": e.Value}}
	case OpLess:
		return map[string]any{e.Key: map[string]any{"$lt": e.Value}}
	}
	return nil
}

// IsExpr reports whether the rendered predicate is an expression-style
// comparison that must live under $expr.
func (e *Expression) IsExpr() bool {
	for k := range e.Predicate() {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func (e *Expression) regexMatch() map[string]any {
	return map[string]any{
		"$regexMatch": map[string]any{
			"input":   map[string]any{"$toString": "$" + e.Key},
			"regex":   e.Raw,
			"options": "i",
		},
	}
}

// String returns the normalized syntax.
func (e *Expression) String() string {
	return e.Key + string(e.Operator) + e.Raw
}
