package match

import (
	"errors"
	"fmt"
	"strings"
)

// Operator is a comparison token in a match expression.
type Operator string

const (
	OpEqual           Operator = "=="
	OpGreaterEqual    Operator = ">="
	OpGreaterEqualAlt Operator = "=>"
	OpLessEqual       Operator = "<="
	OpLessEqualAlt    Operator = "=<"
	OpNotEqual        Operator = "!="
	OpGreater         Operator = ">"
	OpLess            Operator = "<"
	OpContains        Operator = "="
)

// operators is ordered longest first so that splitting on the detected
// operator never breaks a compound operator into two single ones.
var operators = []Operator{
	OpEqual,
	OpGreaterEqual,
	OpGreaterEqualAlt,
	OpLessEqual,
	OpLessEqualAlt,
	OpNotEqual,
	OpGreater,
	OpLess,
	OpContains,
}

// ErrNoOperator is returned when an expression contains none of the operators.
var ErrNoOperator = errors.New("match: no valid operator found")

// SyntaxError reports an expression that could not be parsed.
// It is a client-input error.
type SyntaxError struct {
	Syntax string
}

func (e *SyntaxError) Error() string {
	valid := make([]string, len(operators))
	for i, op := range operators {
		valid[i] = string(op)
	}
	return fmt.Sprintf("match: no valid operator found in %q; valid operators are: %s",
		e.Syntax, strings.Join(valid, ", "))
}

func (e *SyntaxError) Unwrap() error { return ErrNoOperator }

// IsSyntaxError reports whether err came from parsing a match expression.
func IsSyntaxError(err error) bool {
	var syntaxErr *SyntaxError
	return errors.As(err, &syntaxErr)
}

// DetectOperator returns the first operator, longest first, found in syntax.
func DetectOperator(syntax string) (Operator, error) {
	for _, op := range operators {
		if strings.Contains(syntax, string(op)) {
			return op, nil
		}
	}
	return "", &SyntaxError{Syntax: syntax}
}

// normalize folds the alternate spellings onto their canonical operator.
func (o Operator) normalize() Operator {
	switch o {
	case OpGreaterEqualAlt:
		return OpGreaterEqual
	case OpLessEqualAlt:
		return OpLessEqual
	default:
		return o
	}
}
