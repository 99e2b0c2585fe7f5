package match

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_OperatorsLongestFirst(t *testing.T) {
	tests := []struct {
		syntax string
		key    string
		op     Operator
		value  any
	}{
		{"age>=30", "age", OpGreaterEqual, int64(30)},
		{"age=>30", "age", OpGreaterEqualAlt, int64(30)},
		{"age<=30", "age", OpLessEqual, int64(30)},
		{"age=<30", "age", OpLessEqualAlt, int64(30)},
		{"age>30", "age", OpGreater, int64(30)},
		{"age<30", "age", OpLess, int64(30)},
		{"name=fiona", "name", OpContains, "fiona"},
		{"name!=fiona", "name", OpNotEqual, "fiona"},
		{"active==true", "active", OpEqual, true},
		{" size == 1.5 ", "size", OpEqual, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.syntax, func(t *testing.T) {
			e, err := Parse(tt.syntax)
			require.NoError(t, err)
			assert.Equal(t, tt.key, e.Key)
			assert.Equal(t, tt.op, e.Operator)
			assert.Equal(t, tt.value, e.Value)
		})
	}
}

func TestParse_SplitsOnFirstOccurrenceOnly(t *testing.T) {
	e, err := Parse("url==a==b")
	require.NoError(t, err)
	assert.Equal(t, "url", e.Key)
	assert.Equal(t, "a==b", e.Raw)
}

func TestParse_NoOperator(t *testing.T) {
	_, err := Parse("just a phrase")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoOperator))
	assert.True(t, IsSyntaxError(err))
	assert.Contains(t, err.Error(), "just a phrase")
	assert.Contains(t, err.Error(), "==")
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nothing") })
	assert.NotPanics(t, func() { MustParse("a=b") })
}

func TestFuzzyCast(t *testing.T) {
	assert.Equal(t, true, FuzzyCast("TRUE"))
	assert.Equal(t, false, FuzzyCast("false"))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), FuzzyCast("2024-03-01"))
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), FuzzyCast("2024-03-01 12:30:00"))
	assert.Nil(t, FuzzyCast("null"))
	assert.Nil(t, FuzzyCast("None"))
	assert.Nil(t, FuzzyCast(""))
	assert.Equal(t, int64(-12), FuzzyCast("-12"))
	assert.Equal(t, 2.5, FuzzyCast("2.5"))
	assert.Equal(t, "NaN", FuzzyCast("NaN"))
	assert.Equal(t, "inf", FuzzyCast("inf"))
	assert.Equal(t, "us-east-1", FuzzyCast("us-east-1"))
}

func TestPredicate_Contains(t *testing.T) {
	p := MustParse("name=fiona").Predicate()
	assert.Equal(t, map[string]any{
		"$regexMatch": map[string]any{
			"input":   map[string]any{"$toString": "$name"},
			"regex":   "fiona",
			"options": "i",
		},
	}, p)
}

func TestPredicate_NotEqualNegatesRegex(t *testing.T) {
	p := MustParse("name!=fiona").Predicate()
	not, ok := p["$not"].(map[string]any)
	require.True(t, ok, "!= must render as a negated regex match")
	assert.Contains(t, not, "$regexMatch")
}

func TestPredicate_EqualityAndRanges(t *testing.T) {
	assert.Equal(t, map[string]any{"active": true}, MustParse("active==true").Predicate())
	assert.Equal(t, map[string]any{"age": map[string]any{"$gte": int64(30)}}, MustParse("age>=30").Predicate())
	assert.Equal(t, map[string]any{"age": map[string]any{"$gte": int64(30)}}, MustParse("age=>30").Predicate())
	assert.Equal(t, map[string]any{"age": map[string]any{"$lte": int64(30)}}, MustParse("age=<30").Predicate())
	assert.Equal(t, map[string]any{"age": map[string]any{"$gt": int64(30)}}, MustParse("age>30").Predicate())
	assert.Equal(t, map[string]any{"age": map[string]any{"$lt": int64(30)}}, MustParse("age<30").Predicate())
}

func TestPredicate_NullValue(t *testing.T) {
	assert.Equal(t, map[string]any{"deleted": nil}, MustParse("deleted=null").Predicate())
	assert.Equal(t, map[string]any{"deleted": nil}, MustParse("deleted>=").Predicate())
}

func TestExpression_IsExpr(t *testing.T) {
	assert.True(t, MustParse("a=b").IsExpr())
	assert.True(t, MustParse("a!=b").IsExpr())
	assert.False(t, MustParse("a==b").IsExpr())
	assert.False(t, MustParse("a>1").IsExpr())
}

func TestExpression_String(t *testing.T) {
	assert.Equal(t, "age>=30", MustParse(" age >= 30").String())
}
