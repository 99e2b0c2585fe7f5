package match

// Set is a list of expressions that must all hold.
type Set struct {
	Expressions []*Expression
}

// NewSet parses every match string into one AND'ed set.
func NewSet(matches []string) (*Set, error) {
	s := &Set{Expressions: make([]*Expression, 0, len(matches))}
	for _, m := range matches {
		e, err := Parse(m)
		if err != nil {
			return nil, err
		}
		s.Expressions = append(s.Expressions, e)
	}
	return s, nil
}

// Predicate renders the set. Expression-style predicates are combined with
// $and under $expr; field predicates are folded into the same document.
// Two range predicates on one field merge into a single operator document.
func (s *Set) Predicate() map[string]any {
	result := map[string]any{}
	var exprs []any

	for _, e := range s.Expressions {
		p := e.Predicate()
		if e.IsExpr() {
			exprs = append(exprs, p)
			continue
		}
		for k, v := range p {
			result[k] = mergeField(result[k], v)
		}
	}

	if len(exprs) > 0 {
		result["$expr"] = map[string]any{"$and": exprs}
	}
	return result
}

func mergeField(existing, next any) any {
	prev, ok := existing.(map[string]any)
	if !ok {
		return next
	}
	add, ok := next.(map[string]any)
	if !ok {
		return next
	}
	merged := make(map[string]any, len(prev)+len(add))
	for k, v := range prev {
		merged[k] = v
	}
	for k, v := range add {
		merged[k] = v
	}
	return merged
}

// Sets is a list of Sets of which any may hold.
type Sets []*Set

// Compile parses groups of match strings. Each inner slice becomes one Set.
func Compile(groups [][]string) (Sets, error) {
	sets := make(Sets, 0, len(groups))
	for _, g := range groups {
		s, err := NewSet(g)
		if err != nil {
			return nil, err
		}
		sets = append(sets, s)
	}
	return sets, nil
}

// Predicate renders the sets, combining more than one with $or.
// It returns nil when there are no sets.
func (ss Sets) Predicate() map[string]any {
	switch len(ss) {
	case 0:
		return nil
	case 1:
		return ss[0].Predicate()
	}
	or := make([]any, len(ss))
	for i, s := range ss {
		or[i] = s.Predicate()
	}
	return map[string]any{"$or": or}
}

// Stage renders the sets as a $match pipeline stage.
// ok is false when there is nothing to match on.
func (ss Sets) Stage() (stage map[string]any, ok bool) {
	p := ss.Predicate()
	if p == nil {
		return nil, false
	}
	return map[string]any{"$match": p}, true
}
