package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/jdziat/harvest-tasks/pkg/match"
)

// RegisterStandardFuncs registers the general purpose functions every
// deployment ships with:
//
//	echo      returns its args
//	sleep     waits {"seconds": n}
//	vars      returns a snapshot of the chain variables
//	previous  returns the previous task's data
//	filter    keeps the records of {"source": var} (or the previous task's
//	          data) matching {"matches": [[...], ...]}
func RegisterStandardFuncs(r *Registry) error {
	for name, fn := range map[string]any{
		"echo":     echo,
		"sleep":    sleep,
		"vars":     snapshotVars,
		"previous": previousData,
		"filter":   filterRecords,
	} {
		if err := r.RegisterFunc(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func echo(_ context.Context, args map[string]any) (map[string]any, error) {
	return args, nil
}

type sleepArgs struct {
	Seconds float64 `json:"seconds"`
}

func sleep(ctx context.Context, args sleepArgs) error {
	timer := time.NewTimer(time.Duration(args.Seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func snapshotVars(ctx context.Context) (map[string]any, error) {
	t := FromContext(ctx)
	if t == nil || t.Chain() == nil {
		return nil, ErrNotInChain
	}
	return t.Chain().Vars().Snapshot(), nil
}

func previousData(ctx context.Context) (any, error) {
	t := FromContext(ctx)
	if t == nil {
		return nil, ErrNotInChain
	}
	if p := t.Previous(); p != nil {
		return p.Data(), nil
	}
	return nil, nil
}

type filterArgs struct {
	Source  string     `json:"source"`
	Matches [][]string `json:"matches"`
}

func filterRecords(ctx context.Context, args filterArgs) ([]map[string]any, error) {
	t := FromContext(ctx)
	if t == nil || t.Chain() == nil {
		return nil, ErrNotInChain
	}

	var source any
	if args.Source != "" {
		v, ok := t.Chain().Vars().Get(args.Source)
		if !ok {
			return nil, fmt.Errorf("filter: variable %q is not set", args.Source)
		}
		source = v
	} else if p := t.Previous(); p != nil {
		source = p.Data()
	}

	records, err := asRecords(source)
	if err != nil {
		return nil, err
	}
	sets, err := match.Compile(args.Matches)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return records, nil
	}
	return sets.Filter(records)
}

func asRecords(v any) ([]map[string]any, error) {
	switch rows := v.(type) {
	case nil:
		return []map[string]any{}, nil
	case []map[string]any:
		return rows, nil
	case []any:
		out := make([]map[string]any, 0, len(rows))
		for i, row := range rows {
			m, ok := row.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("filter: record %d is %T, not an object", i, row)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("filter: source is %T, not a list of records", v)
	}
}
