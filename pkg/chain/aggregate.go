package chain

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/match"
	"github.com/jdziat/harvest-tasks/pkg/pstar"
)

// DefaultDatabase is the database aggregate tasks read when none is set.
const DefaultDatabase = "harvest"

// SortKey is one field of a $sort stage. Stages keep sort keys as an
// ordered slice since key order decides precedence.
type SortKey = core.SortKey

// Aggregate runs an aggregation pipeline against the chain's document store
// after appending stages for the user's filters and output shaping.
type Aggregate struct {
	Database   string           `json:"database,omitempty"`
	Collection string           `json:"collection,omitempty"`
	Address    *pstar.Address   `json:"pstar,omitempty"`
	Pipeline   []map[string]any `json:"pipeline,omitempty"`
	Matches    [][]string       `json:"matches,omitempty"`
	AddKeys    []string         `json:"add_keys,omitempty"`
	Exclude    []string         `json:"exclude_keys,omitempty"`
	Headers    []string         `json:"headers,omitempty"`
	Sort       []string         `json:"sort,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Count      bool             `json:"count,omitempty"`
	IgnoreUser bool             `json:"ignore_user_filters,omitempty"`
}

func (*Aggregate) Kind() Kind { return KindAggregate }
func (*Aggregate) isWork()    {}

// Target returns the database and collection the pipeline runs against.
func (a *Aggregate) Target() (database, collection string, err error) {
	database = a.Database
	if database == "" {
		database = DefaultDatabase
	}
	collection = a.Collection
	if collection == "" && a.Address != nil && a.Address.Valid() {
		collection = a.Address.Collection()
	}
	if collection == "" {
		return "", "", core.ErrMissingCollection
	}
	return database, collection, nil
}

// Prepare builds the pipeline to execute. The PSTAR account and region
// filter is always applied; the user stages are skipped when IgnoreUser is set.
func (a *Aggregate) Prepare() ([]map[string]any, error) {
	pipeline := slices.Clone(a.Pipeline)

	if a.Address != nil {
		if filter := a.Address.Filter(); len(filter) > 0 {
			set, err := match.NewSet(filter)
			if err != nil {
				return nil, err
			}
			pipeline = append([]map[string]any{{"$match": set.Predicate()}}, pipeline...)
		}
	}

	if a.IgnoreUser {
		return pipeline, nil
	}

	if len(a.Matches) > 0 {
		sets, err := match.Compile(a.Matches)
		if err != nil {
			return nil, err
		}
		if stage, ok := sets.Stage(); ok {
			pipeline = append(pipeline, stage)
		}
	}

	if len(a.AddKeys) > 0 {
		fields := make(map[string]any, len(a.AddKeys))
		for _, k := range a.AddKeys {
			if !slices.Contains(a.Exclude, k) {
				fields[k] = "$" + k
			}
		}
		pipeline = append(pipeline, map[string]any{"$addFields": fields})
	}

	if a.Limit > 0 {
		pipeline = append(pipeline, map[string]any{"$limit": a.Limit})
	}

	if a.Count {
		pipeline = append(pipeline, map[string]any{"$count": "result"})
	}

	if sort := a.SortKeys(); len(sort) > 0 {
		pipeline = append(pipeline, map[string]any{"$sort": sort})
	}

	return pipeline, nil
}

// OutputHeaders returns the column order of the result: headers followed
// by added keys, minus excluded keys. A count pipeline has the single
// header "result".
func (a *Aggregate) OutputHeaders() []string {
	if a.Count {
		return []string{"result"}
	}
	if len(a.Headers) == 0 {
		return []string{}
	}

	out := make([]string, 0, len(a.Headers)+len(a.AddKeys))
	for _, h := range a.Headers {
		if !slices.Contains(a.Exclude, h) {
			out = append(out, h)
		}
	}
	for _, k := range a.AddKeys {
		if !slices.Contains(a.Headers, k) && !slices.Contains(a.Exclude, k) {
			out = append(out, k)
		}
	}
	return out
}

// SortKeys parses Sort, falling back to the headers. "key:desc" sorts
// descending; anything else ascending.
func (a *Aggregate) SortKeys() []SortKey {
	source := a.Sort
	if len(source) == 0 {
		source = a.OutputHeaders()
	}

	var out []SortKey
	seen := make(map[string]int)
	for _, s := range source {
		key, dir, _ := strings.Cut(s, ":")
		key = strings.TrimSpace(key)
		if key == "" || slices.Contains(a.Exclude, key) {
			continue
		}
		order := 1
		if strings.EqualFold(strings.TrimSpace(dir), "desc") {
			order = -1
		}
		if i, ok := seen[key]; ok {
			out[i].Order = order
			continue
		}
		seen[key] = len(out)
		out = append(out, SortKey{Key: key, Order: order})
	}
	return out
}

func (a *Aggregate) run(ctx context.Context, t *Task) (any, error) {
	c := t.Chain()
	if c == nil {
		return nil, ErrNotInChain
	}
	docs := c.Documents()
	if docs == nil {
		return nil, core.ErrNoDocumentStore
	}

	database, collection, err := a.Target()
	if err != nil {
		return nil, err
	}
	pipeline, err := a.Prepare()
	if err != nil {
		return nil, err
	}

	start := time.Now().UTC()
	rows, err := docs.Aggregate(ctx, database, collection, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s.%s: %w", database, collection, err)
	}
	end := time.Now().UTC()

	for _, row := range rows {
		if id, ok := row["_id"]; ok && id != nil {
			row["_id"] = fmt.Sprint(id)
		}
	}

	t.SetMeta(map[string]any{
		"start":    start,
		"end":      end,
		"duration": end.Sub(start).Seconds(),
		"pipeline": pipeline,
		"headers":  a.OutputHeaders(),
	})
	return rows, nil
}
