package chain

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/pstar"
)

type fakeDocs struct {
	database   string
	collection string
	pipeline   []map[string]any
	rows       []map[string]any
	err        error
}

func (f *fakeDocs) Aggregate(ctx context.Context, database, collection string, pipeline []map[string]any) ([]map[string]any, error) {
	f.database, f.collection, f.pipeline = database, collection, pipeline
	return f.rows, f.err
}

func TestAggregate_Prepare(t *testing.T) {
	a := &Aggregate{
		Collection: "instances",
		Pipeline:   []map[string]any{{"$project": map[string]any{"secret": 0}}},
		Matches:    [][]string{{"age>=30"}, {"age<10"}},
		AddKeys:    []string{"region", "secret"},
		Exclude:    []string{"secret"},
		Limit:      50,
		Sort:       []string{"name", "age:DESC"},
	}

	pipeline, err := a.Prepare()
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"$project": map[string]any{"secret": 0}},
		{"$match": map[string]any{"$or": []any{
			map[string]any{"age": map[string]any{"$gte": int64(30)}},
			map[string]any{"age": map[string]any{"$lt": int64(10)}},
		}}},
		{"$addFields": map[string]any{"region": "$region"}},
		{"$limit": 50},
		{"$sort": []SortKey{{Key: "name", Order: 1}, {Key: "age", Order: -1}}},
	}, pipeline)

	// The stored pipeline is not modified.
	assert.Len(t, a.Pipeline, 1)
}

func TestAggregate_PrepareCount(t *testing.T) {
	a := &Aggregate{Collection: "c", Count: true, Headers: []string{"name"}}

	pipeline, err := a.Prepare()
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"$count": "result"},
		{"$sort": []SortKey{{Key: "result", Order: 1}}},
	}, pipeline)
	assert.Equal(t, []string{"result"}, a.OutputHeaders())
}

// orderBy renders a $sort stage the way a SQL-backed document store would.
func orderBy(stage map[string]any) (string, bool) {
	keys, ok := stage["$sort"].([]core.SortKey)
	if !ok {
		return "", false
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		dir := "ASC"
		if k.Order < 0 {
			dir = "DESC"
		}
		parts[i] = k.Key + " " + dir
	}
	return strings.Join(parts, ", "), true
}

func TestAggregate_SortStageKeepsOrder(t *testing.T) {
	a := &Aggregate{Collection: "c", Sort: []string{"zone:desc", "name", "age:DESC"}}

	pipeline, err := a.Prepare()
	require.NoError(t, err)
	require.NotEmpty(t, pipeline)

	clause, ok := orderBy(pipeline[len(pipeline)-1])
	require.True(t, ok)
	assert.Equal(t, "zone DESC, name ASC, age DESC", clause)
}

func TestAggregate_IgnoreUserFilters(t *testing.T) {
	a := &Aggregate{
		Address:    &pstar.Address{Platform: "aws", Service: "ec2", Type: "instance", Account: "prod"},
		Pipeline:   []map[string]any{{"$limit": 1}},
		Matches:    [][]string{{"age>=30"}},
		Limit:      5,
		IgnoreUser: true,
	}

	pipeline, err := a.Prepare()
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"$match": map[string]any{"Harvest.Account": "prod"}},
		{"$limit": 1},
	}, pipeline)

	_, collection, err := a.Target()
	require.NoError(t, err)
	assert.Equal(t, "aws.ec2.instance", collection)
}

func TestAggregate_BadMatch(t *testing.T) {
	_, err := (&Aggregate{Collection: "c", Matches: [][]string{{"no operator here"}}}).Prepare()
	assert.Error(t, err)
}

func TestAggregate_Target(t *testing.T) {
	db, coll, err := (&Aggregate{Collection: "c"}).Target()
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabase, db)
	assert.Equal(t, "c", coll)

	_, _, err = (&Aggregate{}).Target()
	assert.ErrorIs(t, err, core.ErrMissingCollection)
}

func TestAggregate_OutputHeaders(t *testing.T) {
	a := &Aggregate{
		Headers: []string{"name", "secret", "region"},
		AddKeys: []string{"region", "zone"},
		Exclude: []string{"secret"},
	}
	assert.Equal(t, []string{"name", "region", "zone"}, a.OutputHeaders())
	assert.Equal(t, []string{}, (&Aggregate{AddKeys: []string{"zone"}}).OutputHeaders())
}

func TestAggregate_RunsInChain(t *testing.T) {
	docs := &fakeDocs{rows: []map[string]any{
		{"_id": 17, "name": "web-1"},
		{"_id": nil, "name": "web-2"},
	}}
	task := NewTask("query", &Aggregate{Database: "cache", Collection: "instances", Headers: []string{"name"}})
	task.ResultAs = "rows"

	c := New("aggregate", WithDocumentStore(docs)).Append(task)
	require.NoError(t, c.Run(testContext(t)))

	require.Equal(t, core.StatusComplete, task.Status())
	assert.Equal(t, "cache", docs.database)
	assert.Equal(t, "instances", docs.collection)
	assert.Equal(t, []map[string]any{
		{"_id": "17", "name": "web-1"},
		{"_id": nil, "name": "web-2"},
	}, task.Data())

	meta, ok := task.Meta().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"name"}, meta["headers"])
	assert.Equal(t, docs.pipeline, meta["pipeline"])
	assert.Contains(t, meta, "duration")

	rows, ok := c.Vars().Get("rows")
	assert.True(t, ok)
	assert.Len(t, rows, 2)
}

func TestAggregate_Errors(t *testing.T) {
	noStore := NewTask("query", &Aggregate{Collection: "c"})
	require.NoError(t, New("no-store").Append(noStore).Run(testContext(t)))
	assert.ErrorIs(t, noStore.Fault(), core.ErrNoDocumentStore)

	failing := NewTask("query", &Aggregate{Collection: "c"})
	docs := &fakeDocs{err: errors.New("connection refused")}
	require.NoError(t, New("failing", WithDocumentStore(docs)).Append(failing).Run(testContext(t)))
	assert.Equal(t, core.StatusError, failing.Status())
	assert.Contains(t, failing.Fault().Error(), "aggregate harvest.c")
}
