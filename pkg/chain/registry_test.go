package chain

import (
	"context"
	"encoding/json"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

type greetArgs struct {
	Name string `json:"name"`
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	RegisterBuiltins(r)
	require.NoError(t, r.RegisterFunc("greet", func(ctx context.Context, a greetArgs) (string, error) {
		return "hello " + a.Name, nil
	}))
	require.NoError(t, r.RegisterFunc("whoami", func(ctx context.Context) (string, error) {
		return FromContext(ctx).Name, nil
	}))
	return r
}

func TestRegistry_Kinds(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, []string{"aggregate", "async", "func", "prune", "wait"}, r.Kinds())
}

func TestRegistry_RegisterFuncValidates(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.RegisterFunc("1bad", func(context.Context) error { return nil }))
	assert.Error(t, r.RegisterFunc("notfunc", 42))
}

func TestRegistry_Build(t *testing.T) {
	r := newTestRegistry(t)

	var descriptors []Descriptor
	require.NoError(t, json.Unmarshal([]byte(`[
		{"kind": "func", "name": "greet", "result_as": "greeting", "with": {"args": {"name": "harvest"}}},
		{"kind": "async", "name": "identify", "with": {"function": "whoami"}},
		{"kind": "wait", "name": "join", "with": {"check_time_seconds": 0.01, "when_all_previous_async_tasks_complete": true}},
		{"kind": "prune", "name": "cleanup", "with": {"stored_variables": false}}
	]`), &descriptors))

	c, err := r.Build("greeting", descriptors)
	require.NoError(t, err)
	require.Equal(t, 4, c.Total())

	join, _ := c.Task("join")
	assert.Equal(t, 10*time.Millisecond, join.Work().(*Wait).Interval)

	require.NoError(t, c.Run(testContext(t)))

	greeting, _ := c.Vars().Get("greeting")
	assert.Equal(t, "hello harvest", greeting)

	identify, _ := c.Task("identify")
	assert.Equal(t, core.StatusComplete, identify.Status())
	assert.Equal(t, "identify", identify.Data())
}

func TestRegistry_BuildErrors(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name string
		desc Descriptor
		err  error
	}{
		{"unknown kind", Descriptor{Kind: "teleport", Name: "x"}, core.ErrUnknownTaskKind},
		{"unknown function", Descriptor{Kind: "func", Name: "missing"}, core.ErrUnknownFunction},
		{"wait without condition", Descriptor{Kind: "wait", Name: "w"}, core.ErrNoWaitCondition},
		{"aggregate without collection", Descriptor{Kind: "aggregate", Name: "a"}, core.ErrMissingCollection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Build("bad", []Descriptor{tt.desc})
			assert.ErrorIs(t, err, tt.err)
		})
	}

	_, err := r.NewTask(Descriptor{Kind: "prune", Name: "p", With: json.RawMessage(`{"stored_variables": "yes"}`)})
	assert.Error(t, err)
}

func TestRegistry_AggregateDescriptor(t *testing.T) {
	r := newTestRegistry(t)
	task, err := r.NewTask(Descriptor{
		Kind: "aggregate",
		Name: "report",
		With: json.RawMessage(`{
			"pstar": {"platform": "aws", "service": "rds", "type": "instance"},
			"matches": [["engine=postgres"]],
			"limit": 10
		}`),
	})
	require.NoError(t, err)

	a := task.Work().(*Aggregate)
	_, collection, err := a.Target()
	require.NoError(t, err)
	assert.Equal(t, "aws.rds.instance", collection)
	assert.Equal(t, 10, a.Limit)
}

func TestTemplates(t *testing.T) {
	ts := NewTemplates()
	require.NoError(t, ts.Register(&Template{Category: "reports", Name: "rds"}))
	assert.Error(t, ts.Register(&Template{Category: "bad category", Name: "x"}))

	fsys := fstest.MapFS{
		"reports/ec2.json": {Data: []byte(`{"category": "reports", "name": "ec2", "tasks": [{"kind": "func", "name": "greet"}]}`)},
		"README.md":        {Data: []byte("ignored")},
	}
	require.NoError(t, ts.LoadFS(fsys))

	assert.Equal(t, []string{"reports/ec2", "reports/rds"}, ts.List())
	assert.True(t, ts.Has("reports", "ec2"))

	_, err := ts.Lookup("reports", "s3")
	assert.ErrorIs(t, err, core.ErrTemplateNotFound)
}

func TestTemplates_LoadFSRejectsInvalid(t *testing.T) {
	fsys := fstest.MapFS{"broken.json": {Data: []byte(`{"category": "reports"`)}}
	err := NewTemplates().LoadFS(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.json")
}

func TestRegistry_BuildTemplate(t *testing.T) {
	r := newTestRegistry(t)
	tmpl, err := ParseTemplate([]byte(`{
		"category": "greetings",
		"name": "hello",
		"vars": {"lang": "en", "tone": "warm"},
		"tasks": [{"kind": "func", "name": "greet", "with": {"args": {"name": "world"}}}]
	}`))
	require.NoError(t, err)

	c, err := r.BuildTemplate(tmpl, map[string]any{"tone": "formal"}, WithID("fixed"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", c.ID)
	assert.Equal(t, "greetings/hello", c.Name)
	assert.Equal(t, map[string]any{"lang": "en", "tone": "formal"}, c.Vars().Snapshot())

	require.NoError(t, c.Run(testContext(t)))
	assert.Equal(t, map[string]any{"data": "hello world", "meta": nil}, c.Result())
}
