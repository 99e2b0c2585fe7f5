package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

func TestAggregate(t *testing.T) {
	rec := func(id string, s core.Status) *Record {
		return &Record{ID: id, Parent: "p", Status: s}
	}

	tests := []struct {
		name     string
		records  []*Record
		status   core.Status
		position int
		total    int
		failed   int
		settled  bool
	}{
		{"all complete", []*Record{rec("a", core.StatusComplete), rec("b", core.StatusComplete)}, core.StatusComplete, 2, 2, 0, true},
		{"one running", []*Record{rec("a", core.StatusComplete), rec("b", core.StatusRunning)}, core.StatusRunning, 1, 2, 0, false},
		{"one waiting", []*Record{rec("a", core.StatusEnqueued), rec("b", core.StatusComplete)}, core.StatusRunning, 1, 2, 0, false},
		{"error settles as running", []*Record{rec("a", core.StatusComplete), rec("b", core.StatusError)}, core.StatusRunning, 1, 2, 1, true},
		{"all errored", []*Record{rec("a", core.StatusError), rec("b", core.StatusError)}, core.StatusRunning, 0, 2, 2, true},
		{"error while running", []*Record{rec("a", core.StatusError), rec("b", core.StatusRunning)}, core.StatusRunning, 0, 2, 1, false},
		{"nil skipped", []*Record{nil, rec("a", core.StatusComplete), nil, rec("b", core.StatusComplete)}, core.StatusComplete, 2, 2, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := Aggregate(tt.records)
			require.NoError(t, err)
			assert.True(t, rep.Aggregated)
			assert.Equal(t, tt.status, rep.Status)
			assert.Equal(t, tt.position, rep.Position)
			assert.Equal(t, tt.total, rep.Total)
			assert.Equal(t, tt.failed, rep.Failed)
			assert.Equal(t, tt.settled, rep.Settled)
		})
	}
}

func TestAggregate_Empty(t *testing.T) {
	_, err := Aggregate(nil)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = Aggregate([]*Record{nil})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAggregate_Single(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rep, err := Aggregate([]*Record{{
		ID: "x", Name: "collect", Category: "inventory", Priority: 4,
		Status: core.StatusRunning, Agent: "w1", Position: 2, Total: 5, Start: start,
	}})
	require.NoError(t, err)

	assert.False(t, rep.Aggregated)
	assert.Equal(t, "x", rep.ID)
	assert.Equal(t, "w1", rep.Agent)
	assert.Equal(t, 2, rep.Position)
	assert.Equal(t, 5, rep.Total)
	assert.Equal(t, start, rep.Start)
	assert.Equal(t, 4, rep.Priority)
	assert.False(t, rep.Settled)
}

func TestReport_Settled(t *testing.T) {
	rep := Report(&Record{ID: "x", Status: core.StatusError})
	assert.Equal(t, core.StatusError, rep.Status)
	assert.True(t, rep.Settled)
	assert.Equal(t, 1, rep.Failed)

	rep = Report(&Record{ID: "y", Status: core.StatusEnqueued})
	assert.False(t, rep.Settled)
	assert.Zero(t, rep.Failed)
}

func TestAggregate_MixedParents(t *testing.T) {
	rep, err := Aggregate([]*Record{
		{ID: "shared", Parent: "", Name: "a", Status: core.StatusComplete},
		{ID: "child", Parent: "shared", Name: "b", Status: core.StatusComplete},
	})
	require.NoError(t, err)
	assert.Empty(t, rep.Parent)
	assert.Empty(t, rep.Name)
	assert.Equal(t, []string{"child", "shared"}, rep.IDs)
	assert.Empty(t, rep.Agents)
}
