package queue

import (
	"sort"
	"time"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

// StatusReport describes one record, or the merge of a fan-out's records.
// A single record fills ID and Agent; an aggregate fills IDs and Agents.
// Settled is set once every record is complete or error, and Failed counts
// the records that ended in error.
type StatusReport struct {
	ID         string      `json:"id,omitempty"`
	IDs        []string    `json:"ids,omitempty"`
	Parent     string      `json:"parent"`
	Name       string      `json:"name,omitempty"`
	Category   string      `json:"category,omitempty"`
	Priority   int         `json:"priority"`
	Agent      string      `json:"agent,omitempty"`
	Agents     []string    `json:"agents,omitempty"`
	Status     core.Status `json:"status"`
	Position   int         `json:"position"`
	Total      int         `json:"total"`
	Created    time.Time   `json:"created,omitzero"`
	Start      time.Time   `json:"start,omitzero"`
	End        time.Time   `json:"end,omitzero"`
	Failed     int         `json:"failed"`
	Settled    bool        `json:"settled"`
	Aggregated bool        `json:"aggregated"`
}

// Report describes a single record.
func Report(r *Record) *StatusReport {
	rep := &StatusReport{
		ID:       r.ID,
		Parent:   r.Parent,
		Name:     r.Name,
		Category: r.Category,
		Priority: r.Priority,
		Agent:    r.Agent,
		Status:   r.Status,
		Position: r.Position,
		Total:    r.Total,
		Created:  r.Created,
		Start:    r.Start,
		End:      r.End,
		Settled:  r.Status.IsTerminal(),
	}
	if r.Status == core.StatusError {
		rep.Failed = 1
	}
	return rep
}

// Aggregate merges the records found for one id.
//
// No records is core.ErrNotFound and one record is reported as is. For
// several records the status is running while any record is not complete,
// and complete once all are; errored siblings keep it running and show up
// in Failed and Settled instead. Position counts complete records, Total
// counts all of them, Start and End span the records, and ids and agents
// are deduplicated and sorted. Nil records are skipped.
func Aggregate(records []*Record) (*StatusReport, error) {
	present := make([]*Record, 0, len(records))
	for _, r := range records {
		if r != nil {
			present = append(present, r)
		}
	}

	switch len(present) {
	case 0:
		return nil, core.ErrNotFound
	case 1:
		return Report(present[0]), nil
	}

	rep := &StatusReport{
		Status:     core.StatusRunning,
		Total:      len(present),
		Aggregated: true,
	}

	ids := make(map[string]struct{})
	agents := make(map[string]struct{})
	parents := make(map[string]struct{})
	settled := true

	for _, r := range present {
		ids[r.ID] = struct{}{}
		parents[r.Parent] = struct{}{}
		if r.Agent != "" {
			agents[r.Agent] = struct{}{}
		}

		switch r.Status {
		case core.StatusComplete:
			rep.Position++
		case core.StatusError:
			rep.Failed++
		default:
			settled = false
		}

		if !r.Start.IsZero() && (rep.Start.IsZero() || r.Start.Before(rep.Start)) {
			rep.Start = r.Start
		}
		if r.End.After(rep.End) {
			rep.End = r.End
		}
		if !r.Created.IsZero() && (rep.Created.IsZero() || r.Created.Before(rep.Created)) {
			rep.Created = r.Created
		}
	}

	if rep.Position == rep.Total {
		rep.Status = core.StatusComplete
	}
	rep.Settled = settled

	// Siblings share a parent; report it when they agree.
	if len(parents) == 1 {
		rep.Parent = present[0].Parent
		rep.Name = present[0].Name
		rep.Category = present[0].Category
		rep.Priority = present[0].Priority
	}

	rep.IDs = sortedKeys(ids)
	rep.Agents = sortedKeys(agents)
	return rep, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
