package queue

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

// Key prefixes.
const (
	RecordPrefix = "task"
	QueuePrefix  = "queue"
)

// Record hash fields.
const (
	FieldID       = "id"
	FieldParent   = "parent"
	FieldPriority = "priority"
	FieldName     = "name"
	FieldCategory = "category"
	FieldStatus   = "status"
	FieldConfig   = "config"
	FieldCreated  = "created"
	FieldAgent    = "agent"
	FieldPosition = "position"
	FieldTotal    = "total"
	FieldStart    = "start"
	FieldEnd      = "end"
	FieldResult   = "result"
)

// errPartialRecord marks a hash that lacks the fields every record carries.
var errPartialRecord = errors.New("harvest: partial record")

// RecordKey returns task:<parent>:<id>.
func RecordKey(parent, id string) string {
	return RecordPrefix + ":" + parent + ":" + id
}

// SplitRecordKey returns the parent and id encoded in a record key.
func SplitRecordKey(key string) (parent, id string, ok bool) {
	rest, ok := strings.CutPrefix(key, RecordPrefix+":")
	if !ok {
		return "", "", false
	}
	parent, id, ok = strings.Cut(rest, ":")
	if !ok || id == "" || strings.Contains(id, ":") {
		return "", "", false
	}
	return parent, id, true
}

// QueueKey returns queue::<priority>.
func QueueKey(priority int) string {
	return QueuePrefix + "::" + strconv.Itoa(priority)
}

// ParseQueueKey returns the priority encoded in a queue key.
func ParseQueueKey(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, QueuePrefix+"::")
	if !ok {
		return 0, false
	}
	p, err := strconv.Atoi(rest)
	if err != nil || p < 0 {
		return 0, false
	}
	return p, true
}

// Record is one queued task as stored in the KV store.
type Record struct {
	Key      string          `json:"-"`
	ID       string          `json:"id"`
	Parent   string          `json:"parent"`
	Priority int             `json:"priority"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Status   core.Status     `json:"status"`
	Config   map[string]any  `json:"config,omitempty"`
	Created  time.Time       `json:"created"`
	Agent    string          `json:"agent,omitempty"`
	Position int             `json:"position"`
	Total    int             `json:"total"`
	Start    time.Time       `json:"start,omitzero"`
	End      time.Time       `json:"end,omitzero"`
	Result   json.RawMessage `json:"-"`
}

// Fields encodes the record as hash fields. Unset optional fields are omitted.
func (r *Record) Fields() (map[string]string, error) {
	f := map[string]string{
		FieldID:       r.ID,
		FieldParent:   r.Parent,
		FieldPriority: strconv.Itoa(r.Priority),
		FieldName:     r.Name,
		FieldCategory: r.Category,
		FieldStatus:   string(r.Status),
		FieldCreated:  formatTime(r.Created),
	}
	if r.Config != nil {
		cfg, err := json.Marshal(r.Config)
		if err != nil {
			return nil, err
		}
		f[FieldConfig] = string(cfg)
	}
	if r.Agent != "" {
		f[FieldAgent] = r.Agent
	}
	if r.Total > 0 {
		f[FieldPosition] = strconv.Itoa(r.Position)
		f[FieldTotal] = strconv.Itoa(r.Total)
	}
	if !r.Start.IsZero() {
		f[FieldStart] = formatTime(r.Start)
	}
	if !r.End.IsZero() {
		f[FieldEnd] = formatTime(r.End)
	}
	if len(r.Result) > 0 {
		f[FieldResult] = string(r.Result)
	}
	return f, nil
}

// ParseRecord decodes a record hash. Hashes without an id or status are
// rejected; malformed optional fields are left at their zero values.
func ParseRecord(key string, fields map[string]string) (*Record, error) {
	if fields[FieldID] == "" || fields[FieldStatus] == "" {
		return nil, errPartialRecord
	}

	r := &Record{
		Key:      key,
		ID:       fields[FieldID],
		Parent:   fields[FieldParent],
		Name:     fields[FieldName],
		Category: fields[FieldCategory],
		Status:   core.Status(fields[FieldStatus]),
		Agent:    fields[FieldAgent],
		Created:  parseTime(fields[FieldCreated]),
		Start:    parseTime(fields[FieldStart]),
		End:      parseTime(fields[FieldEnd]),
	}
	r.Priority, _ = strconv.Atoi(fields[FieldPriority])
	r.Position, _ = strconv.Atoi(fields[FieldPosition])
	r.Total, _ = strconv.Atoi(fields[FieldTotal])

	if cfg := fields[FieldConfig]; cfg != "" {
		_ = json.Unmarshal([]byte(cfg), &r.Config)
	}
	if res := fields[FieldResult]; res != "" {
		r.Result = json.RawMessage(res)
	}
	return r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
