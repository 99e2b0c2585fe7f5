package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/security"
)

// TemplateSource reports which templates may be queued.
type TemplateSource interface {
	Has(category, name string) bool
}

// Escalator moves a waiting record ahead in the queue. No policy ships
// with the package; Escalate fails with core.ErrNotImplemented without one.
type Escalator interface {
	Escalate(ctx context.Context, store core.KVStore, rec *Record) error
}

// EscalatorFunc adapts a function to Escalator.
type EscalatorFunc func(ctx context.Context, store core.KVStore, rec *Record) error

func (f EscalatorFunc) Escalate(ctx context.Context, store core.KVStore, rec *Record) error {
	return f(ctx, store, rec)
}

// Receipt is returned by Enqueue.
type Receipt struct {
	ID       string    `json:"id"`
	Parent   string    `json:"parent"`
	Priority int       `json:"priority"`
	Created  time.Time `json:"created"`
}

// Summary is one entry of List.
type Summary struct {
	ID       string      `json:"id"`
	Parent   string      `json:"parent"`
	Name     string      `json:"name"`
	Category string      `json:"category"`
	Priority int         `json:"priority"`
	Status   core.Status `json:"status"`
	Created  time.Time   `json:"created,omitzero"`
}

// Client speaks the queue protocol against a KV store.
type Client struct {
	store     core.KVStore
	templates TemplateSource
	opts      *Options
	logger    *slog.Logger
}

// New creates a client. templates decides which category/name pairs
// Enqueue accepts.
func New(store core.KVStore, templates TemplateSource, opts ...Option) *Client {
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}
	return &Client{
		store:     store,
		templates: templates,
		opts:      o,
		logger:    o.Logger,
	}
}

// Store returns the underlying KV store.
func (c *Client) Store() core.KVStore { return c.store }

// Enqueue writes a record for the template category/name and pushes its
// key onto the priority list. config["parent"] sets the record's parent;
// config["id"] is always overwritten with the new id.
//
// The record exists before its key is pushed. If any write fails, the list
// entry and the record are removed again; failures of that cleanup are
// logged and the original error is returned.
func (c *Client) Enqueue(ctx context.Context, priority int, category, name string, config map[string]any) (*Receipt, error) {
	if err := security.ValidatePriority(priority); err != nil {
		return nil, err
	}
	if err := security.ValidateName(category); err != nil {
		return nil, fmt.Errorf("category: %w", err)
	}
	if err := security.ValidateName(name); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	if c.templates == nil || !c.templates.Has(category, name) {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrTemplateNotFound, category, name)
	}

	cfg := maps.Clone(config)
	if cfg == nil {
		cfg = map[string]any{}
	}

	var parent string
	if p, ok := cfg["parent"]; ok && p != nil {
		s, isString := p.(string)
		if !isString {
			return nil, fmt.Errorf("%w: parent must be a string", core.ErrInvalidID)
		}
		if s != "" {
			if err := security.ValidateID(s); err != nil {
				return nil, fmt.Errorf("parent: %w", err)
			}
		}
		parent = s
	}

	id := uuid.New().String()
	cfg["id"] = id

	rec := &Record{
		ID:       id,
		Parent:   parent,
		Priority: priority,
		Name:     name,
		Category: category,
		Status:   core.StatusEnqueued,
		Config:   cfg,
		Created:  c.opts.Now().UTC(),
	}
	rec.Key = RecordKey(parent, id)

	fields, err := rec.Fields()
	if err != nil {
		return nil, fmt.Errorf("failed to queue task %s: %w", name, err)
	}
	if len(fields[FieldConfig]) > security.MaxConfigSize {
		return nil, core.ErrConfigTooLarge
	}

	if err := c.write(ctx, rec, fields); err != nil {
		c.rollback(rec)
		return nil, fmt.Errorf("failed to queue task %s: %w", name, err)
	}

	c.logger.Debug("task queued", "id", id, "parent", parent, "priority", priority,
		"category", category, "name", name)

	return &Receipt{ID: id, Parent: parent, Priority: priority, Created: rec.Created}, nil
}

func (c *Client) write(ctx context.Context, rec *Record, fields map[string]string) error {
	if err := c.store.HSet(ctx, rec.Key, fields); err != nil {
		return err
	}
	if err := c.store.Expire(ctx, rec.Key, c.opts.RecordTTL); err != nil {
		return err
	}
	return c.store.RPush(ctx, QueueKey(rec.Priority), rec.Key)
}

// rollback runs on a fresh context so a cancelled request still cleans up.
func (c *Client) rollback(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := c.store.LRem(ctx, QueueKey(rec.Priority), rec.Key); err != nil {
		c.logger.Error("rollback: failed to remove queue entry", "key", rec.Key, "error", err)
	}
	if err := c.store.Delete(ctx, rec.Key); err != nil {
		c.logger.Error("rollback: failed to delete record", "key", rec.Key, "error", err)
	}
}

// Records returns every readable record whose id or parent is id. Partial
// or vanished records are skipped.
func (c *Client) Records(ctx context.Context, id string) ([]*Record, error) {
	if err := security.ValidateID(id); err != nil {
		return nil, err
	}

	keys, err := core.ScanAll(ctx, c.store, "*"+id+"*", c.opts.ScanCount)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	var out []*Record
	for _, key := range keys {
		parent, recID, ok := SplitRecordKey(key)
		if !ok || (recID != id && parent != id) {
			continue
		}
		rec, err := c.read(ctx, key)
		if err != nil {
			if errors.Is(err, errPartialRecord) {
				c.logger.Debug("skipping partial record", "key", key)
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Client) read(ctx context.Context, key string) (*Record, error) {
	fields, err := c.store.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	return ParseRecord(key, fields)
}

// Status reports the status of id. A parent id with several children is
// reported as their aggregate.
func (c *Client) Status(ctx context.Context, id string) (*StatusReport, error) {
	records, err := c.Records(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get status of %s: %w", id, err)
	}
	rep, err := Aggregate(records)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	return rep, nil
}

// Result returns the result payload of id. The unparented record
// task::<id> is read directly; otherwise the first matching record holding
// a result is used.
func (c *Client) Result(ctx context.Context, id string) (json.RawMessage, error) {
	if err := security.ValidateID(id); err != nil {
		return nil, err
	}

	rec, err := c.read(ctx, RecordKey("", id))
	switch {
	case err == nil && len(rec.Result) > 0:
		return rec.Result, nil
	case err != nil && !errors.Is(err, errPartialRecord):
		return nil, fmt.Errorf("failed to get result of %s: %w", id, err)
	}

	records, err := c.Records(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get result of %s: %w", id, err)
	}
	for _, r := range records {
		if len(r.Result) > 0 {
			return r.Result, nil
		}
	}
	return nil, fmt.Errorf("result of %s: %w", id, core.ErrNotFound)
}

// Await polls the status of id until every record behind it has settled,
// then returns its result. A zero timeout uses the configured default. Unknown ids fail
// immediately with core.ErrNotFound; an expired timeout fails with
// core.ErrTimeout.
func (c *Client) Await(ctx context.Context, id string, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.opts.AwaitTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		rep, err := c.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if rep.Settled {
			return c.Result(ctx, id)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("await %s after %s: %w", id, timeout, core.ErrTimeout)
		case <-ticker.C:
		}
	}
}

// Escalate hands the waiting record id to the configured Escalator.
func (c *Client) Escalate(ctx context.Context, id string) error {
	if c.opts.Escalator == nil {
		return core.ErrNotImplemented
	}

	records, err := c.Records(ctx, id)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.ID == id {
			if r.Status != core.StatusEnqueued {
				return fmt.Errorf("escalate %s: record is %s, not waiting", id, r.Status)
			}
			return c.opts.Escalator.Escalate(ctx, c.store, r)
		}
	}
	return fmt.Errorf("escalate %s: %w", id, core.ErrNotFound)
}

// List returns every record in the store, oldest first.
func (c *Client) List(ctx context.Context) ([]Summary, error) {
	keys, err := core.ScanAll(ctx, c.store, RecordPrefix+":*", c.opts.ScanCount)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(keys))
	for _, key := range keys {
		if _, _, ok := SplitRecordKey(key); !ok {
			continue
		}
		rec, err := c.read(ctx, key)
		if err != nil {
			if errors.Is(err, errPartialRecord) {
				continue
			}
			return nil, err
		}
		out = append(out, Summary{
			ID:       rec.ID,
			Parent:   rec.Parent,
			Name:     rec.Name,
			Category: rec.Category,
			Priority: rec.Priority,
			Status:   rec.Status,
			Created:  rec.Created,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Priorities returns the priorities that have a queue list, lowest first.
func (c *Client) Priorities(ctx context.Context) ([]int, error) {
	keys, err := core.ScanAll(ctx, c.store, QueuePrefix+"::*", c.opts.ScanCount)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, k := range keys {
		if p, ok := ParseQueueKey(k); ok {
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out, nil
}

// Pop removes the oldest record key waiting at priority and returns its
// record. It returns core.ErrKeyNotFound when the list is empty and an
// *ExpiredError, matching core.ErrNotFound, when the popped record is gone.
func (c *Client) Pop(ctx context.Context, priority int) (*Record, error) {
	key, err := c.store.LPop(ctx, QueueKey(priority))
	if err != nil {
		return nil, err
	}
	rec, err := c.read(ctx, key)
	if errors.Is(err, errPartialRecord) {
		return nil, &ExpiredError{Key: key}
	}
	return rec, err
}

// ExpiredError reports a queue entry whose record no longer exists.
type ExpiredError struct {
	Key string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("record %s expired before dispatch", e.Key)
}

func (e *ExpiredError) Unwrap() error { return core.ErrNotFound }

// Requeue puts a popped record back at the head of its priority list.
func (c *Client) Requeue(ctx context.Context, rec *Record) error {
	return c.store.LPush(ctx, QueueKey(rec.Priority), rec.Key)
}

// Update writes changed fields of a dispatched record and refreshes its
// expiry so clients can still collect the result.
func (c *Client) Update(ctx context.Context, rec *Record) error {
	fields, err := rec.Fields()
	if err != nil {
		return err
	}
	// Never rewrite the submitted config.
	delete(fields, FieldConfig)

	if err := c.store.HSet(ctx, rec.Key, fields); err != nil {
		return err
	}
	return c.store.Expire(ctx, rec.Key, c.opts.RecordTTL)
}

// IsClientError reports whether err was caused by invalid input rather
// than a store failure.
func IsClientError(err error) bool {
	for _, target := range []error{
		core.ErrInvalidName, core.ErrNameTooLong, core.ErrInvalidID,
		core.ErrInvalidPriority, core.ErrConfigTooLarge, core.ErrTemplateNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
