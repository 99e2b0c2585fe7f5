package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/internal/handler"
	"github.com/jdziat/harvest-tasks/pkg/security"
)

// Descriptor is the declarative form of a task.
type Descriptor struct {
	Kind        string          `json:"kind"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	ResultAs    string          `json:"result_as,omitempty"`
	With        json.RawMessage `json:"with,omitempty"`
}

// Factory builds the work for a descriptor of one kind.
type Factory func(r *Registry, d Descriptor) (Work, error)

// Registry maps kind names to factories and function names to handlers.
// Lookups fail with core.ErrUnknownTaskKind or core.ErrUnknownFunction.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Factory
	funcs map[string]*handler.Handler
}

// NewRegistry creates an empty registry. Use RegisterBuiltins for the
// standard kinds.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]Factory),
		funcs: make(map[string]*handler.Handler),
	}
}

// RegisterKind registers a factory, replacing any previous one for kind.
func (r *Registry) RegisterKind(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = f
}

// RegisterFunc registers a named function for func and async descriptors.
// See handler.NewHandler for the accepted signatures.
func (r *Registry) RegisterFunc(name string, fn any) error {
	if err := security.ValidateName(name); err != nil {
		return err
	}
	h, err := handler.NewHandler(fn)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = h
	return nil
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Func returns a WorkFunc calling the named function with args.
func (r *Registry) Func(name string, args json.RawMessage) (WorkFunc, error) {
	r.mu.RLock()
	h, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownFunction, name)
	}
	return func(ctx context.Context, t *Task) (any, error) {
		return h.Call(ctx, args)
	}, nil
}

// NewTask builds a task from its descriptor.
func (r *Registry) NewTask(d Descriptor) (*Task, error) {
	r.mu.RLock()
	factory, ok := r.kinds[d.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownTaskKind, d.Kind)
	}

	work, err := factory(r, d)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", d.Name, err)
	}

	t := NewTask(d.Name, work)
	t.Description = d.Description
	t.ResultAs = d.ResultAs
	return t, nil
}

// Build creates a chain from descriptors. Every descriptor is validated
// before the chain is returned.
func (r *Registry) Build(name string, descriptors []Descriptor, opts ...Option) (*Chain, error) {
	c := New(name, opts...)
	for _, d := range descriptors {
		t, err := r.NewTask(d)
		if err != nil {
			return nil, err
		}
		c.Append(t)
	}
	return c, nil
}

// RegisterBuiltins registers the func, async, wait, prune and aggregate kinds.
func RegisterBuiltins(r *Registry) {
	r.RegisterKind(string(KindFunc), func(r *Registry, d Descriptor) (Work, error) {
		fn, err := funcFromDescriptor(r, d)
		if err != nil {
			return nil, err
		}
		return &Func{Fn: fn}, nil
	})
	r.RegisterKind(string(KindAsync), func(r *Registry, d Descriptor) (Work, error) {
		fn, err := funcFromDescriptor(r, d)
		if err != nil {
			return nil, err
		}
		return &Async{Fn: fn}, nil
	})
	r.RegisterKind(string(KindWait), waitFromDescriptor)
	r.RegisterKind(string(KindPrune), func(_ *Registry, d Descriptor) (Work, error) {
		var p struct {
			PreviousTaskData bool `json:"previous_task_data"`
			StoredVariables  bool `json:"stored_variables"`
		}
		if err := decodeWith(d, &p); err != nil {
			return nil, err
		}
		return &Prune{PreviousTaskData: p.PreviousTaskData, StoredVariables: p.StoredVariables}, nil
	})
	r.RegisterKind(string(KindAggregate), func(_ *Registry, d Descriptor) (Work, error) {
		a := &Aggregate{}
		if err := decodeWith(d, a); err != nil {
			return nil, err
		}
		if _, _, err := a.Target(); err != nil {
			return nil, err
		}
		// Reject bad match syntax when the chain is built, not when it runs.
		if _, err := a.Prepare(); err != nil {
			return nil, err
		}
		return a, nil
	})
}

func funcFromDescriptor(r *Registry, d Descriptor) (WorkFunc, error) {
	var cfg struct {
		Function string          `json:"function"`
		Args     json.RawMessage `json:"args"`
	}
	if err := decodeWith(d, &cfg); err != nil {
		return nil, err
	}
	if cfg.Function == "" {
		cfg.Function = d.Name
	}
	return r.Func(cfg.Function, cfg.Args)
}

func waitFromDescriptor(_ *Registry, d Descriptor) (Work, error) {
	var cfg struct {
		CheckTimeSeconds float64  `json:"check_time_seconds"`
		AllPreviousAsync bool     `json:"when_all_previous_async_tasks_complete"`
		AllPrevious      bool     `json:"when_all_previous_tasks_complete"`
		AllNamed         []string `json:"when_all_tasks_by_name_complete"`
		AnyNamed         []string `json:"when_any_tasks_by_name_complete"`
	}
	if err := decodeWith(d, &cfg); err != nil {
		return nil, err
	}

	w := &Wait{
		Interval:         time.Duration(cfg.CheckTimeSeconds * float64(time.Second)),
		AllPreviousAsync: cfg.AllPreviousAsync,
		AllPrevious:      cfg.AllPrevious,
		AllNamed:         cfg.AllNamed,
		AnyNamed:         cfg.AnyNamed,
	}
	if !w.Enabled() {
		return nil, core.ErrNoWaitCondition
	}
	return w, nil
}

func decodeWith(d Descriptor, v any) error {
	if len(d.With) == 0 {
		return nil
	}
	if err := json.Unmarshal(d.With, v); err != nil {
		return fmt.Errorf("decode %s options: %w", d.Kind, err)
	}
	return nil
}
