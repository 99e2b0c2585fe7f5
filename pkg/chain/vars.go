package chain

import (
	"maps"
	"sync"
)

// Vars is the variable scope shared by the tasks of one chain.
// Safe for concurrent use by async tasks.
type Vars struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewVars creates a scope seeded with a copy of initial.
func NewVars(initial map[string]any) *Vars {
	v := &Vars{m: make(map[string]any, len(initial))}
	maps.Copy(v.m, initial)
	return v
}

func (v *Vars) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.m[key]
	return val, ok
}

func (v *Vars) Set(key string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[key] = value
}

func (v *Vars) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.m, key)
}

// Clear removes every variable.
func (v *Vars) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.m)
}

func (v *Vars) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.m)
}

// Snapshot returns a copy of the current variables.
func (v *Vars) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return maps.Clone(v.m)
}
