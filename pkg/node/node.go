package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/security"
)

// Node roles.
const (
	RoleAPI   = "api"
	RoleAgent = "agent"
)

// Info is the record a node writes on each beat.
type Info struct {
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	IP               string    `json:"ip,omitempty"`
	Port             int       `json:"port,omitempty"`
	Architecture     string    `json:"architecture"`
	OS               string    `json:"os"`
	PID              int       `json:"pid"`
	Runtime          string    `json:"runtime"`
	Version          string    `json:"version,omitempty"`
	Plugins          []string  `json:"plugins,omitempty"`
	Accounts         []string  `json:"accounts,omitempty"`
	HeartbeatSeconds float64   `json:"heartbeat_seconds"`
	Start            time.Time `json:"start"`
	Last             time.Time `json:"last"`
	Duration         float64   `json:"duration"`
}

// Key returns the record key of the node.
func (i *Info) Key() string {
	return Key(i.Role, i.Name, i.Port)
}

// Key returns <role>::<name>, with ::<port> appended when port is set.
func Key(role, name string, port int) string {
	k := role + "::" + name
	if port > 0 {
		k += "::" + strconv.Itoa(port)
	}
	return k
}

// LocalInfo describes the current process.
func LocalInfo(role, version string) Info {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "localhost"
	}
	return Info{
		Name:         name,
		Role:         role,
		Architecture: runtime.GOARCH,
		OS:           runtime.GOOS,
		PID:          os.Getpid(),
		Runtime:      runtime.Version(),
		Version:      version,
	}
}

// Defaults.
const (
	DefaultInterval   = time.Second
	DefaultMultiplier = 5
)

// Option configures a Heartbeat.
type Option func(*Heartbeat)

// Interval sets the time between beats.
func Interval(d time.Duration) Option {
	return func(h *Heartbeat) {
		if d > 0 {
			h.interval = d
		}
	}
}

// ExpiryMultiplier sets how many intervals a record outlives its last beat.
func ExpiryMultiplier(n int) Option {
	return func(h *Heartbeat) {
		if n > 0 {
			h.multiplier = n
		}
	}
}

// WithLogger sets the heartbeat logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Heartbeat) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock sets the heartbeat's time source.
func WithClock(now func() time.Time) Option {
	return func(h *Heartbeat) {
		if now != nil {
			h.now = now
		}
	}
}

// Heartbeat keeps a node record alive.
type Heartbeat struct {
	store      core.KVStore
	info       Info
	interval   time.Duration
	multiplier int
	logger     *slog.Logger
	now        func() time.Time
}

// NewHeartbeat creates a heartbeat for info.
func NewHeartbeat(store core.KVStore, info Info, opts ...Option) (*Heartbeat, error) {
	if err := security.ValidateName(info.Role); err != nil {
		return nil, fmt.Errorf("node role: %w", err)
	}
	if info.Name == "" || strings.ContainsAny(info.Name, "*?[]:") {
		return nil, fmt.Errorf("node name %q: %w", info.Name, core.ErrInvalidName)
	}

	h := &Heartbeat{
		store:      store,
		info:       info,
		interval:   DefaultInterval,
		multiplier: DefaultMultiplier,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.info.HeartbeatSeconds = h.interval.Seconds()
	if h.info.Start.IsZero() {
		h.info.Start = h.now().UTC()
	}
	return h, nil
}

// Expiry returns how long a record lives after a beat.
func (h *Heartbeat) Expiry() time.Duration {
	return h.interval * time.Duration(h.multiplier)
}

// Key returns the record key this heartbeat writes.
func (h *Heartbeat) Key() string { return h.info.Key() }

// Beat writes the node record once.
func (h *Heartbeat) Beat(ctx context.Context) error {
	last := h.now().UTC()
	h.info.Last = last
	h.info.Duration = last.Sub(h.info.Start).Seconds()

	data, err := json.Marshal(h.info)
	if err != nil {
		return err
	}
	return h.store.Set(ctx, h.info.Key(), string(data), h.Expiry())
}

// Run beats until ctx is cancelled. Failed beats are logged and retried
// on the next tick.
func (h *Heartbeat) Run(ctx context.Context) error {
	h.logger.Info("heartbeat started", "key", h.Key(), "interval", h.interval)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.Beat(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Error("heartbeat failed", "key", h.Key(), "error", err)
		} else {
			h.logger.Debug("heartbeat written", "key", h.Key())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// List returns the live nodes of role, sorted by key. Records that expire
// or fail to decode while listing are skipped.
func List(ctx context.Context, store core.KVStore, role string) ([]Info, error) {
	if err := security.ValidateName(role); err != nil {
		return nil, err
	}

	keys, err := core.ScanAll(ctx, store, role+"::*", 100)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	out := make([]Info, 0, len(keys))
	for _, k := range keys {
		raw, err := store.Get(ctx, k)
		if errors.Is(err, core.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var info Info
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Accounts gathers the platform:account entries advertised by nodes.
func Accounts(nodes []Info) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.Accounts...)
	}
	return out
}
