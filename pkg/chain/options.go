package chain

import (
	"log/slog"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

// Options holds configuration for a chain.
type Options struct {
	ID        string
	Vars      map[string]any
	Documents core.DocumentStore
	Logger    *slog.Logger
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Logger: slog.Default(),
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithID sets the chain id. A random UUID is used otherwise.
func WithID(id string) Option {
	return optionFunc(func(o *Options) {
		o.ID = id
	})
}

// WithVars seeds the chain variables.
func WithVars(vars map[string]any) Option {
	return optionFunc(func(o *Options) {
		o.Vars = vars
	})
}

// WithDocumentStore sets the store aggregate tasks run against.
func WithDocumentStore(docs core.DocumentStore) Option {
	return optionFunc(func(o *Options) {
		o.Documents = docs
	})
}

// WithLogger sets the chain logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	})
}
