package queue

import (
	"log/slog"
	"time"
)

// Default values.
var (
	DefaultRecordTTL    = time.Hour
	DefaultScanCount    = int64(100)
	DefaultPollInterval = time.Second
	DefaultAwaitTimeout = 120 * time.Second
)

// Options holds client configuration.
type Options struct {
	RecordTTL    time.Duration
	ScanCount    int64
	PollInterval time.Duration
	AwaitTimeout time.Duration
	Escalator    Escalator
	Logger       *slog.Logger
	Now          func() time.Time
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		RecordTTL:    DefaultRecordTTL,
		ScanCount:    DefaultScanCount,
		PollInterval: DefaultPollInterval,
		AwaitTimeout: DefaultAwaitTimeout,
		Logger:       slog.Default(),
		Now:          time.Now,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// RecordTTL sets how long a record lives without being refreshed.
func RecordTTL(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d > 0 {
			o.RecordTTL = d
		}
	})
}

// ScanCount sets the batch size hint for key scans.
func ScanCount(n int64) Option {
	return optionFunc(func(o *Options) {
		if n > 0 {
			o.ScanCount = n
		}
	})
}

// PollInterval sets how often Await re-reads the status.
func PollInterval(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d > 0 {
			o.PollInterval = d
		}
	})
}

// AwaitTimeout sets the timeout Await uses when called with zero.
func AwaitTimeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d > 0 {
			o.AwaitTimeout = d
		}
	})
}

// WithEscalator enables Escalate with the given policy.
func WithEscalator(e Escalator) Option {
	return optionFunc(func(o *Options) {
		o.Escalator = e
	})
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	})
}

// WithClock sets the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *Options) {
		if now != nil {
			o.Now = now
		}
	})
}
