package mirror

import (
	"context"

	"github.com/nerrad567/osm-bridge/internal/osm"
)

// Observer is notified after every applied refresh. A nil state means the
// fetch failed and the mirror is now unknown.
//
// Observers run on the refreshing goroutine and must not block for long.
type Observer interface {
	DeviceRefreshed(ctx context.Context, name string, state *osm.DeviceState)
	CoreRefreshed(ctx context.Context, state *osm.CoreState)
}

// Option configures a mirror.
type Option func(*options)

type options struct {
	logger   Logger
	observer Observer
}

// WithLogger sets the logger used to report failed fetches.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an observer for refresh outcomes.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: nopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
