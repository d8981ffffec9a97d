package repository

import "github.com/okian/iotreat/pkg/logger"

const defaultMemCapacity = 1024

type options struct {
	capacity int
	log      logger.Logger
}

// Option applies a configuration option to a Store.
type Option func(*options)

// WithCapacity bounds the in-memory store; the oldest attempts are evicted.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{capacity: defaultMemCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("history")
	}
	return o
}
