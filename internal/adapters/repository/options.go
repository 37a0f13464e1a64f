package repository

import "github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"

// Option applies a configuration option to a store.
type Option func(*storeOptions)

type storeOptions struct {
	logger   logger.Logger
	failWith error
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *storeOptions) { o.logger = l }
}

// WithWriteError makes every meeting write of the in-memory store fail with
// err. Used to exercise persistence failures.
func WithWriteError(err error) Option {
	return func(o *storeOptions) { o.failWith = err }
}

func applyOptions(name string, opts []Option) storeOptions {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named(name)
	}
	return o
}
