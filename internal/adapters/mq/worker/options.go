// Package worker runs employee tasks on bounded pools and drains the event queue.
package worker

import (
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
)

// Option applies a configuration option to a Pool or Consumer.
type Option func(*settings)

type settings struct {
	name   string
	logger logger.Logger
}

// WithName sets the name used for logging and the in-flight metric label.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func apply(defaultName string, opts []Option) settings {
	s := settings{name: defaultName}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = logger.Named(s.name)
	}
	return s
}
