// Package cache keeps the last good scheduled-meeting list per user so the
// fetcher has something to serve while the provider is unavailable.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
)

const defaultTTL = 24 * time.Hour

// Option configures a cache.
type Option func(*options)

type options struct {
	ttl    time.Duration
	now    func() time.Time
	prefix string
}

func defaults() options {
	return options{ttl: defaultTTL, now: time.Now, prefix: "meetsync:scheduled:"}
}

// WithTTL sets how long an entry stays servable.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithClock replaces time.Now for the in-memory cache.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(p string) Option {
	return func(o *options) {
		if p != "" {
			o.prefix = p
		}
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type entry struct {
	meetings []model.Meeting
	expires  time.Time
}

// Memory is an in-process cache.
type Memory struct {
	opts options

	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory creates an empty in-process cache.
func NewMemory(opts ...Option) *Memory {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	return &Memory{opts: o, entries: make(map[string]entry)}
}

// Get returns a copy of the cached list when present and not expired.
func (m *Memory) Get(_ context.Context, email string) ([]model.Meeting, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[normalize(email)]
	m.mu.RUnlock()
	if !ok || !m.opts.now().Before(e.expires) {
		return nil, false, nil
	}
	return cloneMeetings(e.meetings), true, nil
}

// Set replaces the cached list of email.
func (m *Memory) Set(_ context.Context, email string, meetings []model.Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[normalize(email)] = entry{
		meetings: cloneMeetings(meetings),
		expires:  m.opts.now().Add(m.opts.ttl),
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cloneMeetings(in []model.Meeting) []model.Meeting {
	out := make([]model.Meeting, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
