// Package dedupe merges meeting lists by stable identity and cleans rosters.
package dedupe

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
)

// Deduper records seen identity keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key string) bool

	Size() int64
}

// inMemoryDeduper is a map-backed seen set. It never evicts, so the first
// occurrence of a key always wins for the lifetime of the set.
type inMemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
	size atomic.Int64
}

// NewInMemoryDeduper creates an empty seen set.
func NewInMemoryDeduper(opts ...Option) Deduper {
	cfg := options{initialCapacity: 256}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &inMemoryDeduper{seen: make(map[string]struct{}, cfg.initialCapacity)}
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}
	d.seen[key] = struct{}{}
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

// Meetings keeps the first meeting for each identity key (id, else conference
// record id) and preserves the order of survivors. Meetings without any key
// are always kept.
func Meetings(ctx context.Context, meetings []model.Meeting) []model.Meeting {
	d := NewInMemoryDeduper(WithInitialCapacity(len(meetings)))
	out := make([]model.Meeting, 0, len(meetings))
	for _, m := range meetings {
		key, ok := m.Key()
		if ok && d.SeenAndRecord(ctx, key) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Employees drops entries with a blank email and keeps the first entry per
// email, compared case-insensitively. Order is preserved.
func Employees(ctx context.Context, employees []model.EmployeeRef) []model.EmployeeRef {
	d := NewInMemoryDeduper(WithInitialCapacity(len(employees)))
	out := make([]model.EmployeeRef, 0, len(employees))
	for _, e := range employees {
		email := strings.TrimSpace(e.Email)
		if email == "" {
			continue
		}
		if d.SeenAndRecord(ctx, strings.ToLower(email)) {
			continue
		}
		e.Email = email
		out = append(out, e)
	}
	return out
}
