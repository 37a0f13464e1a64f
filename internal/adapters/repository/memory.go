package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
)

// storedMeeting is a record with its surrogate id.
type storedMeeting struct {
	id     int64
	record model.MeetingRecord
}

// Memory is an in-process MeetingStore and RunStore. Writes are all or
// nothing: a failed call leaves the previous state visible.
type Memory struct {
	logger logger.Logger

	mu        sync.RWMutex
	failWith  error
	scheduled []storedMeeting
	schedSeq  int64
	completed []storedMeeting
	byKey     map[string]int // completed key -> index
	compSeq   int64
	runs      map[int64]*model.BatchRun
}

// NewMemory creates an empty store.
func NewMemory(opts ...Option) *Memory {
	o := applyOptions("repository", opts)
	return &Memory{
		logger:   o.logger,
		failWith: o.failWith,
		byKey:    make(map[string]int),
		runs:     make(map[int64]*model.BatchRun),
	}
}

// SetWriteError makes subsequent meeting writes fail with err; nil clears it.
func (m *Memory) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *Memory) ReplaceScheduled(ctx context.Context, records []model.MeetingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return fmt.Errorf("%w: replace scheduled: %v", ErrPersistence, m.failWith)
	}

	next := make([]storedMeeting, 0, len(records))
	for i, r := range records {
		next = append(next, storedMeeting{id: int64(i + 1), record: r})
	}
	m.scheduled = next
	m.schedSeq = int64(len(records))
	m.logger.Debug(ctx, "replaced scheduled meetings", logger.Int("count", len(records)))
	return nil
}

func (m *Memory) UpsertCompleted(ctx context.Context, records []model.MeetingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return fmt.Errorf("%w: upsert completed: %v", ErrPersistence, m.failWith)
	}

	for _, r := range records {
		if r.Key != "" {
			if idx, ok := m.byKey[r.Key]; ok {
				m.completed[idx].record = r
				continue
			}
		}
		m.compSeq++
		m.completed = append(m.completed, storedMeeting{id: m.compSeq, record: r})
		if r.Key != "" {
			m.byKey[r.Key] = len(m.completed) - 1
		}
	}
	m.logger.Debug(ctx, "upserted completed meetings", logger.Int("count", len(records)))
	return nil
}

func (m *Memory) ExistingKeys(_ context.Context, kind model.Kind, keys []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool)
	switch kind {
	case model.KindCompleted:
		for _, k := range keys {
			if _, ok := m.byKey[k]; ok {
				out[k] = true
			}
		}
	case model.KindScheduled:
		want := make(map[string]bool, len(keys))
		for _, k := range keys {
			want[k] = true
		}
		for _, s := range m.scheduled {
			if want[s.record.Key] {
				out[s.record.Key] = true
			}
		}
	}
	return out, nil
}

func (m *Memory) Count(_ context.Context, kind model.Kind) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if kind == model.KindScheduled {
		return len(m.scheduled), nil
	}
	return len(m.completed), nil
}

// Meetings returns stored records of kind ordered by surrogate id.
func (m *Memory) Meetings(kind model.Kind) []model.MeetingRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.completed
	if kind == model.KindScheduled {
		src = m.scheduled
	}
	sorted := append([]storedMeeting(nil), src...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })
	out := make([]model.MeetingRecord, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, s.record)
	}
	return out
}

func (m *Memory) CreateRun(_ context.Context, run *model.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("%w: run %d already exists", ErrPersistence, run.ID)
	}
	m.runs[run.ID] = run.Clone()
	return nil
}

func (m *Memory) CompleteRun(_ context.Context, run *model.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; !exists {
		return fmt.Errorf("%w: run %d", ErrRunNotFound, run.ID)
	}
	m.runs[run.ID] = run.Clone()
	return nil
}

func (m *Memory) LastRun(_ context.Context, batchName string) (*model.BatchRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *model.BatchRun
	for _, r := range m.runs {
		if r.BatchName != batchName {
			continue
		}
		if last == nil || r.StartTime.After(last.StartTime) || (r.StartTime.Equal(last.StartTime) && r.ID > last.ID) {
			last = r
		}
	}
	if last == nil {
		return nil, ErrRunNotFound
	}
	return last.Clone(), nil
}
