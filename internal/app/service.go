// Package service runs one batch end to end: roster, fan-out, dedupe,
// persistence, publish and run bookkeeping. The HTTP API, the scheduler and
// the CLI all drive it.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/dedupe"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/metrics"
)

var (
	// ErrRunInProgress is returned when a run of the same kind is executing.
	ErrRunInProgress = errors.New("batch run already in progress")
	// ErrDirectory wraps a failed roster lookup.
	ErrDirectory = errors.New("employee directory unavailable")
)

// Directory lists the employees to harvest.
type Directory interface {
	Employees(ctx context.Context) ([]model.EmployeeRef, error)
}

// Coordinator fetches and enriches meetings for a roster.
type Coordinator interface {
	Run(ctx context.Context, employees []model.EmployeeRef, kind model.Kind, batchSize int) ([]model.Meeting, *model.BatchRun, error)
}

// Tracker closes runs and answers run lookups.
type Tracker interface {
	Finish(ctx context.Context, run *model.BatchRun, recordsProcessed int, cause error)
	Last(ctx context.Context, kind model.Kind) (*model.BatchRun, error)
}

// MeetingStore is the persistence gateway.
type MeetingStore interface {
	ReplaceScheduled(ctx context.Context, records []model.MeetingRecord) error
	UpsertCompleted(ctx context.Context, records []model.MeetingRecord) error
	Count(ctx context.Context, kind model.Kind) (int, error)
}

// Publisher announces a finished run.
type Publisher interface {
	Publish(ctx context.Context, e model.MeetingEvent) error
}

// Background is a long-running component owned by the service.
type Background interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithBatchSize sets how many employees are fetched concurrently.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithChunkSize sets how many completed records go into one upsert transaction.
func WithChunkSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBackground registers a component started by Start and stopped by Stop.
func WithBackground(b Background) Option {
	return func(s *Service) { s.background = append(s.background, b) }
}

// WithCloser registers a resource released by Stop, in reverse order.
func WithCloser(c io.Closer) Option {
	return func(s *Service) { s.closers = append(s.closers, c) }
}

// Service runs batches. At most one run per kind executes at a time; the
// two kinds run independently.
type Service struct {
	directory   Directory
	coordinator Coordinator
	tracker     Tracker
	store       MeetingStore
	publisher   Publisher

	batchSize int
	chunkSize int
	now       func() time.Time

	locks   map[model.Kind]*sync.Mutex
	running map[model.Kind]*atomic.Bool

	mu         sync.RWMutex
	started    bool
	runCtx     context.Context
	cancel     context.CancelFunc
	background []Background
	closers    []io.Closer
	lastStatus map[model.Kind]model.RunStatus

	logger logger.Logger
}

// New constructs a Service.
func New(directory Directory, coordinator Coordinator, tracker Tracker, store MeetingStore, publisher Publisher, opts ...Option) *Service {
	s := &Service{
		directory:   directory,
		coordinator: coordinator,
		tracker:     tracker,
		store:       store,
		publisher:   publisher,
		batchSize:   10,
		chunkSize:   500,
		now:         time.Now,
		locks: map[model.Kind]*sync.Mutex{
			model.KindScheduled: {},
			model.KindCompleted: {},
		},
		running: map[model.Kind]*atomic.Bool{
			model.KindScheduled: {},
			model.KindCompleted: {},
		},
		lastStatus: make(map[model.Kind]model.RunStatus),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	return s
}

// Start launches background components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, b := range s.background {
		go b.Run(s.runCtx)
	}
	s.started = true
	s.logger.Info(ctx, "meeting batch service started",
		logger.Int("batch_size", s.batchSize),
		logger.Int("chunk_size", s.chunkSize))
	return nil
}

// Stop shuts background components down and releases resources.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		for _, b := range s.background {
			if err := b.Shutdown(ctx); err != nil {
				s.logger.Warn(ctx, "background shutdown failed", logger.Error(err))
			}
		}
		s.cancel()
		s.started = false
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn(ctx, "close failed", logger.Error(err))
		}
	}
	s.closers = nil
	s.logger.Info(ctx, "meeting batch service stopped")
}

// RunScheduled harvests scheduled meetings.
func (s *Service) RunScheduled(ctx context.Context) ([]model.EnrichedMeeting, error) {
	meetings, _, err := s.Run(ctx, model.KindScheduled)
	return meetings, err
}

// RunCompleted harvests completed meetings.
func (s *Service) RunCompleted(ctx context.Context) ([]model.EnrichedMeeting, error) {
	meetings, _, err := s.Run(ctx, model.KindCompleted)
	return meetings, err
}

// Run executes one batch of kind and returns the deduplicated meetings with
// the closed run record. Employee failures never fail the call; a roster or
// persistence failure does. Cancelling ctx does not stop a run once started.
func (s *Service) Run(ctx context.Context, kind model.Kind) ([]model.EnrichedMeeting, *model.BatchRun, error) {
	ctx = context.WithoutCancel(ctx)
	lock, ok := s.locks[kind]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", model.ErrUnknownKind, kind)
	}
	if !lock.TryLock() {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunInProgress, kind)
	}
	defer lock.Unlock()
	s.running[kind].Store(true)
	defer s.running[kind].Store(false)

	employees, err := s.directory.Employees(ctx)
	if err != nil {
		s.logger.Error(ctx, "failed to load employees", logger.String("kind", string(kind)), logger.Error(err))
		return nil, nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}

	fetched, run, err := s.coordinator.Run(ctx, employees, kind, s.batchSize)
	if err != nil {
		return nil, nil, err
	}

	unique := dedupe.Meetings(ctx, fetched)
	if dropped := len(fetched) - len(unique); dropped > 0 {
		metrics.RecordMeetingDuplicates(string(kind), dropped)
	}

	// Nothing is written for a run where every employee failed.
	if run.Status == model.StatusFailed {
		s.logger.Warn(ctx, "every employee failed, skipping persistence and publish",
			logger.String("kind", string(kind)), logger.Int64("batch_id", run.ID))
		s.finish(ctx, run, 0, nil)
		return []model.EnrichedMeeting{}, run, nil
	}

	persisted, err := s.persist(ctx, kind, model.ToRecords(unique, run.ID))
	if persisted > 0 {
		metrics.RecordMeetingsPersisted(string(kind), persisted)
	}
	if err != nil {
		s.logger.Error(ctx, "failed to persist meetings",
			logger.String("kind", string(kind)),
			logger.Int64("batch_id", run.ID),
			logger.Int("persisted", persisted),
			logger.Error(err))
		s.finish(ctx, run, persisted, err)
		return nil, run, err
	}

	enriched := model.ToEnrichedList(unique)
	s.publish(ctx, run.ID, enriched)
	s.finish(ctx, run, len(unique), nil)
	return enriched, run, nil
}

// persist writes records and returns how many are durable. Scheduled
// records replace the table in one transaction; completed records are
// upserted chunk by chunk, so earlier chunks survive a later failure.
func (s *Service) persist(ctx context.Context, kind model.Kind, records []model.MeetingRecord) (int, error) {
	if kind == model.KindScheduled {
		if err := s.store.ReplaceScheduled(ctx, records); err != nil {
			return 0, err
		}
		return len(records), nil
	}

	done := 0
	for start := 0; start < len(records); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.store.UpsertCompleted(ctx, records[start:end]); err != nil {
			return done, err
		}
		done = end
	}
	return done, nil
}

// publish is fire-and-forget: a failure is logged and counted only.
func (s *Service) publish(ctx context.Context, batchID int64, meetings []model.EnrichedMeeting) {
	err := s.publisher.Publish(ctx, model.NewMeetingEvent(batchID, meetings, s.now()))
	if err != nil {
		metrics.RecordPublish("failure")
		s.logger.Error(ctx, "failed to publish meeting event",
			logger.Int64("batch_id", batchID), logger.Error(err))
		return
	}
	metrics.RecordPublish("success")
}

func (s *Service) finish(ctx context.Context, run *model.BatchRun, records int, cause error) {
	s.tracker.Finish(ctx, run, records, cause)
	s.mu.Lock()
	s.lastStatus[run.Kind] = run.Status
	s.mu.Unlock()
}

// LastRun returns the latest run record of kind.
func (s *Service) LastRun(ctx context.Context, kind model.Kind) (*model.BatchRun, error) {
	return s.tracker.Last(ctx, kind)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	stats := map[string]interface{}{
		"started":   s.started,
		"batchSize": s.batchSize,
		"chunkSize": s.chunkSize,
	}
	for kind, status := range s.lastStatus {
		stats["last_"+string(kind)+"_status"] = status
	}
	s.mu.RUnlock()

	for kind, running := range s.running {
		stats[string(kind)+"Running"] = running.Load()
		if n, err := s.store.Count(ctx, kind); err == nil {
			stats[string(kind)+"Meetings"] = n
		}
	}
	return stats
}
