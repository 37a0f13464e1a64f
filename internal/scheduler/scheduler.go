// Package scheduler triggers batch runs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/robfig/cron/v3"
)

// FallbackSpec is used when a kind has no cron spec configured.
const FallbackSpec = "@hourly"

// ErrInvalidSpec wraps a cron expression that does not parse.
var ErrInvalidSpec = errors.New("invalid cron spec")

// Runner executes one batch of kind.
type Runner interface {
	Run(ctx context.Context, kind model.Kind) ([]model.EnrichedMeeting, *model.BatchRun, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithCron replaces the underlying cron instance, mostly for tests.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) { s.cron = c }
}

// Scheduler owns one cron entry per meeting kind.
type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	entries map[model.Kind]cron.EntryID
	specs   map[model.Kind]string
	ctx     context.Context
	cancel  context.CancelFunc
	logger  logger.Logger
}

// New creates a scheduler for runner. specs maps a kind to a standard
// 5-field cron expression or descriptor; blank specs use FallbackSpec.
func New(runner Runner, specs map[model.Kind]string, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		runner:  runner,
		entries: make(map[model.Kind]cron.EntryID),
		specs:   make(map[model.Kind]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("scheduler")
	}
	if s.cron == nil {
		s.cron = cron.New()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, kind := range []model.Kind{model.KindScheduled, model.KindCompleted} {
		spec, ok := specs[kind]
		if !ok {
			continue
		}
		spec = strings.TrimSpace(spec)
		if spec == "" {
			spec = FallbackSpec
		}
		id, err := s.cron.AddFunc(spec, s.job(kind))
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidSpec, kind, spec, err)
		}
		s.entries[kind] = id
		s.specs[kind] = spec
	}
	return s, nil
}

// Spec returns the effective spec of kind.
func (s *Scheduler) Spec(kind model.Kind) (string, bool) {
	spec, ok := s.specs[kind]
	return spec, ok
}

// Trigger runs kind immediately, outside its schedule.
func (s *Scheduler) Trigger(kind model.Kind) {
	s.job(kind)()
}

func (s *Scheduler) job(kind model.Kind) func() {
	return func() {
		meetings, run, err := s.runner.Run(s.ctx, kind)
		if err != nil {
			s.logger.Error(s.ctx, "scheduled run failed", logger.String("kind", string(kind)), logger.Error(err))
			return
		}
		s.logger.Info(s.ctx, "scheduled run finished",
			logger.String("kind", string(kind)),
			logger.Int64("batch_id", run.ID),
			logger.String("status", string(run.Status)),
			logger.Int("meetings", len(meetings)))
	}
}

// Run starts the cron loop in the background.
func (s *Scheduler) Run(ctx context.Context) {
	for kind, spec := range s.specs {
		s.logger.Info(ctx, "scheduling batch", logger.String("kind", string(kind)), logger.String("spec", spec))
	}
	s.cron.Start()
	<-ctx.Done()
}

// Shutdown stops scheduling and waits for running jobs, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := s.cron.Stop()
	defer s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}
