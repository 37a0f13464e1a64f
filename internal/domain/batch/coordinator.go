// Package batch fans employee fetches out over bounded pools and tracks the
// resulting run.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/dedupe"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/metrics"
)

// Fetcher returns one employee's raw meetings. It must not panic outward
// and reports every failure inside the result.
type Fetcher interface {
	Fetch(ctx context.Context, emp model.EmployeeRef, kind model.Kind) model.UserFetchResult
}

// Enricher transforms one employee's meetings.
type Enricher interface {
	Run(ctx context.Context, emp model.EmployeeRef, meetings []model.Meeting) []model.Meeting
}

// TaskRunner runs tasks concurrently and returns once all of them finished.
type TaskRunner interface {
	Run(ctx context.Context, tasks ...func(ctx context.Context))
}

// Starter opens the audit record of a run.
type Starter interface {
	Start(ctx context.Context, kind model.Kind) *model.BatchRun
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPipeline sets the enrichment chain for kind.
func WithPipeline(kind model.Kind, e Enricher) Option {
	return func(c *Coordinator) { c.pipelines[kind] = e }
}

// WithPool sets the task runner for kind. Its capacity should be at least
// the batch size so no employee of a batch waits on another.
func WithPool(kind model.Kind, r TaskRunner) Option {
	return func(c *Coordinator) { c.pools[kind] = r }
}

// WithStarter sets where runs are opened. Without one, runs get id 0 and
// are not recorded anywhere.
func WithStarter(s Starter) Option {
	return func(c *Coordinator) { c.starter = s }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator runs fetch and enrichment for a roster, batch after batch.
type Coordinator struct {
	fetcher   Fetcher
	pipelines map[model.Kind]Enricher
	pools     map[model.Kind]TaskRunner
	starter   Starter
	logger    logger.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(fetcher Fetcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher:   fetcher,
		pipelines: make(map[model.Kind]Enricher),
		pools:     make(map[model.Kind]TaskRunner),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("coordinator")
	}
	return c
}

// Run processes employees of kind in sequential batches of batchSize. Tasks
// inside a batch run concurrently; the next batch starts only after every
// task of the current one finished. Employee failures are recorded on the
// returned run and never abort it. The run's status reflects the user
// counts; RecordsProcessed and EndTime are left to the caller.
func (c *Coordinator) Run(ctx context.Context, employees []model.EmployeeRef, kind model.Kind, batchSize int) ([]model.Meeting, *model.BatchRun, error) {
	if batchSize < 1 {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}
	enricher, ok := c.pipelines[kind]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoPipeline, kind)
	}

	run := c.start(ctx, kind)
	ctx = model.WithRunTime(ctx, run.StartTime)
	roster := dedupe.Employees(ctx, employees)
	run.TotalUsers = len(roster)

	batches := Partition(roster, batchSize)
	c.logger.Info(ctx, "batch run started",
		logger.String("kind", string(kind)),
		logger.Int64("batch_id", run.ID),
		logger.Int("employees", len(roster)),
		logger.Int("batches", len(batches)))

	var (
		mu        sync.Mutex
		aggregate = []model.Meeting{}
	)
	runner := c.runnerFor(kind)
	for i, members := range batches {
		start := time.Now()
		tasks := make([]func(context.Context), 0, len(members))
		for _, emp := range members {
			tasks = append(tasks, func(ctx context.Context) {
				result := c.processEmployee(ctx, emp, kind, enricher)

				mu.Lock()
				defer mu.Unlock()
				if !result.Success {
					run.RecordFailure(emp.Email, result.FailureReason)
					return
				}
				run.RecordSuccess(emp.Email)
				aggregate = append(aggregate, result.Meetings...)
			})
		}
		runner.Run(ctx, tasks...)
		c.logger.Debug(ctx, "batch finished",
			logger.String("kind", string(kind)),
			logger.Int("batch", i+1),
			logger.Int("size", len(members)),
			logger.Duration("took", time.Since(start)))
	}

	run.Status = run.ResolveStatus()
	metrics.RecordUsers(string(kind), "success", run.SuccessfulUsers)
	metrics.RecordUsers(string(kind), "failure", run.FailedUsers)
	metrics.RecordMeetingsFetched(string(kind), len(aggregate))
	return aggregate, run, nil
}

// processEmployee is the task body for one employee. A panic in the fetch
// or in any stage becomes a failed result.
func (c *Coordinator) processEmployee(ctx context.Context, emp model.EmployeeRef, kind model.Kind, enricher Enricher) (result model.UserFetchResult) {
	defer func() {
		if r := recover(); r != nil {
			result = model.Failed(emp.Email, fmt.Sprintf("system error: %v", r))
		}
		if !result.Success {
			c.logger.Warn(ctx, "employee failed",
				logger.String("kind", string(kind)),
				logger.String("employee", emp.Email),
				logger.String("reason", result.FailureReason))
		}
	}()

	fetched := c.fetcher.Fetch(ctx, emp, kind)
	if !fetched.Success {
		return fetched
	}
	return model.Succeeded(emp.Email, enricher.Run(ctx, emp, fetched.Meetings))
}

func (c *Coordinator) start(ctx context.Context, kind model.Kind) *model.BatchRun {
	if c.starter != nil {
		return c.starter.Start(ctx, kind)
	}
	return model.NewBatchRun(0, kind, time.Now())
}

func (c *Coordinator) runnerFor(kind model.Kind) TaskRunner {
	if r, ok := c.pools[kind]; ok {
		return r
	}
	return unbounded{}
}

// unbounded starts one goroutine per task.
type unbounded struct{}

func (unbounded) Run(ctx context.Context, tasks ...func(context.Context)) {
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task(ctx)
		}()
	}
	wg.Wait()
}
