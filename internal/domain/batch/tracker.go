package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/metrics"
	"github.com/bwmarrin/snowflake"
)

// RunStore persists BatchRun audit records.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.BatchRun) error
	CompleteRun(ctx context.Context, run *model.BatchRun) error
	LastRun(ctx context.Context, batchName string) (*model.BatchRun, error)
}

// Tracker opens and closes BatchRun records. Store failures are logged and
// never fail the run itself.
type Tracker struct {
	store  RunStore
	node   *snowflake.Node
	now    func() time.Time
	logger logger.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerClock replaces time.Now.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithTrackerLogger sets the logger.
func WithTrackerLogger(l logger.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a Tracker whose run ids come from snowflake node nodeID.
func NewTracker(store RunStore, nodeID int64, opts ...TrackerOption) (*Tracker, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("run id generator: %w", err)
	}
	t := &Tracker{store: store, node: node, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.Named("tracker")
	}
	return t, nil
}

// Start creates an IN_PROGRESS run. LastSuccessfulAt is carried over from
// the previous run with the same batch name.
func (t *Tracker) Start(ctx context.Context, kind model.Kind) *model.BatchRun {
	run := model.NewBatchRun(t.node.Generate().Int64(), kind, t.now())

	prev, err := t.store.LastRun(ctx, run.BatchName)
	switch {
	case err == nil:
		if prev.LastSuccessfulAt != nil {
			at := *prev.LastSuccessfulAt
			run.LastSuccessfulAt = &at
		}
	case !errors.Is(err, model.ErrRunNotFound):
		t.logger.Warn(ctx, "failed to load previous run", logger.String("batch", run.BatchName), logger.Error(err))
	}

	if err := t.store.CreateRun(ctx, run); err != nil {
		t.logger.Error(ctx, "failed to record run start", logger.Int64("batch_id", run.ID), logger.Error(err))
	}
	return run
}

// Finish stamps the end of run. A non-nil cause fails the run regardless of
// user counts; otherwise the status follows the counts. recordsProcessed is
// the meeting count after dedupe.
func (t *Tracker) Finish(ctx context.Context, run *model.BatchRun, recordsProcessed int, cause error) {
	run.RecordsProcessed = recordsProcessed
	run.EndTime = t.now()
	if cause != nil {
		run.Status = model.StatusFailed
		run.ErrorMessage = cause.Error()
	} else {
		run.Status = run.ResolveStatus()
	}
	if run.Succeeded() {
		at := run.EndTime
		run.LastSuccessfulAt = &at
	}

	if err := t.store.CompleteRun(ctx, run); err != nil {
		t.logger.Error(ctx, "failed to record run completion", logger.Int64("batch_id", run.ID), logger.Error(err))
	}

	took := run.EndTime.Sub(run.StartTime)
	metrics.RecordRun(string(run.Kind), string(run.Status), float64(took.Milliseconds()))
	metrics.UpdateLastRunTimestamp(string(run.Kind), float64(run.EndTime.Unix()))
	t.logger.Info(ctx, "batch run finished",
		logger.String("kind", string(run.Kind)),
		logger.Int64("batch_id", run.ID),
		logger.String("status", string(run.Status)),
		logger.Int("total_users", run.TotalUsers),
		logger.Int("failed_users", run.FailedUsers),
		logger.Int("records", run.RecordsProcessed),
		logger.Duration("took", took))
}

// Last returns the latest run of kind.
func (t *Tracker) Last(ctx context.Context, kind model.Kind) (*model.BatchRun, error) {
	return t.store.LastRun(ctx, kind.BatchName())
}
