// Package repository persists meetings and batch-run audit records.
package repository

import (
	"context"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
)

// MeetingStore is the persistence gateway for harvested meetings.
type MeetingStore interface {
	// ReplaceScheduled deletes every scheduled meeting, resets the identity
	// sequence and inserts records, all in one transaction.
	ReplaceScheduled(ctx context.Context, records []model.MeetingRecord) error

	// UpsertCompleted inserts or updates completed meetings by identity key in
	// one transaction. Records without a key are always inserted.
	UpsertCompleted(ctx context.Context, records []model.MeetingRecord) error

	// ExistingKeys reports which of keys are already stored for kind.
	ExistingKeys(ctx context.Context, kind model.Kind, keys []string) (map[string]bool, error)

	// Count returns the number of stored meetings of kind.
	Count(ctx context.Context, kind model.Kind) (int, error)
}

// RunStore keeps one audit row per batch run.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.BatchRun) error
	CompleteRun(ctx context.Context, run *model.BatchRun) error
	// LastRun returns the most recently started run of batchName or ErrRunNotFound.
	LastRun(ctx context.Context, batchName string) (*model.BatchRun, error)
}
