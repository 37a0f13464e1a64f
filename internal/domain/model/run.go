package model

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound reports that no BatchRun matched a lookup.
var ErrRunNotFound = errors.New("batch run not found")

// RunStatus is the lifecycle state of a BatchRun.
type RunStatus string

const (
	StatusInProgress     RunStatus = "IN_PROGRESS"
	StatusSuccess        RunStatus = "SUCCESS"
	StatusPartialSuccess RunStatus = "PARTIAL_SUCCESS"
	StatusFailed         RunStatus = "FAILED"
)

// BatchRun is the audit record of one run of one kind.
type BatchRun struct {
	ID                   int64             `json:"id"`
	BatchName            string            `json:"batchName"`
	Kind                 Kind              `json:"kind"`
	Status               RunStatus         `json:"status"`
	StartTime            time.Time         `json:"startTime"`
	EndTime              time.Time         `json:"endTime"`
	TotalUsers           int               `json:"totalUsers"`
	SuccessfulUsers      int               `json:"successfulUsers"`
	FailedUsers          int               `json:"failedUsers"`
	FailedUserEmails     []string          `json:"failedUserEmails"`
	FailureReasons       map[string]string `json:"failureReasons,omitempty"`
	SuccessfulUserEmails []string          `json:"successfulUserEmails"`
	RecordsProcessed     int               `json:"recordsProcessed"`
	ErrorMessage         string            `json:"errorMessage,omitempty"`
	LastSuccessfulAt     *time.Time        `json:"lastSuccessfulAt,omitempty"`
}

// NewBatchRun starts an IN_PROGRESS run.
func NewBatchRun(id int64, kind Kind, start time.Time) *BatchRun {
	return &BatchRun{
		ID:                   id,
		BatchName:            kind.BatchName(),
		Kind:                 kind,
		Status:               StatusInProgress,
		StartTime:            start,
		FailedUserEmails:     []string{},
		FailureReasons:       map[string]string{},
		SuccessfulUserEmails: []string{},
	}
}

// RecordSuccess counts one successful employee.
func (r *BatchRun) RecordSuccess(email string) {
	r.SuccessfulUsers++
	r.SuccessfulUserEmails = append(r.SuccessfulUserEmails, email)
}

// RecordFailure counts one failed employee with its reason.
func (r *BatchRun) RecordFailure(email, reason string) {
	r.FailedUsers++
	r.FailedUserEmails = append(r.FailedUserEmails, email)
	if r.FailureReasons == nil {
		r.FailureReasons = map[string]string{}
	}
	r.FailureReasons[email] = reason
}

// ResolveStatus derives the terminal status from the user counts.
// An empty roster is a success.
func (r *BatchRun) ResolveStatus() RunStatus {
	switch {
	case r.FailedUsers == 0:
		return StatusSuccess
	case r.FailedUsers < r.TotalUsers:
		return StatusPartialSuccess
	default:
		return StatusFailed
	}
}

// Succeeded reports whether the run ended with usable data.
func (r *BatchRun) Succeeded() bool {
	return r.Status == StatusSuccess || r.Status == StatusPartialSuccess
}

// Clone returns a copy that shares no slices or maps with r.
func (r *BatchRun) Clone() *BatchRun {
	if r == nil {
		return nil
	}
	c := *r
	c.FailedUserEmails = append([]string{}, r.FailedUserEmails...)
	c.SuccessfulUserEmails = append([]string{}, r.SuccessfulUserEmails...)
	c.FailureReasons = make(map[string]string, len(r.FailureReasons))
	for k, v := range r.FailureReasons {
		c.FailureReasons[k] = v
	}
	if r.LastSuccessfulAt != nil {
		t := *r.LastSuccessfulAt
		c.LastSuccessfulAt = &t
	}
	return &c
}

type runTimeKey struct{}

// WithRunTime pins the reference time a run measures its windows against.
func WithRunTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, runTimeKey{}, t)
}

// RunTime returns the pinned run time of ctx, or now() when none is set.
func RunTime(ctx context.Context, now func() time.Time) time.Time {
	if t, ok := ctx.Value(runTimeKey{}).(time.Time); ok && !t.IsZero() {
		return t
	}
	return now()
}
