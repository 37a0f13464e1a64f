// Package pipeline implements the ordered enrichment chain applied to one
// employee's meeting list.
package pipeline

import (
	"context"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/metrics"
)

// Stage transforms one employee's meetings. The input slice is private to
// the stage and may be mutated; the returned slice feeds the next stage.
// Filters may shrink the list, enrichments keep its length.
type Stage func(ctx context.Context, emp model.EmployeeRef, meetings []model.Meeting) []model.Meeting

type namedStage struct {
	name string
	fn   Stage
}

// Pipeline runs stages strictly in the order they were added.
type Pipeline struct {
	stages []namedStage
}

// New returns an empty pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Then appends a stage and returns the pipeline for chaining.
func (p *Pipeline) Then(name string, fn Stage) *Pipeline {
	p.stages = append(p.stages, namedStage{name: name, fn: fn})
	return p
}

// Stages lists stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.name)
	}
	return names
}

// Run feeds meetings through every stage. Each stage receives a deep copy
// of the previous output so no stage can observe another's mutations.
func (p *Pipeline) Run(ctx context.Context, emp model.EmployeeRef, meetings []model.Meeting) []model.Meeting {
	current := meetings
	for _, s := range p.stages {
		start := time.Now()
		current = s.fn(ctx, emp, cloneAll(current))
		metrics.RecordStageLatency(s.name, float64(time.Since(start).Milliseconds()))
	}
	if current == nil {
		current = []model.Meeting{}
	}
	return current
}

func cloneAll(in []model.Meeting) []model.Meeting {
	out := make([]model.Meeting, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// Stage names, also used as metric labels.
const (
	StagePreProcess             = "pre_process"
	StageFilterAlreadyProcessed = "filter_already_processed"
	StageClassifyType           = "classify_type"
	StageFilterDateRange        = "filter_date_range"
	StageAttachInvitees         = "attach_invitees"
	StageAttachConferenceData   = "attach_conference_data"
	StageAttachParticipants     = "attach_participants"
	StageAttachTranscripts      = "attach_transcripts"
)

// ForKind builds the fixed stage order for a meeting kind. Completed-only
// stages are part of both chains and pass scheduled meetings through.
func (e *Enricher) ForKind(kind model.Kind) *Pipeline {
	return New().
		Then(StagePreProcess, e.PreProcess(kind)).
		Then(StageFilterAlreadyProcessed, e.FilterAlreadyProcessed(kind)).
		Then(StageClassifyType, ClassifyType).
		Then(StageFilterDateRange, e.filterCurrentWindow(kind)).
		Then(StageAttachInvitees, e.AttachInvitees).
		Then(StageAttachConferenceData, e.AttachConferenceData(kind)).
		Then(StageAttachParticipants, e.AttachParticipants(kind)).
		Then(StageAttachTranscripts, e.AttachTranscripts(kind))
}

// Window returns the fetch window of kind relative to now.
func (e *Enricher) Window(kind model.Kind, now time.Time) (from, to time.Time) {
	if kind == model.KindCompleted {
		return now.Add(-e.completedLookback), now
	}
	return now, now.Add(e.scheduledWindow)
}

// filterCurrentWindow applies FilterDateRange over the run's fetch window.
// Scheduled meetings already in progress start before the window and are
// dropped here even though preProcess kept them.
func (e *Enricher) filterCurrentWindow(kind model.Kind) Stage {
	return func(ctx context.Context, emp model.EmployeeRef, meetings []model.Meeting) []model.Meeting {
		lower, upper := e.Window(kind, model.RunTime(ctx, e.now))
		return FilterDateRange(kind, lower, upper)(ctx, emp, meetings)
	}
}

func (e *Enricher) logFor(emp model.EmployeeRef) logger.Logger {
	return e.logger.With(logger.String("employee", emp.Email))
}
