package pipeline

import (
	"context"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/metrics"
)

// InviteeFetcher looks up the attendee list of one calendar event.
type InviteeFetcher interface {
	Invitees(ctx context.Context, email, eventID string) ([]model.Attendee, error)
}

// ConferenceFetcher looks up conference records and their sub-resources.
type ConferenceFetcher interface {
	ConferenceRecords(ctx context.Context, email string, from, to time.Time) ([]model.ConferenceRecord, error)
	Participants(ctx context.Context, email, conferenceRecordID string) ([]model.Participant, error)
	Transcripts(ctx context.Context, email, conferenceRecordID string) ([]model.Transcript, error)
}

// ProcessedChecker reports which identity keys are already persisted.
type ProcessedChecker interface {
	ExistingKeys(ctx context.Context, kind model.Kind, keys []string) (map[string]bool, error)
}

// Enricher owns the collaborators the stages call.
type Enricher struct {
	invitees      InviteeFetcher
	conferences   ConferenceFetcher
	processed     ProcessedChecker
	skipProcessed bool

	now               func() time.Time
	tolerance         time.Duration
	scheduledWindow   time.Duration
	completedLookback time.Duration

	logger logger.Logger
}

// NewEnricher creates an Enricher. Missing collaborators make their stages
// pass meetings through with empty sub-resources.
func NewEnricher(opts ...Option) *Enricher {
	e := &Enricher{
		now:               time.Now,
		tolerance:         5 * time.Minute,
		scheduledWindow:   7 * 24 * time.Hour,
		completedLookback: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Named("pipeline")
	}
	return e
}

// PreProcess stamps kind and owner, drops meetings whose times do not parse
// or fail the kind's validity check, then classifies the rest. Completed
// meetings must have ended before now; scheduled meetings must end after now.
func (e *Enricher) PreProcess(kind model.Kind) Stage {
	return func(ctx context.Context, emp model.EmployeeRef, meetings []model.Meeting) []model.Meeting {
		now := model.RunTime(ctx, e.now)
		out := meetings[:0]
		for _, m := range meetings {
			if _, err := m.StartTime(); err != nil {
				e.logFor(emp).Debug(ctx, "dropping meeting with bad start", logger.String("meeting_id", m.ID))
				continue
			}
			end, err := m.EndTime()
			if err != nil {
				e.logFor(emp).Debug(ctx, "dropping meeting with bad end", logger.String("meeting_id", m.ID))
				continue
			}
			if kind == model.KindCompleted && !end.Before(now) {
				continue
			}
			if kind == model.KindScheduled && !end.After(now) {
				continue
			}
			m.Kind = kind
			m.EmployeeEmail = emp.Email
			out = append(out, m)
		}
		return ClassifyType(ctx, emp, out)
	}
}

// FilterAlreadyProcessed drops completed meetings whose key is already
// stored. It is a no-op for scheduled meetings, when disabled, or when the
// lookup fails.
func (e *Enricher) FilterAlreadyProcessed(kind model.Kind) Stage {
	return func(ctx context.Context, emp model.EmployeeRef, meetings []model.Meeting) []model.Meeting {
		if kind != model.KindCompleted || !e.skipProcessed || e.processed == nil || len(meetings) == 0 {
			return meetings
		}
		keys := make([]string, 0, len(meetings))
		for _, m := range meetings {
			if k, ok := m.Key(); ok {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			return meetings
		}
		existing, err := e.processed.ExistingKeys(ctx, kind, keys)
		if err != nil {
			metrics.RecordEnrichmentError(StageFilterAlreadyProcessed)
			e.logFor(emp).Warn(ctx, "processed lookup failed, keeping all meetings", logger.Error(err))
			return meetings
		}
		out := meetings[:0]
		for _, m := range meetings {
			if k, ok := m.Key(); ok && existing[k] {
				continue
			}
			out = append(out, m)
		}
		return out
	}
}

// ClassifyType sets the meeting type: a recurring event id makes an
// occurrence, a non-empty recurrence list a recurrence, anything else a
// single instance.
func ClassifyType(_ context.Context, _ model.EmployeeRef, meetings []model.Meeting) []model.Meeting {
	for i := range meetings {
		meetings[i].Type = classify(meetings[i])
	}
	return meetings
}

func classify(m model.Meeting) model.MeetingType {
	switch {
	case m.RecurringEventID != "":
		return model.TypeOccurrence
	case len(m.Recurrence) > 0:
		return model.TypeRecurrence
	default:
		return model.TypeSingleInstance
	}
}

// FilterDateRange keeps scheduled meetings starting within [lower, upper].
// Completed meetings pass unchanged.
func FilterDateRange(kind model.Kind, lower, upper time.Time) Stage {
	return func(_ context.Context, _ model.EmployeeRef, meetings []model.Meeting) []model.Meeting {
		if kind != model.KindScheduled {
			return meetings
		}
		out := meetings[:0]
		for _, m := range meetings {
			start, err := m.StartTime()
			if err != nil || start.Before(lower) || start.After(upper) {
				continue
			}
			out = append(out, m)
		}
		return out
	}
}

// AttachInvitees fetches invitees per meeting. A failed lookup leaves an
// empty list.
func (e *Enricher) AttachInvitees(ctx context.Context, emp model.EmployeeRef, meetings []model.Meeting) []model.Meeting {
	for i := range meetings {
		meetings[i].Invitees = []model.Attendee{}
		if e.invitees == nil || meetings[i].ID == "" {
			continue
		}
		invitees, err := e.invitees.Invitees(ctx, emp.Email, meetings[i].ID)
		if err != nil {
			metrics.RecordEnrichmentError(StageAttachInvitees)
			e.logFor(emp).Debug(ctx, "invitee lookup failed", logger.String("meeting_id", meetings[i].ID), logger.Error(err))
			continue
		}
		if invitees != nil {
			meetings[i].Invitees = invitees
		}
	}
	return meetings
}

// AttachConferenceData matches completed meetings to conference records
// whose start is within the tolerance of the meeting start. The closest
// record wins and each record is used at most once. Unmatched meetings pass
// through unchanged.
func (e *Enricher) AttachConferenceData(kind model.Kind) Stage {
	return func(ctx context.Context, emp model.EmployeeRef, meetings []model.Meeting) []model.Meeting {
		if kind != model.KindCompleted || e.conferences == nil || len(meetings) == 0 {
			return meetings
		}
		from, to, ok := span(meetings)
		if !ok {
			return meetings
		}
		records, err := e.conferences.ConferenceRecords(ctx, emp.Email, from.Add(-e.tolerance), to.Add(e.tolerance))
		if err != nil {
			metrics.RecordEnrichmentError(StageAttachConferenceData)
			e.logFor(emp).Warn(ctx, "conference record lookup failed", logger.Error(err))
			return meetings
		}

		used := make(map[int]bool, len(records))
		for i := range meetings {
			if meetings[i].ConferenceRecordID != "" {
				continue
			}
			start, err := meetings[i].StartTime()
			if err != nil {
				continue
			}
			if idx := e.closestRecord(records, used, start); idx >= 0 {
				used[idx] = true
				meetings[i].ConferenceRecordID = records[idx].ID
			}
		}
		return meetings
	}
}

func (e *Enricher) closestRecord(records []model.ConferenceRecord, used map[int]bool, start time.Time) int {
	best := -1
	var bestDiff time.Duration
	for i, r := range records {
		if used[i] {
			continue
		}
		diff := r.Start.Sub(start)
		if diff < 0 {
			diff = -diff
		}
		if diff > e.tolerance {
			continue
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

func span(meetings []model.Meeting) (from, to time.Time, ok bool) {
	for _, m := range meetings {
		start, err := m.StartTime()
		if err != nil {
			continue
		}
		if !ok || start.Before(from) {
			from = start
		}
		if !ok || start.After(to) {
			to = start
		}
		ok = true
	}
	return from, to, ok
}

// AttachParticipants fills participants for completed meetings that carry a
// conference record id.
func (e *Enricher) AttachParticipants(kind model.Kind) Stage {
	return func(ctx context.Context, emp model.EmployeeRef, meetings []model.Meeting) []model.Meeting {
		if kind != model.KindCompleted {
			return meetings
		}
		for i := range meetings {
			id := meetings[i].ConferenceRecordID
			if id == "" || e.conferences == nil {
				continue
			}
			participants, err := e.conferences.Participants(ctx, emp.Email, id)
			if err != nil {
				metrics.RecordEnrichmentError(StageAttachParticipants)
				e.logFor(emp).Debug(ctx, "participant lookup failed", logger.String("conference_record_id", id), logger.Error(err))
				participants = nil
			}
			meetings[i].Participants = append([]model.Participant{}, participants...)
		}
		return meetings
	}
}

// AttachTranscripts fills transcripts for completed meetings that carry a
// conference record id.
func (e *Enricher) AttachTranscripts(kind model.Kind) Stage {
	return func(ctx context.Context, emp model.EmployeeRef, meetings []model.Meeting) []model.Meeting {
		if kind != model.KindCompleted {
			return meetings
		}
		for i := range meetings {
			id := meetings[i].ConferenceRecordID
			if id == "" || e.conferences == nil {
				continue
			}
			transcripts, err := e.conferences.Transcripts(ctx, emp.Email, id)
			if err != nil {
				metrics.RecordEnrichmentError(StageAttachTranscripts)
				e.logFor(emp).Debug(ctx, "transcript lookup failed", logger.String("conference_record_id", id), logger.Error(err))
				transcripts = nil
			}
			meetings[i].Transcripts = append([]model.Transcript{}, transcripts...)
		}
		return meetings
	}
}
