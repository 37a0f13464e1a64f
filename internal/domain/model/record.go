package model

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// MeetingRecord is the persisted shape of a meeting. Child lists are
// fully built here so the store never has to link entities itself.
type MeetingRecord struct {
	Key                 string
	MeetingID           string
	ConferenceRecordID  string
	RecurringEventID    string
	Kind                Kind
	Type                MeetingType
	Summary             string
	StartTime           time.Time
	EndTime             time.Time
	Timezone            string
	OrganizerEmail      string
	HangoutLink         string
	EmployeeEmail       string
	Recurrence          []string
	RecurrenceFrequency string
	Invitees            []Attendee
	Participants        []Participant
	Transcripts         []Transcript
	BatchID             int64
}

// EnrichedMeeting is the outward DTO returned by triggers and published in events.
type EnrichedMeeting struct {
	ID                  string        `json:"id,omitempty"`
	ConferenceRecordID  string        `json:"conferenceRecordId,omitempty"`
	RecurringEventID    string        `json:"recurringEventId,omitempty"`
	MeetingType         MeetingType   `json:"meetingType"`
	Summary             string        `json:"summary"`
	StartTime           string        `json:"startTime"`
	EndTime             string        `json:"endTime"`
	Timezone            string        `json:"timezone,omitempty"`
	OrganizerEmail      string        `json:"organizerEmail,omitempty"`
	HangoutLink         string        `json:"hangoutLink,omitempty"`
	EmployeeEmail       string        `json:"employeeEmail"`
	Recurrence          []string      `json:"recurrence,omitempty"`
	RecurrenceFrequency string        `json:"recurrenceFrequency,omitempty"`
	Invitees            []Attendee    `json:"invitees"`
	Participants        []Participant `json:"participants,omitempty"`
	Transcripts         []Transcript  `json:"transcripts,omitempty"`
}

// ToRecord maps a meeting to its persisted shape.
func ToRecord(m Meeting, batchID int64) MeetingRecord {
	key, _ := m.Key()
	start, _ := m.StartTime()
	end, _ := m.EndTime()
	return MeetingRecord{
		Key:                 key,
		MeetingID:           m.ID,
		ConferenceRecordID:  m.ConferenceRecordID,
		RecurringEventID:    m.RecurringEventID,
		Kind:                m.Kind,
		Type:                m.Type,
		Summary:             m.Summary,
		StartTime:           start,
		EndTime:             end,
		Timezone:            m.Timezone,
		OrganizerEmail:      m.OrganizerEmail,
		HangoutLink:         m.HangoutLink,
		EmployeeEmail:       m.EmployeeEmail,
		Recurrence:          append([]string(nil), m.Recurrence...),
		RecurrenceFrequency: RecurrenceFrequency(m.Recurrence),
		Invitees:            nonNilAttendees(m.Invitees),
		Participants:        append([]Participant(nil), m.Participants...),
		Transcripts:         append([]Transcript(nil), m.Transcripts...),
		BatchID:             batchID,
	}
}

// ToRecords maps a list in order.
func ToRecords(meetings []Meeting, batchID int64) []MeetingRecord {
	out := make([]MeetingRecord, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, ToRecord(m, batchID))
	}
	return out
}

// ToEnriched maps a meeting to the outward DTO.
func ToEnriched(m Meeting) EnrichedMeeting {
	return EnrichedMeeting{
		ID:                  m.ID,
		ConferenceRecordID:  m.ConferenceRecordID,
		RecurringEventID:    m.RecurringEventID,
		MeetingType:         m.Type,
		Summary:             m.Summary,
		StartTime:           m.Start,
		EndTime:             m.End,
		Timezone:            m.Timezone,
		OrganizerEmail:      m.OrganizerEmail,
		HangoutLink:         m.HangoutLink,
		EmployeeEmail:       m.EmployeeEmail,
		Recurrence:          append([]string(nil), m.Recurrence...),
		RecurrenceFrequency: RecurrenceFrequency(m.Recurrence),
		Invitees:            nonNilAttendees(m.Invitees),
		Participants:        append([]Participant(nil), m.Participants...),
		Transcripts:         append([]Transcript(nil), m.Transcripts...),
	}
}

// ToEnrichedList maps a list in order and never returns nil.
func ToEnrichedList(meetings []Meeting) []EnrichedMeeting {
	out := make([]EnrichedMeeting, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, ToEnriched(m))
	}
	return out
}

// RecurrenceFrequency returns the FREQ of the first parsable RRULE line,
// e.g. "WEEKLY", or "" when there is none.
func RecurrenceFrequency(recurrence []string) string {
	for _, line := range recurrence {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToUpper(line), "RRULE:") {
			continue
		}
		opt, err := rrule.StrToROption(line[len("RRULE:"):])
		if err != nil {
			continue
		}
		return frequencyName(opt.Freq)
	}
	return ""
}

func frequencyName(f rrule.Frequency) string {
	switch f {
	case rrule.YEARLY:
		return "YEARLY"
	case rrule.MONTHLY:
		return "MONTHLY"
	case rrule.WEEKLY:
		return "WEEKLY"
	case rrule.DAILY:
		return "DAILY"
	case rrule.HOURLY:
		return "HOURLY"
	case rrule.MINUTELY:
		return "MINUTELY"
	case rrule.SECONDLY:
		return "SECONDLY"
	default:
		return ""
	}
}

func nonNilAttendees(in []Attendee) []Attendee {
	return append([]Attendee{}, in...)
}
