// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownKind is returned by ParseKind for anything but scheduled or completed.
var ErrUnknownKind = errors.New("unknown meeting kind")

// Kind selects which specialization of the pipeline a run uses.
type Kind string

const (
	KindScheduled Kind = "scheduled"
	KindCompleted Kind = "completed"
)

// ParseKind accepts "scheduled" or "completed" in any case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindScheduled:
		return KindScheduled, nil
	case KindCompleted:
		return KindCompleted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// BatchName is the audit name used for runs of this kind.
func (k Kind) BatchName() string {
	return string(k) + "-meetings-batch"
}

// MeetingType is assigned by classification.
type MeetingType string

const (
	TypeUnset          MeetingType = ""
	TypeSingleInstance MeetingType = "SINGLE_INSTANCE"
	TypeRecurrence     MeetingType = "RECURRENCE"
	TypeOccurrence     MeetingType = "OCCURRENCE"
)

// EmployeeRef identifies one roster entry. Email is the correlation key.
type EmployeeRef struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	DepartmentID   string `json:"departmentId,omitempty"`
	TeamID         string `json:"teamId,omitempty"`
	DepartmentName string `json:"departmentName,omitempty"`
	TeamName       string `json:"teamName,omitempty"`
}

type Attendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName,omitempty"`
	ResponseStatus string `json:"responseStatus,omitempty"`
	Organizer      bool   `json:"organizer,omitempty"`
	Optional       bool   `json:"optional,omitempty"`
}

type Participant struct {
	Email         string    `json:"email,omitempty"`
	DisplayName   string    `json:"displayName,omitempty"`
	EarliestStart time.Time `json:"earliestStartTime"`
	LatestEnd     time.Time `json:"latestEndTime"`
}

type Transcript struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId,omitempty"`
	ExportURI  string `json:"exportUri,omitempty"`
	State      string `json:"state,omitempty"`
}

// ConferenceRecord is one conference that took place in a meeting space.
type ConferenceRecord struct {
	ID          string    `json:"id"`
	MeetingCode string    `json:"meetingCode,omitempty"`
	Start       time.Time `json:"startTime"`
	End         time.Time `json:"endTime"`
}

// Meeting is one raw calendar meeting as it moves through enrichment.
// Start and End keep the provider's text so malformed values can be
// filtered by the pipeline instead of failing the whole fetch.
type Meeting struct {
	ID                 string
	ConferenceRecordID string
	RecurringEventID   string
	Recurrence         []string

	Summary        string
	Start          string
	End            string
	Timezone       string
	OrganizerEmail string
	HangoutLink    string

	Type         MeetingType
	Invitees     []Attendee
	Participants []Participant
	Transcripts  []Transcript

	Kind          Kind
	EmployeeEmail string
}

// Key returns the identity used for dedupe and upsert: id, else the
// conference record id. ok is false when the meeting has neither.
func (m Meeting) Key() (key string, ok bool) {
	if m.ID != "" {
		return m.ID, true
	}
	if m.ConferenceRecordID != "" {
		return m.ConferenceRecordID, true
	}
	return "", false
}

// StartTime parses Start.
func (m Meeting) StartTime() (time.Time, error) { return parseMeetingTime(m.Start) }

// EndTime parses End.
func (m Meeting) EndTime() (time.Time, error) { return parseMeetingTime(m.End) }

// Clone returns a deep copy so a stage can mutate without aliasing its input.
func (m Meeting) Clone() Meeting {
	c := m
	c.Recurrence = append([]string(nil), m.Recurrence...)
	c.Invitees = append([]Attendee(nil), m.Invitees...)
	c.Participants = append([]Participant(nil), m.Participants...)
	c.Transcripts = append([]Transcript(nil), m.Transcripts...)
	return c
}

const dateOnly = "2006-01-02"

// parseMeetingTime accepts RFC 3339 date-times and all-day dates.
func parseMeetingTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty meeting time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(dateOnly, s)
}

// UserFetchResult is the outcome of fetching and enriching one employee.
// A success carries meetings; a failure carries only the reason.
type UserFetchResult struct {
	Email         string
	Success       bool
	Meetings      []Meeting
	FailureReason string
}

// Succeeded builds a successful result. A nil list becomes empty.
func Succeeded(email string, meetings []Meeting) UserFetchResult {
	if meetings == nil {
		meetings = []Meeting{}
	}
	return UserFetchResult{Email: email, Success: true, Meetings: meetings}
}

// Failed builds a failed result with no meetings.
func Failed(email, reason string) UserFetchResult {
	return UserFetchResult{Email: email, FailureReason: reason}
}
