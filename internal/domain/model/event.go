package model

import "time"

// MeetingEvent is published once per run after persistence.
type MeetingEvent struct {
	BatchID        int64             `json:"batchId"`
	Meetings       []EnrichedMeeting `json:"meetings"`
	EventTimestamp int64             `json:"eventTimestamp"` // epoch millis
}

// NewMeetingEvent stamps an event with at in epoch milliseconds.
func NewMeetingEvent(batchID int64, meetings []EnrichedMeeting, at time.Time) MeetingEvent {
	if meetings == nil {
		meetings = []EnrichedMeeting{}
	}
	return MeetingEvent{
		BatchID:        batchID,
		Meetings:       meetings,
		EventTimestamp: at.UnixMilli(),
	}
}
