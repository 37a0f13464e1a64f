// Package calendar talks to the calendar and meeting-records provider and
// wraps raw event fetches with retry, circuit breaking and cache fallback.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 512
	recordPrefix    = "conferenceRecords/"
	maxPagesPerList = 50
)

// TokenSource supplies the bearer token for provider calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client is a thin JSON client for the calendar and meet endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithTokenSource sets the bearer token source. Without one no
// Authorization header is sent.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(c *Client) { c.tokens = ts }
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

func (t eventTime) value() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

type eventAttendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	ResponseStatus string `json:"responseStatus"`
	Organizer      bool   `json:"organizer"`
	Optional       bool   `json:"optional"`
}

type eventItem struct {
	ID               string    `json:"id"`
	Summary          string    `json:"summary"`
	Start            eventTime `json:"start"`
	End              eventTime `json:"end"`
	RecurringEventID string    `json:"recurringEventId"`
	Recurrence       []string  `json:"recurrence"`
	HangoutLink      string    `json:"hangoutLink"`
	Organizer        struct {
		Email string `json:"email"`
	} `json:"organizer"`
	Attendees []eventAttendee `json:"attendees"`
}

type eventList struct {
	Items         []eventItem `json:"items"`
	NextPageToken string      `json:"nextPageToken"`
}

func (e eventItem) toMeeting() model.Meeting {
	tz := e.Start.TimeZone
	if tz == "" {
		tz = e.End.TimeZone
	}
	return model.Meeting{
		ID:               e.ID,
		RecurringEventID: e.RecurringEventID,
		Recurrence:       e.Recurrence,
		Summary:          e.Summary,
		Start:            e.Start.value(),
		End:              e.End.value(),
		Timezone:         tz,
		OrganizerEmail:   e.Organizer.Email,
		HangoutLink:      e.HangoutLink,
	}
}

func toAttendees(in []eventAttendee) []model.Attendee {
	out := make([]model.Attendee, 0, len(in))
	for _, a := range in {
		out = append(out, model.Attendee(a))
	}
	return out
}

// Events lists the user's expanded events overlapping [from, to].
func (c *Client) Events(ctx context.Context, email string, from, to time.Time) ([]model.Meeting, error) {
	path := "/calendar/v3/calendars/" + url.PathEscape(email) + "/events"
	q := url.Values{}
	q.Set("timeMin", from.UTC().Format(time.RFC3339))
	q.Set("timeMax", to.UTC().Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")

	meetings := []model.Meeting{}
	for page := 0; page < maxPagesPerList; page++ {
		var list eventList
		if err := c.getJSON(ctx, "list events", path, q, &list); err != nil {
			return nil, err
		}
		for _, item := range list.Items {
			meetings = append(meetings, item.toMeeting())
		}
		if list.NextPageToken == "" {
			break
		}
		q.Set("pageToken", list.NextPageToken)
	}
	return meetings, nil
}

// Invitees returns the attendee list of one event.
func (c *Client) Invitees(ctx context.Context, email, eventID string) ([]model.Attendee, error) {
	path := "/calendar/v3/calendars/" + url.PathEscape(email) + "/events/" + url.PathEscape(eventID)
	var item eventItem
	if err := c.getJSON(ctx, "get event", path, nil, &item); err != nil {
		return nil, err
	}
	return toAttendees(item.Attendees), nil
}

type conferenceRecord struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Space     string    `json:"space"`
}

// ConferenceRecords lists conferences the user took part in that started within [from, to].
func (c *Client) ConferenceRecords(ctx context.Context, email string, from, to time.Time) ([]model.ConferenceRecord, error) {
	q := url.Values{}
	q.Set("user", email)
	q.Set("filter", fmt.Sprintf(`start_time>="%s" AND start_time<="%s"`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)))

	var resp struct {
		ConferenceRecords []conferenceRecord `json:"conferenceRecords"`
	}
	if err := c.getJSON(ctx, "list conference records", "/v2/conferenceRecords", q, &resp); err != nil {
		return nil, err
	}
	out := make([]model.ConferenceRecord, 0, len(resp.ConferenceRecords))
	for _, r := range resp.ConferenceRecords {
		out = append(out, model.ConferenceRecord{
			ID:          strings.TrimPrefix(r.Name, recordPrefix),
			MeetingCode: r.Space,
			Start:       r.StartTime,
			End:         r.EndTime,
		})
	}
	return out, nil
}

// Participants lists who joined a conference.
func (c *Client) Participants(ctx context.Context, email, conferenceRecordID string) ([]model.Participant, error) {
	var resp struct {
		Participants []struct {
			Email             string    `json:"email"`
			DisplayName       string    `json:"displayName"`
			EarliestStartTime time.Time `json:"earliestStartTime"`
			LatestEndTime     time.Time `json:"latestEndTime"`
		} `json:"participants"`
	}
	q := url.Values{"user": {email}}
	if err := c.getJSON(ctx, "list participants", recordPath(conferenceRecordID, "participants"), q, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Participant, 0, len(resp.Participants))
	for _, p := range resp.Participants {
		out = append(out, model.Participant{
			Email:         p.Email,
			DisplayName:   p.DisplayName,
			EarliestStart: p.EarliestStartTime,
			LatestEnd:     p.LatestEndTime,
		})
	}
	return out, nil
}

// Transcripts lists the transcripts of a conference.
func (c *Client) Transcripts(ctx context.Context, email, conferenceRecordID string) ([]model.Transcript, error) {
	var resp struct {
		Transcripts []struct {
			Name            string `json:"name"`
			State           string `json:"state"`
			DocsDestination struct {
				Document  string `json:"document"`
				ExportURI string `json:"exportUri"`
			} `json:"docsDestination"`
		} `json:"transcripts"`
	}
	q := url.Values{"user": {email}}
	if err := c.getJSON(ctx, "list transcripts", recordPath(conferenceRecordID, "transcripts"), q, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Transcript, 0, len(resp.Transcripts))
	for _, t := range resp.Transcripts {
		id := t.Name
		if i := strings.LastIndex(id, "/"); i >= 0 {
			id = id[i+1:]
		}
		out = append(out, model.Transcript{
			ID:         id,
			DocumentID: t.DocsDestination.Document,
			ExportURI:  t.DocsDestination.ExportURI,
			State:      t.State,
		})
	}
	return out, nil
}

func recordPath(id, sub string) string {
	return "/v2/" + recordPrefix + url.PathEscape(strings.TrimPrefix(id, recordPrefix)) + "/" + sub
}

// getJSON issues a GET and decodes the body into out. 204 and an empty body
// leave out untouched.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrClient, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s: token: %w: %v", op, ErrClient, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s: %w", op, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%s: %w: %v", op, ErrDecode, err)
	}
	return nil
}
