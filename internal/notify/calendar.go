package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CalendarClient is the external calendar contract: create one event, return
// its external id or a classified failure.
type CalendarClient interface {
	CreateEvent(ctx context.Context, ev EventPayload) (string, error)
}

type EventPayload struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// NoopCalendar is used when no calendar gateway is configured. Reporting
// success keeps tasks from piling up in retry.
type NoopCalendar struct{}

func (NoopCalendar) CreateEvent(ctx context.Context, ev EventPayload) (string, error) {
	return "noop-" + ev.Start.Format("20060102T1504"), nil
}

// HTTPCalendarClient talks to a calendar gateway (Google Calendar behind a
// proxy API) with a plain JSON POST.
type HTTPCalendarClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCalendarClient(baseURL string) *HTTPCalendarClient {
	return &HTTPCalendarClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type calendarEventRequest struct {
	Summary     string             `json:"summary"`
	Description string             `json:"description"`
	Start       calendarDateTime   `json:"start"`
	End         calendarDateTime   `json:"end"`
	Attendees   []calendarAttendee `json:"attendees"`
}

type calendarDateTime struct {
	DateTime string `json:"dateTime"`
}

type calendarAttendee struct {
	Email string `json:"email"`
}

type calendarEventResponse struct {
	ID string `json:"id"`
}

func (c *HTTPCalendarClient) CreateEvent(ctx context.Context, ev EventPayload) (string, error) {
	reqBody := calendarEventRequest{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       calendarDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         calendarDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}
	for _, a := range ev.Attendees {
		reqBody.Attendees = append(reqBody.Attendees, calendarAttendee{Email: a})
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", Permanent(fmt.Errorf("marshal calendar event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/event", bytes.NewReader(data))
	if err != nil {
		return "", Permanent(fmt.Errorf("build calendar request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", Transient(fmt.Errorf("calendar request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var out calendarEventResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", Transient(fmt.Errorf("decode calendar response: %w", err))
		}
		if out.ID == "" {
			return "", Permanent(fmt.Errorf("calendar response missing event id"))
		}
		return out.ID, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", Transient(fmt.Errorf("calendar responded %d", resp.StatusCode))
	default:
		// Remaining 4xx: bad credentials or a request a retry cannot fix.
		return "", Permanent(fmt.Errorf("calendar responded %d", resp.StatusCode))
	}
}
