package calendar_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mcdev12/watchparty/go/clients"
)

// ErrNotFound is returned when the calendar has no such event.
var ErrNotFound = errors.New("calendar event not found")

type CalendarClient struct {
	*clients.BaseClient
}

func NewCalendarClient(baseURL, apiKey string) *CalendarClient {
	client := &CalendarClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	if apiKey != "" {
		client.SetHeader(AuthorizationHeader, APIKeyPrefix+apiKey)
	}
	client.SetHeader("Accept", "application/json")
	return client
}

type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
}

type EventsResponse struct {
	Results int     `json:"results"`
	Events  []Event `json:"events"`
}

func (c *CalendarClient) GetEvent(ctx context.Context, id string) (*Event, error) {
	body, err := c.Get(ctx, EventsEndpoint+"/"+url.PathEscape(id))
	if err != nil {
		var se *clients.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return &event, nil
}

// ListEvents returns the events starting in [from, to).
func (c *CalendarClient) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	body, err := c.Get(ctx, EventsEndpoint+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	var response EventsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return response.Events, nil
}
