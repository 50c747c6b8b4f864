package remote

import (
	"context"
	"time"

	"github.com/marcelsud/webhook-relay/event"
)

/* Small, focused interfaces over the remote source of truth
 * The relay never owns events: it reads them, and writes back delivery outcomes
 */

// EventReader provides read operations for events and their requests
type EventReader interface {
	/* FetchEvents returns the events of a subscription key, newest first
	 * A nil since asks for the full set, otherwise only events newer than since
	 */
	FetchEvents(ctx context.Context, key string, since *time.Time) ([]event.Event, error)
	// ListRequests returns every delivery request recorded for a subscription key
	ListRequests(ctx context.Context, key string) ([]event.Request, error)
}

// EventWriter provides write operations for events
type EventWriter interface {
	UpdateEventStatus(ctx context.Context, id string, status event.Status, failedReason string) error
}

// RequestWriter provides write operations for delivery requests
type RequestWriter interface {
	/* CreateRequest records a pending delivery attempt
	 * Returns the stored request, with its id and timestamp assigned
	 */
	CreateRequest(ctx context.Context, req NewRequest) (event.Request, error)
	MarkRequestCompleted(ctx context.Context, id string, result Result) error
}

// API is everything the relay needs from the remote backend
type API interface {
	EventReader
	EventWriter
	RequestWriter
}

// NewRequest is the data needed to open a delivery request
type NewRequest struct {
	EventID     string                    `json:"event_id"`
	WebhookID   string                    `json:"webhook_id"`
	Destination event.DestinationSnapshot `json:"destination"`
}

// Result is the settled outcome of a delivery request
type Result struct {
	Status         event.RequestStatus `json:"status"`
	ResponseTimeMs int64               `json:"response_time_ms"`
	Response       *event.Response     `json:"response,omitempty"`
	FailedReason   string              `json:"failed_reason,omitempty"`
}

// Apply copies the result onto a request
func (r Result) Apply(req event.Request) event.Request {
	req.Status = r.Status
	req.ResponseTimeMs = r.ResponseTimeMs
	req.Response = r.Response
	req.FailedReason = r.FailedReason
	return req
}
