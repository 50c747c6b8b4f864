package event

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

/* Event represents one inbound webhook call captured by the remote collector
 * Uses value semantics as it represents data, not behavior
 */
type Event struct {
	ID           string         `json:"id"`
	WebhookID    string         `json:"webhook_id"`
	Source       string         `json:"source"`
	Status       Status         `json:"status"`
	Timestamp    time.Time      `json:"timestamp"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	FailedReason string         `json:"failed_reason,omitempty"`
	Origin       *OriginPayload `json:"origin,omitempty"`
	Requests     []Request      `json:"requests,omitempty"`
}

// OriginPayload is the request the collector captured. Body keeps the transport encoding.
type OriginPayload struct {
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     string            `json:"body,omitempty"`
	Size     int64             `json:"size"`
	ClientIP string            `json:"client_ip,omitempty"`
}

/* Request represents one delivery attempt of an Event to one Destination
 * Only Status, Response, ResponseTimeMs and FailedReason change after creation
 */
type Request struct {
	ID             string              `json:"id"`
	EventID        string              `json:"event_id"`
	WebhookID      string              `json:"webhook_id"`
	Destination    DestinationSnapshot `json:"destination"`
	Status         RequestStatus       `json:"status"`
	Timestamp      time.Time           `json:"timestamp"`
	ResponseTimeMs int64               `json:"response_time_ms"`
	Response       *Response           `json:"response,omitempty"`
	FailedReason   string              `json:"failed_reason,omitempty"`
}

// DestinationSnapshot freezes the destination a request was created for
type DestinationSnapshot struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Response is what a destination answered
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

// Succeeded reports a 2xx answer
func (r Response) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// HasRetriesLeft reports whether another delivery round may be attempted
func (e Event) HasRetriesLeft() bool {
	return e.RetryCount < e.MaxRetries
}

// Request returns the request with the given id
func (e Event) Request(id string) (Request, bool) {
	for _, r := range e.Requests {
		if r.ID == id {
			return r, true
		}
	}
	return Request{}, false
}

// Clone returns a deep copy so that callers never share maps or slices with the canonical list
func (e Event) Clone() Event {
	out := e
	if e.Origin != nil {
		origin := e.Origin.Clone()
		out.Origin = &origin
	}
	if e.Requests != nil {
		out.Requests = make([]Request, len(e.Requests))
		for i, r := range e.Requests {
			out.Requests[i] = r.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the payload
func (p OriginPayload) Clone() OriginPayload {
	out := p
	out.Headers = copyHeaders(p.Headers)
	return out
}

// Clone returns a deep copy of the request
func (r Request) Clone() Request {
	out := r
	if r.Response != nil {
		resp := *r.Response
		resp.Headers = copyHeaders(r.Response.Headers)
		out.Response = &resp
	}
	return out
}

// CloneAll deep copies a list of events
func CloneAll(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}

/* DecodeBody turns the stored body blob back into the bytes the collector received
 * Supported encodings: Postgres bytea hex ("\x..."), standard base64, raw
 * On failure the raw blob is returned together with the decode error so the caller can
 * still forward something
 */
func (p OriginPayload) DecodeBody() ([]byte, error) {
	if p.Body == "" {
		return nil, nil
	}
	if strings.HasPrefix(p.Body, `\x`) {
		b, err := hex.DecodeString(p.Body[2:])
		if err != nil {
			return []byte(p.Body), fmt.Errorf("decoding hex body: %w", err)
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(p.Body)
	if err != nil {
		return []byte(p.Body), fmt.Errorf("decoding base64 body: %w", err)
	}
	return b, nil
}

// EncodeBody stores raw bytes in the canonical base64 blob form
func EncodeBody(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func copyHeaders(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
