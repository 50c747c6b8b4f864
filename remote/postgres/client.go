package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/marcelsud/webhook-relay/remote"
)

const operationTimeout = 5 * time.Second

const (
	eventColumns   = "id, webhook_id, source, status, timestamp, retry_count, max_retries, failed_reason, origin"
	requestColumns = "id, event_id, webhook_id, destination_name, destination_url, status, timestamp, response_time_ms, response, failed_reason"
)

/* Client implements remote.API directly on the backend tables
 * Uses pointer semantics as it's an API, not data
 */
type Client struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open database handle
func New(db *sql.DB) *Client {
	return &Client{db: db, now: time.Now}
}

// Open connects to Postgres and checks the connection
func Open(ctx context.Context, dsn string) (*Client, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return New(db), nil
}

// Close releases the database handle
func (c *Client) Close() error {
	return c.db.Close()
}

// FetchEvents returns the events of a key together with their requests
func (c *Client) FetchEvents(ctx context.Context, key string, since *time.Time) ([]event.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := "SELECT " + eventColumns + " FROM events WHERE webhook_id = $1"
	args := []any{key}
	if since != nil {
		query += " AND timestamp > $2"
		args = append(args, since.UTC())
	}
	query += " ORDER BY timestamp DESC, id DESC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	index := map[string]int{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		index[e.ID] = len(events)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	if len(events) == 0 {
		return events, nil
	}

	requests, err := c.listRequests(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, r := range requests {
		if i, ok := index[r.EventID]; ok {
			events[i].Requests = append(events[i].Requests, r)
		}
	}
	return events, nil
}

// ListRequests returns every request recorded for a key
func (c *Client) ListRequests(ctx context.Context, key string) ([]event.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	return c.listRequests(ctx, key)
}

func (c *Client) listRequests(ctx context.Context, key string) ([]event.Request, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM requests WHERE webhook_id = $1 ORDER BY timestamp DESC, id DESC", key)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	defer rows.Close()

	var requests []event.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating requests: %w", err)
	}
	return requests, nil
}

// UpdateEventStatus sets the status of an event
func (c *Client) UpdateEventStatus(ctx context.Context, id string, status event.Status, failedReason string) error {
	if err := status.Validate(); err != nil {
		return fmt.Errorf("validating status: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	res, err := c.db.ExecContext(ctx,
		"UPDATE events SET status = $2, failed_reason = $3 WHERE id = $1",
		id, status.String(), nullString(failedReason))
	if err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}
	return expectOneRow(res, "event", id)
}

// CreateRequest inserts a pending request
func (c *Client) CreateRequest(ctx context.Context, req remote.NewRequest) (event.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	out := event.Request{
		ID:          uuid.NewString(),
		EventID:     req.EventID,
		WebhookID:   req.WebhookID,
		Destination: req.Destination,
		Status:      event.RequestPending,
		Timestamp:   c.now().UTC(),
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO requests (id, event_id, webhook_id, destination_name, destination_url, status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		out.ID, out.EventID, out.WebhookID, out.Destination.Name, out.Destination.URL, out.Status.String(), out.Timestamp)
	if err != nil {
		return event.Request{}, fmt.Errorf("inserting request: %w", err)
	}
	return out, nil
}

// MarkRequestCompleted stores the outcome of a request
func (c *Client) MarkRequestCompleted(ctx context.Context, id string, result remote.Result) error {
	if err := result.Status.Validate(); err != nil {
		return fmt.Errorf("validating status: %w", err)
	}
	var response []byte
	if result.Response != nil {
		var err error
		response, err = json.Marshal(result.Response)
		if err != nil {
			return fmt.Errorf("marshaling response: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	res, err := c.db.ExecContext(ctx,
		"UPDATE requests SET status = $2, response_time_ms = $3, response = $4, failed_reason = $5 WHERE id = $1",
		id, result.Status.String(), result.ResponseTimeMs, response, nullString(result.FailedReason))
	if err != nil {
		return fmt.Errorf("updating request: %w", err)
	}
	return expectOneRow(res, "request", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (event.Event, error) {
	var (
		e            event.Event
		status       string
		failedReason sql.NullString
		origin       []byte
	)
	if err := row.Scan(&e.ID, &e.WebhookID, &e.Source, &status, &e.Timestamp,
		&e.RetryCount, &e.MaxRetries, &failedReason, &origin); err != nil {
		return event.Event{}, fmt.Errorf("scanning event: %w", err)
	}
	s, err := event.ParseStatus(status)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	e.Status = s
	e.FailedReason = failedReason.String
	if len(origin) > 0 {
		var payload event.OriginPayload
		if err := json.Unmarshal(origin, &payload); err != nil {
			return event.Event{}, fmt.Errorf("decoding origin of event %s: %w", e.ID, err)
		}
		e.Origin = &payload
	}
	return e, nil
}

func scanRequest(row scanner) (event.Request, error) {
	var (
		r            event.Request
		status       string
		responseTime sql.NullInt64
		response     []byte
		failedReason sql.NullString
	)
	if err := row.Scan(&r.ID, &r.EventID, &r.WebhookID, &r.Destination.Name, &r.Destination.URL,
		&status, &r.Timestamp, &responseTime, &response, &failedReason); err != nil {
		return event.Request{}, fmt.Errorf("scanning request: %w", err)
	}
	s, err := event.ParseRequestStatus(status)
	if err != nil {
		return event.Request{}, fmt.Errorf("request %s: %w", r.ID, err)
	}
	r.Status = s
	r.ResponseTimeMs = responseTime.Int64
	r.FailedReason = failedReason.String
	if len(response) > 0 {
		var resp event.Response
		if err := json.Unmarshal(response, &resp); err != nil {
			return event.Request{}, fmt.Errorf("decoding response of request %s: %w", r.ID, err)
		}
		r.Response = &resp
	}
	return r, nil
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, remote.ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
