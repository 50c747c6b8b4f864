package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/marcelsud/webhook-relay/remote"
)

// TokenSource hands out the current bearer token
type TokenSource interface {
	Token() string
}

/* Client talks to the remote backend over its JSON API
 * Uses pointer semantics as it's an API, not data
 */
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option customizes a Client
type Option func(*Client)

// WithRetry overrides the retry policy used for 429 and 5xx answers
func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// NewClient creates a new REST client
func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	c := &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type eventList struct {
	Events []event.Event `json:"events"`
}

type requestList struct {
	Requests []event.Request `json:"requests"`
}

type statusPatch struct {
	Status       event.Status `json:"status"`
	FailedReason string       `json:"failed_reason,omitempty"`
}

// FetchEvents lists the events of a subscription key
func (c *Client) FetchEvents(ctx context.Context, key string, since *time.Time) ([]event.Event, error) {
	q := url.Values{}
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	path := fmt.Sprintf("/v1/webhooks/%s/events", url.PathEscape(key))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out eventList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("fetching events: %w", err)
	}
	return out.Events, nil
}

// ListRequests lists the delivery requests of a subscription key
func (c *Client) ListRequests(ctx context.Context, key string) ([]event.Request, error) {
	var out requestList
	path := fmt.Sprintf("/v1/webhooks/%s/requests", url.PathEscape(key))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	return out.Requests, nil
}

// UpdateEventStatus patches the status of an event
func (c *Client) UpdateEventStatus(ctx context.Context, id string, status event.Status, failedReason string) error {
	if err := status.Validate(); err != nil {
		return fmt.Errorf("validating status: %w", err)
	}
	path := fmt.Sprintf("/v1/events/%s", url.PathEscape(id))
	if err := c.doJSON(ctx, http.MethodPatch, path, statusPatch{Status: status, FailedReason: failedReason}, nil); err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}
	return nil
}

// CreateRequest opens a pending delivery request
func (c *Client) CreateRequest(ctx context.Context, req remote.NewRequest) (event.Request, error) {
	var out event.Request
	if err := c.doJSON(ctx, http.MethodPost, "/v1/requests", req, &out); err != nil {
		return event.Request{}, fmt.Errorf("creating request: %w", err)
	}
	return out, nil
}

// MarkRequestCompleted stores the outcome of a delivery request
func (c *Client) MarkRequestCompleted(ctx context.Context, id string, result remote.Result) error {
	path := fmt.Sprintf("/v1/requests/%s", url.PathEscape(id))
	if err := c.doJSON(ctx, http.MethodPatch, path, result, nil); err != nil {
		return fmt.Errorf("completing request: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.tokens != nil {
			req.Header.Set("Authorization", "Bearer "+c.tokens.Token())
		}
		req.Header.Set("X-Correlation-Id", uuid.NewString())
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		if errPayload.Message == "" {
			errPayload.Message = strings.TrimSpace(string(payload))
		}
		return &remote.HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if delta := time.Until(at); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
