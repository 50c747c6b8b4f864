package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/destinations"
	"github.com/marcelsud/webhook-relay/dispatcher"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/marcelsud/webhook-relay/remote"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SkipReason says why an event was not delivered
type SkipReason string

const (
	Delivered          SkipReason = ""
	SkipNotPending     SkipReason = "not_pending"
	SkipInFlight       SkipReason = "in_flight"
	SkipAlreadyHandled SkipReason = "already_handled"
	SkipLookupFailed   SkipReason = "lookup_failed"
	SkipNoDestinations SkipReason = "no_destinations"
	SkipNoOrigin       SkipReason = "no_origin"
)

// Outcome is what a delivery run did for one event
type Outcome struct {
	EventID  string
	Skipped  SkipReason
	Requests []event.Request
	// Status is the event status after the run, Processing while retries remain
	Status event.Status
}

// OriginSource finds the origin payload of an event that arrived without one
type OriginSource interface {
	Origin(ctx context.Context, eventID string) (event.OriginPayload, bool, error)
}

// Options configures a Coordinator
type Options struct {
	API          remote.API
	Destinations destinations.Provider
	Sender       dispatcher.Sender
	Origins      OriginSource
	Clock        clock.Clock
	Logger       *zerolog.Logger

	// OnRequestCreated fires before the destination is called
	OnRequestCreated func(event.Request)
	// OnRequestUpdated fires once the destination call settled
	OnRequestUpdated func(event.Request)
	OnEventStatus    func(id string, status event.Status, failedReason string)
	// OnRetry fires when a failed run leaves retries for the upstream to schedule
	OnRetry func(id string)
}

/* Coordinator forwards newly pending events to their destinations
 * An event is claimed for the length of a run, so concurrent arrivals from the poll loop and
 * the push feed deliver it at most once in this process. Across processes the existing
 * requests recorded upstream are the guard.
 */
type Coordinator struct {
	api     remote.API
	dests   destinations.Provider
	sender  dispatcher.Sender
	origins OriginSource
	clock   clock.Clock
	logger  zerolog.Logger
	tracer  trace.Tracer

	onRequestCreated func(event.Request)
	onRequestUpdated func(event.Request)
	onEventStatus    func(string, event.Status, string)
	onRetry          func(string)

	mu      sync.Mutex
	claimed map[string]struct{}
}

// New creates a coordinator
func New(opts Options) (*Coordinator, error) {
	if opts.API == nil {
		return nil, errors.New("remote api is required")
	}
	if opts.Destinations == nil {
		return nil, errors.New("destination provider is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("sender is required")
	}
	c := &Coordinator{
		api:              opts.API,
		dests:            opts.Destinations,
		sender:           opts.Sender,
		origins:          opts.Origins,
		clock:            opts.Clock,
		logger:           zerolog.Nop(),
		tracer:           otel.Tracer("github.com/marcelsud/webhook-relay/delivery"),
		onRequestCreated: opts.OnRequestCreated,
		onRequestUpdated: opts.OnRequestUpdated,
		onEventStatus:    opts.OnEventStatus,
		onRetry:          opts.OnRetry,
		claimed:          map[string]struct{}{},
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if opts.Logger != nil {
		c.logger = *opts.Logger
	}
	return c, nil
}

// DeliverRealtime delivers one event announced by the push feed
func (c *Coordinator) DeliverRealtime(ctx context.Context, e event.Event) Outcome {
	return c.deliver(ctx, e)
}

// DeliverBatch delivers the pending events of a poll cycle that were not already in previous
func (c *Coordinator) DeliverBatch(ctx context.Context, newEvents, previous []event.Event) []Outcome {
	known := make(map[string]struct{}, len(previous))
	for _, e := range previous {
		known[e.ID] = struct{}{}
	}

	var outcomes []Outcome
	for _, e := range newEvents {
		if _, ok := known[e.ID]; ok {
			continue
		}
		if e.Status != event.Pending {
			continue
		}
		outcomes = append(outcomes, c.deliver(ctx, e))
	}
	return outcomes
}

func (c *Coordinator) deliver(ctx context.Context, e event.Event) Outcome {
	out := Outcome{EventID: e.ID, Status: e.Status}
	log := c.logger.With().Str("event_id", e.ID).Str("webhook_id", e.WebhookID).Logger()

	if e.Status != event.Pending {
		out.Skipped = SkipNotPending
		return out
	}
	if !c.claim(e.ID) {
		log.Debug().Msg("event already being delivered")
		out.Skipped = SkipInFlight
		return out
	}
	defer c.release(e.ID)

	ctx, span := c.tracer.Start(ctx, "delivery.Deliver", trace.WithAttributes(
		attribute.String("event.id", e.ID),
		attribute.String("webhook.id", e.WebhookID),
	))
	defer span.End()

	existing, err := c.api.ListRequests(ctx, e.WebhookID)
	if err != nil {
		log.Error().Err(err).Msg("listing requests, not delivering")
		out.Skipped = SkipLookupFailed
		return out
	}
	for _, req := range existing {
		if req.EventID == e.ID {
			log.Debug().Str("request_id", req.ID).Msg("event already has requests")
			out.Skipped = SkipAlreadyHandled
			return out
		}
	}

	set, err := c.dests.Resolve(e.WebhookID)
	if err != nil {
		log.Error().Err(err).Msg("resolving destinations")
		out.Skipped = SkipNoDestinations
		return out
	}
	targets, unresolved := set.Select(e.Source)
	for _, name := range unresolved {
		log.Warn().Str("destination", name).Msg("rule names an unknown destination")
	}
	if len(targets) == 0 {
		log.Info().Str("source", e.Source).Msg("no destination matches event source")
		out.Skipped = SkipNoDestinations
		return out
	}

	origin, ok := c.origin(ctx, e, log)
	if !ok {
		out.Skipped = SkipNoOrigin
		return out
	}

	c.setStatus(ctx, e.ID, event.Processing, "", log)
	out.Status = event.Processing

	var lastFailure string
	failures := 0
	for _, dest := range targets {
		req := c.deliverTo(ctx, e, dest, origin)
		out.Requests = append(out.Requests, req)
		if req.Status == event.RequestFailed {
			failures++
			lastFailure = req.FailedReason
		}
	}
	span.SetAttributes(attribute.Int("delivery.failures", failures))

	switch {
	case failures == 0:
		c.setStatus(ctx, e.ID, event.Completed, "", log)
		out.Status = event.Completed
	case !e.HasRetriesLeft():
		c.setStatus(ctx, e.ID, event.Failed, lastFailure, log)
		out.Status = event.Failed
	default:
		log.Info().Int("failures", failures).Int("retry_count", e.RetryCount).Int("max_retries", e.MaxRetries).
			Msg("delivery failed, retries left")
		if c.onRetry != nil {
			c.onRetry(e.ID)
		}
	}
	return out
}

/* deliverTo runs one destination: open the request, call the destination, settle the request
 * Upstream write failures are logged and the local request carries on
 */
func (c *Coordinator) deliverTo(ctx context.Context, e event.Event, dest destinations.Destination, origin event.OriginPayload) event.Request {
	log := c.logger.With().Str("event_id", e.ID).Str("destination", dest.Name).Logger()

	req, err := c.api.CreateRequest(ctx, remote.NewRequest{
		EventID:     e.ID,
		WebhookID:   e.WebhookID,
		Destination: dest.Snapshot(),
	})
	if err != nil {
		log.Error().Err(err).Msg("creating request upstream")
		req = event.Request{ID: uuid.NewString()}
	}
	// fill in what the backend did not echo back
	req.EventID = e.ID
	if req.WebhookID == "" {
		req.WebhookID = e.WebhookID
	}
	if req.Destination.Name == "" {
		req.Destination = dest.Snapshot()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = c.clock.Now().UTC()
	}
	req.Status = event.RequestPending
	if c.onRequestCreated != nil {
		c.onRequestCreated(req.Clone())
	}

	res := c.sender.Send(ctx, dest, origin)
	result := remote.Result{
		Status:         event.RequestCompleted,
		ResponseTimeMs: res.Elapsed.Milliseconds(),
		Response:       res.Response(),
	}
	if !res.Succeeded() {
		result.Status = event.RequestFailed
		result.FailedReason = res.FailureReason()
	}
	req = result.Apply(req)

	log = log.With().Str("request_id", req.ID).Int("status_code", res.StatusCode).Logger()
	if result.Status == event.RequestFailed {
		log.Warn().Str("reason", result.FailedReason).Msg("delivery failed")
	} else {
		log.Info().Int64("response_time_ms", result.ResponseTimeMs).Msg("delivered")
	}

	if err := c.api.MarkRequestCompleted(ctx, req.ID, result); err != nil {
		log.Error().Err(err).Msg("settling request upstream")
	}
	if c.onRequestUpdated != nil {
		c.onRequestUpdated(req.Clone())
	}
	return req
}

func (c *Coordinator) origin(ctx context.Context, e event.Event, log zerolog.Logger) (event.OriginPayload, bool) {
	if e.Origin != nil {
		return *e.Origin, true
	}
	if c.origins == nil {
		log.Warn().Msg("event has no origin payload")
		return event.OriginPayload{}, false
	}
	origin, ok, err := c.origins.Origin(ctx, e.ID)
	if err != nil {
		log.Error().Err(err).Msg("loading origin payload")
		return event.OriginPayload{}, false
	}
	if !ok {
		log.Warn().Msg("event has no origin payload")
	}
	return origin, ok
}

func (c *Coordinator) setStatus(ctx context.Context, id string, status event.Status, reason string, log zerolog.Logger) {
	if c.onEventStatus != nil {
		c.onEventStatus(id, status, reason)
	}
	if err := c.api.UpdateEventStatus(ctx, id, status, reason); err != nil {
		log.Error().Err(err).Stringer("status", status).Msg("updating event status upstream")
	}
}

func (c *Coordinator) claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.claimed[id]; ok {
		return false
	}
	c.claimed[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claimed, id)
}

// InFlight returns the number of events currently being delivered
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claimed)
}

func (o Outcome) String() string {
	if o.Skipped != Delivered {
		return fmt.Sprintf("%s skipped: %s", o.EventID, o.Skipped)
	}
	return fmt.Sprintf("%s %s with %d requests", o.EventID, o.Status, len(o.Requests))
}
