package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/destinations"
	"github.com/marcelsud/webhook-relay/dispatcher/signature"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxBodyBytes caps how much of a destination's answer is kept
const MaxBodyBytes = 1 << 20

// Headers that are never forwarded to a destination
var strippedHeaders = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"connection":        {},
	"transfer-encoding": {},
}

/* Result is what one forwarded call produced
 * StatusCode 0 means the call never got an answer, Error then carries the reason
 */
type Result struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	Elapsed    time.Duration
	Error      string
}

// Succeeded reports a 2xx answer
func (r Result) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// FailureReason is the text recorded on a failed request
func (r Result) FailureReason() string {
	if r.StatusCode == 0 {
		return r.Error
	}
	if r.Body != "" {
		return r.Body
	}
	return fmt.Sprintf("HTTP %d", r.StatusCode)
}

// Response converts the result into the stored response shape
func (r Result) Response() *event.Response {
	if r.StatusCode == 0 {
		return nil
	}
	return &event.Response{StatusCode: r.StatusCode, Headers: r.Headers, Body: r.Body}
}

// Sender forwards an origin payload to one destination
type Sender interface {
	Send(ctx context.Context, dest destinations.Destination, origin event.OriginPayload) Result
}

// Pinger probes a destination's liveness URL
type Pinger interface {
	Ping(ctx context.Context, dest destinations.Destination) Result
}

/* Dispatcher executes forwarded HTTP calls
 * Uses pointer semantics as it's an API, not data
 */
type Dispatcher struct {
	client *http.Client
	clock  clock.Clock
	logger zerolog.Logger
	tracer trace.Tracer
}

// Options configures a Dispatcher
type Options struct {
	Client *http.Client
	Clock  clock.Clock
	Logger *zerolog.Logger
}

// New creates a dispatcher
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		client: opts.Client,
		clock:  opts.Clock,
		logger: zerolog.Nop(),
		tracer: otel.Tracer("github.com/marcelsud/webhook-relay/dispatcher"),
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.clock == nil {
		d.clock = clock.New()
	}
	if opts.Logger != nil {
		d.logger = *opts.Logger
	}
	return d
}

/* Send replays the captured request against dest
 * The body is decoded from its stored blob (raw bytes when decoding fails), Host is dropped,
 * the original method is kept and only the HTTP exchange is timed
 */
func (d *Dispatcher) Send(ctx context.Context, dest destinations.Destination, origin event.OriginPayload) Result {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Send", trace.WithAttributes(
		attribute.String("destination.name", dest.Name),
		attribute.String("http.request.method", methodOf(origin)),
	))
	defer span.End()

	body, err := origin.DecodeBody()
	if err != nil {
		d.logger.Warn().Err(err).Str("destination", dest.Name).Msg("forwarding undecoded body")
	}

	ctx, cancel := context.WithTimeout(ctx, dest.EffectiveTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, methodOf(origin), dest.URL, bytes.NewReader(body))
	if err != nil {
		return d.fail(span, fmt.Errorf("building request: %w", err))
	}
	for k, v := range origin.Headers {
		if _, skip := strippedHeaders[strings.ToLower(k)]; skip {
			continue
		}
		req.Header.Set(k, v)
	}
	if dest.SigningSecret != "" {
		secret, err := signature.ParseSecret(dest.SigningSecret)
		if err != nil {
			return d.fail(span, fmt.Errorf("parsing signing secret: %w", err))
		}
		if err := signature.Apply(req.Header, secret, "msg_"+uuid.NewString(), d.clock.Now(), body); err != nil {
			return d.fail(span, fmt.Errorf("signing request: %w", err))
		}
	}

	start := d.clock.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		res := d.fail(span, err)
		res.Elapsed = d.clock.Since(start)
		return res
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	elapsed := d.clock.Since(start)
	if readErr != nil {
		d.logger.Warn().Err(readErr).Str("destination", dest.Name).Msg("reading destination response")
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, resp.Status)
	}
	return Result{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       string(payload),
		Elapsed:    elapsed,
	}
}

// Ping probes a destination's liveness URL with a GET
func (d *Dispatcher) Ping(ctx context.Context, dest destinations.Destination) Result {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Ping", trace.WithAttributes(
		attribute.String("destination.name", dest.Name),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, dest.EffectiveTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dest.ProbeURL(), nil)
	if err != nil {
		return d.fail(span, fmt.Errorf("building request: %w", err))
	}

	start := d.clock.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		res := d.fail(span, err)
		res.Elapsed = d.clock.Since(start)
		return res
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxBodyBytes))
	_ = resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return Result{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Elapsed:    d.clock.Since(start),
	}
}

func (d *Dispatcher) fail(span trace.Span, err error) Result {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return Result{Error: err.Error()}
}

func methodOf(origin event.OriginPayload) string {
	if origin.Method == "" {
		return http.MethodPost
	}
	return strings.ToUpper(origin.Method)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = strings.Join(v, ", ")
		}
	}
	return out
}
