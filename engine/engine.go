package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/marcelsud/webhook-relay/delivery"
	"github.com/marcelsud/webhook-relay/destinations"
	"github.com/marcelsud/webhook-relay/dispatcher"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/marcelsud/webhook-relay/poller"
	"github.com/marcelsud/webhook-relay/realtime"
	"github.com/marcelsud/webhook-relay/reconciler"
	"github.com/marcelsud/webhook-relay/remote"
	"github.com/rs/zerolog"
)

var (
	ErrDisposed        = errors.New("engine disposed")
	ErrPushUnavailable = errors.New("no push transport configured")
)

// payloadTimeout bounds a single payload cache write
const payloadTimeout = 2 * time.Second

// PayloadStore caches origin payloads that snapshots may leave out
type PayloadStore interface {
	delivery.OriginSource
	Put(ctx context.Context, eventID string, origin event.OriginPayload) error
}

// Options wires an Engine. Transport, Credentials and Payloads are optional.
type Options struct {
	API          remote.API
	Destinations destinations.Provider
	Transport    realtime.Transport
	Credentials  realtime.CredentialProvider
	Sender       dispatcher.Sender
	Pinger       dispatcher.Pinger
	Payloads     PayloadStore
	Clock        clock.Clock
	Logger       *zerolog.Logger

	PollInterval     time.Duration
	AutoPauseTimeout time.Duration
	// DisableDelivery keeps the engine as a read-only mirror
	DisableDelivery bool
}

// State is the combined observable state of both feeds
type State struct {
	SubscriptionKey string                   `json:"subscription_key"`
	Polling         poller.State             `json:"polling"`
	Connection      realtime.ConnectionState `json:"connection"`
	Events          int                      `json:"events"`
	Version         uint64                   `json:"version"`
	InFlight        int                      `json:"in_flight"`
}

// PingResult is the outcome of one destination liveness probe
type PingResult struct {
	Destination string `json:"destination"`
	URL         string `json:"url"`
	Alive       bool   `json:"alive"`
	StatusCode  int    `json:"status_code"`
	ElapsedMs   int64  `json:"elapsed_ms"`
	Error       string `json:"error,omitempty"`
}

/* Engine is the synchronization facade
 * It owns the canonical event list, feeds it from the poll loop and the push channel, and
 * hands newly pending events to the delivery coordinator.
 * One subscription key is active at a time: switching keys tears down the per-key state
 */
type Engine struct {
	mu       sync.Mutex
	key      string
	disposed bool

	list        *reconciler.Reconciler
	dests       destinations.Provider
	pinger      dispatcher.Pinger
	poller      *poller.Poller
	push        *realtime.Client
	coordinator *delivery.Coordinator
	payloads    PayloadStore
	deliver     bool
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onEvents listeners[reconciler.Snapshot]
	onNew    listeners[[]event.Event]
	onState  listeners[State]
}

// New wires the engine's components. Nothing runs until StartPolling or Connect.
func New(opts Options) (*Engine, error) {
	if opts.API == nil {
		return nil, errors.New("remote api is required")
	}
	if opts.Destinations == nil {
		return nil, errors.New("destination provider is required")
	}
	if opts.Transport != nil && opts.Credentials == nil {
		return nil, errors.New("credential provider is required with a push transport")
	}

	e := &Engine{
		list:     reconciler.New(),
		dests:    opts.Destinations,
		pinger:   opts.Pinger,
		payloads: opts.Payloads,
		deliver:  !opts.DisableDelivery,
		logger:   zerolog.Nop(),
	}
	if opts.Logger != nil {
		e.logger = *opts.Logger
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	sender := opts.Sender
	if sender == nil {
		sender = dispatcher.New(dispatcher.Options{Clock: opts.Clock, Logger: opts.Logger})
	}
	if e.pinger == nil {
		if p, ok := sender.(dispatcher.Pinger); ok {
			e.pinger = p
		} else {
			e.pinger = dispatcher.New(dispatcher.Options{Clock: opts.Clock, Logger: opts.Logger})
		}
	}

	var origins delivery.OriginSource
	if opts.Payloads != nil {
		origins = opts.Payloads
	}
	coordinator, err := delivery.New(delivery.Options{
		API:              opts.API,
		Destinations:     opts.Destinations,
		Sender:           sender,
		Origins:          origins,
		Clock:            opts.Clock,
		Logger:           opts.Logger,
		OnRequestCreated: e.requestChanged,
		OnRequestUpdated: e.requestChanged,
		OnEventStatus:    e.eventStatusChanged,
		OnRetry:          e.retryCounted,
	})
	if err != nil {
		return nil, fmt.Errorf("creating delivery coordinator: %w", err)
	}
	e.coordinator = coordinator

	p, err := poller.New(poller.Options{
		Fetcher:          opts.API,
		Clock:            opts.Clock,
		Logger:           opts.Logger,
		Interval:         opts.PollInterval,
		AutoPauseTimeout: opts.AutoPauseTimeout,
		OnResult:         e.pollResult,
		OnState:          func(poller.State) { e.emitState() },
	})
	if err != nil {
		return nil, fmt.Errorf("creating poller: %w", err)
	}
	e.poller = p

	if opts.Transport != nil {
		push, err := realtime.New(realtime.Options{
			Transport:   opts.Transport,
			Credentials: opts.Credentials,
			Clock:       opts.Clock,
			Logger:      opts.Logger,
			OnChange:    e.pushChange,
			OnResync:    e.poller.Resync,
			OnState:     func(realtime.ConnectionState) { e.emitState() },
		})
		if err != nil {
			return nil, fmt.Errorf("creating push client: %w", err)
		}
		e.push = push
	}
	return e, nil
}

// OnEventsChanged registers fn for every new version of the event list
func (e *Engine) OnEventsChanged(fn func(reconciler.Snapshot)) (unsubscribe func()) {
	return e.onEvents.add(fn)
}

// OnNewEvents registers fn for events seen for the first time by either feed
func (e *Engine) OnNewEvents(fn func([]event.Event)) (unsubscribe func()) {
	return e.onNew.add(fn)
}

// OnStateChanged registers fn for polling and connection state changes
func (e *Engine) OnStateChanged(fn func(State)) (unsubscribe func()) {
	return e.onState.add(fn)
}

// GetState returns the combined state
func (e *Engine) GetState() State {
	e.mu.Lock()
	key := e.key
	e.mu.Unlock()

	snap := e.list.Events()
	st := State{
		SubscriptionKey: key,
		Polling:         e.poller.State(),
		Events:          len(snap.Events),
		Version:         snap.Version,
		InFlight:        e.coordinator.InFlight(),
	}
	if e.push != nil {
		st.Connection = e.push.State()
	}
	return st
}

// Events returns the current event list
func (e *Engine) Events() reconciler.Snapshot {
	return e.list.Events()
}

// SetPollingInterval changes the poll interval, see poller bounds
func (e *Engine) SetPollingInterval(d time.Duration) error {
	if err := e.alive(); err != nil {
		return err
	}
	return e.poller.SetInterval(d)
}

// SetAutoPauseTimeout changes the idle auto-pause timeout, see poller bounds
func (e *Engine) SetAutoPauseTimeout(d time.Duration) error {
	if err := e.alive(); err != nil {
		return err
	}
	return e.poller.SetAutoPauseTimeout(d)
}

// StartPolling polls key, switching the engine to it first when needed
func (e *Engine) StartPolling(key string) error {
	if key == "" {
		return poller.ErrEmptyKey
	}
	if err := e.useKey(key); err != nil {
		return err
	}
	return e.poller.Start(key)
}

// PausePolling pauses the poll loop
func (e *Engine) PausePolling() error {
	if err := e.alive(); err != nil {
		return err
	}
	e.poller.Pause()
	return nil
}

// ResumePolling resumes a paused poll loop
func (e *Engine) ResumePolling() error {
	if err := e.alive(); err != nil {
		return err
	}
	e.poller.Resume()
	return nil
}

// StopPolling stops the poll loop
func (e *Engine) StopPolling() error {
	if err := e.alive(); err != nil {
		return err
	}
	e.poller.Stop()
	return nil
}

// Connect subscribes the push channel for key, switching the engine to it first when needed
func (e *Engine) Connect(ctx context.Context, key string) error {
	if e.push == nil {
		return ErrPushUnavailable
	}
	if key == "" {
		return realtime.ErrEmptyKey
	}
	if err := e.useKey(key); err != nil {
		return err
	}
	return e.push.Connect(ctx, key)
}

// Disconnect closes the push channel
func (e *Engine) Disconnect() error {
	if err := e.alive(); err != nil {
		return err
	}
	if e.push != nil {
		e.push.Disconnect()
	}
	return nil
}

/* PingDestinations probes every destination of key that has ping enabled
 * A failed probe is reported in its result, only an unknown key is an error
 */
func (e *Engine) PingDestinations(ctx context.Context, key string) ([]PingResult, error) {
	if err := e.alive(); err != nil {
		return nil, err
	}
	set, err := e.dests.Resolve(key)
	if err != nil {
		return nil, err
	}

	results := []PingResult{}
	for _, d := range set.Destinations {
		if !d.Ping {
			continue
		}
		res := e.pinger.Ping(ctx, d)
		pr := PingResult{
			Destination: d.Name,
			URL:         d.ProbeURL(),
			Alive:       res.Succeeded(),
			StatusCode:  res.StatusCode,
			ElapsedMs:   res.Elapsed.Milliseconds(),
		}
		if !pr.Alive {
			pr.Error = res.FailureReason()
			e.logger.Warn().Str("webhook_id", key).Str("destination", d.Name).Str("reason", pr.Error).Msg("destination ping failed")
		}
		results = append(results, pr)
	}
	return results, nil
}

/* Dispose stops both feeds and waits for running deliveries to observe cancellation
 * Results that arrive afterwards are dropped and every other call returns ErrDisposed
 */
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.mu.Unlock()

	e.poller.Dispose()
	if e.push != nil {
		e.push.Dispose()
	}
	e.cancel()
	e.wg.Wait()

	e.onEvents.clear()
	e.onNew.clear()
	e.onState.clear()
	e.logger.Info().Msg("engine disposed")
}

func (e *Engine) alive() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	return nil
}

// useKey makes key the active subscription key, tearing down the feeds of the previous one
func (e *Engine) useKey(key string) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	previous := e.key
	if previous == key {
		e.mu.Unlock()
		return nil
	}
	e.key = key
	snap := e.list.Reset()
	e.mu.Unlock()

	if previous != "" {
		e.logger.Info().Str("webhook_id", key).Str("previous", previous).Msg("switching subscription key")
		e.poller.Stop()
		if e.push != nil {
			e.push.Disconnect()
		}
	}
	e.onEvents.emit(snap)
	return nil
}

// current reports whether key is still the active one on a live engine
func (e *Engine) current(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.disposed && key != "" && key == e.key
}

func (e *Engine) pollResult(res poller.Result) {
	var previous []event.Event
	snap, ok := e.applyFor(res.Key, func() reconciler.Snapshot {
		previous = settled(e.list.Events().Events)
		if res.Full {
			return e.list.ApplySnapshot(res.Events)
		}
		return e.list.Merge(res.Events)
	})
	if !ok {
		return
	}
	e.cachePayloads(res.Events)

	e.onEvents.emit(snap)
	if len(res.New) == 0 {
		return
	}
	fresh := e.hydrate(res.New)
	e.onNew.emit(event.CloneAll(fresh))
	e.spawn(func(ctx context.Context) {
		e.coordinator.DeliverBatch(ctx, fresh, previous)
	})
}

func (e *Engine) pushChange(c reconciler.Change) {
	e.mu.Lock()
	key := e.key
	e.mu.Unlock()
	if c.Event != nil && c.Event.WebhookID != "" && c.Event.WebhookID != key {
		return
	}
	if c.Request != nil && c.Request.WebhookID != "" && c.Request.WebhookID != key {
		return
	}

	var known bool
	var err error
	snap, ok := e.applyFor(key, func() reconciler.Snapshot {
		_, known = e.list.Event(c.EventID())
		var s reconciler.Snapshot
		s, err = e.list.ApplyDelta(c)
		return s
	})
	if !ok {
		return
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("applying push change, requesting resync")
		e.poller.Resync()
		return
	}
	if c.Event != nil && c.Event.Origin != nil {
		e.cachePayloads([]event.Event{*c.Event})
	}
	e.onEvents.emit(snap)

	// an UPDATE for an unknown event inserts it, which makes it an arrival like INSERT
	if c.Table != reconciler.EventsTable || c.Type == reconciler.Delete || known {
		return
	}
	e.poller.Observe(c.Event.ID)
	merged, ok := e.list.Event(c.Event.ID)
	if !ok {
		return
	}
	e.onNew.emit([]event.Event{merged.Clone()})
	if merged.Status != event.Pending {
		return
	}
	e.spawn(func(ctx context.Context) {
		e.coordinator.DeliverRealtime(ctx, merged)
	})
}

/* applyFor runs fn against the list while key is the active key of a live engine
 * Dispose and key switches wait for fn, so a late result never lands on a torn down list
 */
func (e *Engine) applyFor(key string, fn func() reconciler.Snapshot) (reconciler.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed || key == "" || key != e.key {
		return reconciler.Snapshot{}, false
	}
	return fn(), true
}

// settled drops pending events, a pending event already listed may still be waiting for its first run
func settled(events []event.Event) []event.Event {
	out := events[:0]
	for _, ev := range events {
		if ev.Status != event.Pending {
			out = append(out, ev)
		}
	}
	return out
}

// hydrate swaps in the reconciled copy of each event so cached payloads come along
func (e *Engine) hydrate(events []event.Event) []event.Event {
	out := make([]event.Event, 0, len(events))
	for _, in := range events {
		if merged, ok := e.list.Event(in.ID); ok {
			out = append(out, merged)
			continue
		}
		out = append(out, in.Clone())
	}
	return out
}

func (e *Engine) spawn(fn func(ctx context.Context)) {
	if !e.deliver {
		return
	}
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

func (e *Engine) cachePayloads(events []event.Event) {
	if e.payloads == nil {
		return
	}
	for _, ev := range events {
		if ev.Origin == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(e.ctx, payloadTimeout)
		err := e.payloads.Put(ctx, ev.ID, *ev.Origin)
		cancel()
		if err != nil {
			e.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("caching origin payload")
		}
	}
}

func (e *Engine) requestChanged(req event.Request) {
	if !e.current(req.WebhookID) {
		return
	}
	e.onEvents.emit(e.list.UpdateRequest(req))
}

func (e *Engine) eventStatusChanged(id string, status event.Status, reason string) {
	if err := e.alive(); err != nil {
		return
	}
	if snap, ok := e.list.UpdateEventStatus(id, status, reason); ok {
		e.onEvents.emit(snap)
	}
}

func (e *Engine) retryCounted(id string) {
	if err := e.alive(); err != nil {
		return
	}
	if snap, ok := e.list.IncrementRetry(id); ok {
		e.onEvents.emit(snap)
	}
}

func (e *Engine) emitState() {
	if err := e.alive(); err != nil {
		return
	}
	e.onState.emit(e.GetState())
}
