package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/marcelsud/webhook-relay/remote"
	"github.com/rs/zerolog"
)

// Fetcher is the slice of the remote API the poll loop needs
type Fetcher interface {
	FetchEvents(ctx context.Context, key string, since *time.Time) ([]event.Event, error)
}

/* Result is one successful poll cycle
 * Full marks a snapshot fetch (first cycle or after Resync), otherwise Events is a delta
 * New holds the events whose ids had not been seen before
 */
type Result struct {
	Key    string
	Full   bool
	Events []event.Event
	New    []event.Event
}

// Options configures a Poller
type Options struct {
	Fetcher          Fetcher
	Clock            clock.Clock
	Logger           *zerolog.Logger
	Interval         time.Duration
	AutoPauseTimeout time.Duration
	OnResult         func(Result)
	OnState          func(State)
}

/* Poller is the fixed interval fallback feed
 * stopped -> polling <-> paused -> stopped
 * Every schedule change bumps a generation counter, so a fetch that completes after
 * Pause, Stop or Dispose is discarded
 */
type Poller struct {
	mu       sync.Mutex
	fetcher  Fetcher
	clock    clock.Clock
	logger   zerolog.Logger
	validate *validator.Validate
	onResult func(Result)
	onState  func(State)

	state    State
	seen     map[string]struct{}
	full     bool
	gen      uint64
	idleGen  uint64
	poll     *clock.Timer
	idle     *clock.Timer
	cancel   context.CancelFunc
	disposed bool
}

// New creates a stopped poller
func New(opts Options) (*Poller, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidConfiguration)
	}
	p := &Poller{
		fetcher:  opts.Fetcher,
		clock:    opts.Clock,
		logger:   zerolog.Nop(),
		validate: validator.New(),
		onResult: opts.OnResult,
		onState:  opts.OnState,
		seen:     map[string]struct{}{},
		full:     true,
		state: State{
			Interval:         DefaultInterval,
			AutoPauseTimeout: DefaultAutoPauseTimeout,
		},
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if opts.Logger != nil {
		p.logger = *opts.Logger
	}
	if opts.Interval != 0 {
		if err := p.checkInterval(opts.Interval); err != nil {
			return nil, err
		}
		p.state.Interval = opts.Interval
	}
	if opts.AutoPauseTimeout != 0 {
		if err := p.checkAutoPause(opts.AutoPauseTimeout); err != nil {
			return nil, err
		}
		p.state.AutoPauseTimeout = opts.AutoPauseTimeout
	}
	return p, nil
}

// State returns a copy of the current state
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.clone()
}

// SetInterval changes the poll interval, effective from the next scheduled cycle
func (p *Poller) SetInterval(d time.Duration) error {
	if err := p.checkInterval(d); err != nil {
		return err
	}
	p.mu.Lock()
	p.state.Interval = d
	st := p.state.clone()
	p.mu.Unlock()
	p.notify(st)
	return nil
}

// SetAutoPauseTimeout changes the idle timeout and re-arms it when polling
func (p *Poller) SetAutoPauseTimeout(d time.Duration) error {
	if err := p.checkAutoPause(d); err != nil {
		return err
	}
	p.mu.Lock()
	p.state.AutoPauseTimeout = d
	if p.activeLocked() {
		p.armIdleLocked()
	}
	st := p.state.clone()
	p.mu.Unlock()
	p.notify(st)
	return nil
}

func (p *Poller) checkInterval(d time.Duration) error {
	if err := p.checkBounds(d, MinInterval, MaxInterval); err != nil {
		return fmt.Errorf("%w: polling interval %s must be within [%s, %s]", ErrInvalidConfiguration, d, MinInterval, MaxInterval)
	}
	return nil
}

func (p *Poller) checkAutoPause(d time.Duration) error {
	if err := p.checkBounds(d, MinAutoPauseTimeout, MaxAutoPauseTimeout); err != nil {
		return fmt.Errorf("%w: auto-pause timeout %s must be within [%s, %s]", ErrInvalidConfiguration, d, MinAutoPauseTimeout, MaxAutoPauseTimeout)
	}
	return nil
}

func (p *Poller) checkBounds(d, lo, hi time.Duration) error {
	return p.validate.Var(d.Milliseconds(), fmt.Sprintf("min=%d,max=%d", lo.Milliseconds(), hi.Milliseconds()))
}

/* Start begins polling key, fetching immediately
 * Starting the key already being polled is a no-op, a different key resets per-key state
 */
func (p *Poller) Start(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDisposed
	}
	if p.state.SubscriptionKey == key && p.activeLocked() {
		p.mu.Unlock()
		return nil
	}
	if p.state.SubscriptionKey != key {
		p.resetKeyLocked()
	}
	p.state.SubscriptionKey = key
	p.state.IsPolling = true
	p.state.IsPaused = false
	p.state.PauseReason = NotPaused
	p.state.ConsecutiveErrors = 0
	p.state.AuthorizationLost = false
	gen := p.restartLocked()
	st := p.state.clone()
	p.mu.Unlock()

	p.logger.Info().Str("webhook_id", key).Msg("polling started")
	p.notify(st)
	go p.cycle(gen)
	return nil
}

// Pause stops fetching but keeps the key and the seen set
func (p *Poller) Pause() {
	p.mu.Lock()
	if !p.activeLocked() {
		p.mu.Unlock()
		return
	}
	p.pauseLocked(PausedManually)
	st := p.state.clone()
	p.mu.Unlock()
	p.notify(st)
}

// Resume restarts a paused loop, clearing the error count
func (p *Poller) Resume() {
	p.mu.Lock()
	if p.disposed || !p.state.IsPolling || !p.state.IsPaused {
		p.mu.Unlock()
		return
	}
	p.state.IsPaused = false
	p.state.PauseReason = NotPaused
	p.state.ConsecutiveErrors = 0
	p.state.AuthorizationLost = false
	gen := p.restartLocked()
	st := p.state.clone()
	p.mu.Unlock()

	p.logger.Info().Str("webhook_id", st.SubscriptionKey).Msg("polling resumed")
	p.notify(st)
	go p.cycle(gen)
}

// Stop cancels every timer and forgets the key
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.state.IsPolling {
		p.mu.Unlock()
		return
	}
	p.haltLocked()
	p.state.IsPolling = false
	p.state.IsPaused = false
	p.state.PauseReason = NotPaused
	p.state.ConsecutiveErrors = 0
	p.state.SubscriptionKey = ""
	p.resetKeyLocked()
	st := p.state.clone()
	p.mu.Unlock()
	p.notify(st)
}

// Dispose stops the loop for good. Later calls to Start fail with ErrDisposed.
func (p *Poller) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.haltLocked()
	p.disposed = true
	p.state.IsPolling = false
	p.state.IsPaused = false
	p.state.SubscriptionKey = ""
	p.resetKeyLocked()
}

// Resync makes the next cycle a full fetch and runs it now when active
func (p *Poller) Resync() {
	p.mu.Lock()
	p.full = true
	if !p.activeLocked() {
		p.mu.Unlock()
		return
	}
	p.haltPollLocked()
	gen := p.gen
	p.mu.Unlock()
	go p.cycle(gen)
}

// Observe marks ids delivered by another feed as seen and counts as activity
func (p *Poller) Observe(ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.seen[id] = struct{}{}
	}
	if len(ids) > 0 && p.activeLocked() {
		p.armIdleLocked()
	}
}

func (p *Poller) cycle(gen uint64) {
	p.mu.Lock()
	if p.disposed || gen != p.gen || !p.activeLocked() {
		p.mu.Unlock()
		return
	}
	key := p.state.SubscriptionKey
	full := p.full || p.state.LastEventTime == nil
	var since *time.Time
	if !full {
		t := *p.state.LastEventTime
		since = &t
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	events, err := p.fetcher.FetchEvents(ctx, key, since)
	cancel()

	p.mu.Lock()
	if p.disposed || gen != p.gen || !p.activeLocked() {
		p.mu.Unlock()
		return
	}
	p.cancel = nil
	now := p.clock.Now()
	p.state.LastPollTime = &now

	if err != nil {
		p.failLocked(gen, key, err)
		st := p.state.clone()
		p.mu.Unlock()
		p.notify(st)
		return
	}

	p.state.ConsecutiveErrors = 0
	p.full = false
	var fresh []event.Event
	for _, e := range events {
		if p.state.LastEventTime == nil || e.Timestamp.After(*p.state.LastEventTime) {
			t := e.Timestamp
			p.state.LastEventTime = &t
		}
		if _, ok := p.seen[e.ID]; ok {
			continue
		}
		p.seen[e.ID] = struct{}{}
		fresh = append(fresh, e)
	}
	if len(fresh) > 0 {
		p.armIdleLocked()
	}
	p.schedulePollLocked(gen, p.state.Interval)
	st := p.state.clone()
	onResult := p.onResult
	p.mu.Unlock()

	if onResult != nil {
		onResult(Result{Key: key, Full: full, Events: events, New: fresh})
	}
	p.notify(st)
}

func (p *Poller) failLocked(gen uint64, key string, err error) {
	p.state.ConsecutiveErrors++
	n := p.state.ConsecutiveErrors
	log := p.logger.With().Str("webhook_id", key).Int("attempt", n).Logger()

	switch {
	case remote.IsAuthError(err):
		log.Warn().Err(err).Msg("polling paused: authorization lost")
		p.state.AuthorizationLost = true
		p.pauseLocked(PausedUnauthorized)
	case n >= MaxConsecutiveErrors:
		log.Error().Err(err).Msg("polling paused after consecutive errors")
		p.pauseLocked(PausedOnErrors)
	default:
		delay := Backoff(n)
		log.Warn().Err(err).Dur("retry_in", delay).Msg("poll failed")
		p.schedulePollLocked(gen, delay)
	}
}

func (p *Poller) idleTimeout(idleGen uint64) {
	p.mu.Lock()
	if p.disposed || idleGen != p.idleGen || !p.activeLocked() {
		p.mu.Unlock()
		return
	}
	p.logger.Info().Str("webhook_id", p.state.SubscriptionKey).Dur("timeout", p.state.AutoPauseTimeout).Msg("polling auto-paused: no new events")
	p.pauseLocked(PausedIdle)
	st := p.state.clone()
	p.mu.Unlock()
	p.notify(st)
}

func (p *Poller) activeLocked() bool {
	return !p.disposed && p.state.IsPolling && !p.state.IsPaused
}

func (p *Poller) pauseLocked(reason PauseReason) {
	p.haltLocked()
	p.state.IsPaused = true
	p.state.PauseReason = reason
}

// restartLocked invalidates anything scheduled and arms the idle timer for a fresh run
func (p *Poller) restartLocked() uint64 {
	p.haltLocked()
	p.armIdleLocked()
	return p.gen
}

func (p *Poller) haltLocked() {
	p.haltPollLocked()
	p.idleGen++
	if p.idle != nil {
		p.idle.Stop()
		p.idle = nil
	}
}

func (p *Poller) haltPollLocked() {
	p.gen++
	if p.poll != nil {
		p.poll.Stop()
		p.poll = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) schedulePollLocked(gen uint64, delay time.Duration) {
	if p.poll != nil {
		p.poll.Stop()
	}
	p.poll = p.clock.AfterFunc(delay, func() { p.cycle(gen) })
}

func (p *Poller) armIdleLocked() {
	p.idleGen++
	if p.idle != nil {
		p.idle.Stop()
	}
	idleGen := p.idleGen
	p.idle = p.clock.AfterFunc(p.state.AutoPauseTimeout, func() { p.idleTimeout(idleGen) })
}

func (p *Poller) resetKeyLocked() {
	p.seen = map[string]struct{}{}
	p.full = true
	p.state.LastEventTime = nil
	p.state.LastPollTime = nil
}

func (p *Poller) notify(st State) {
	if p.onState != nil {
		p.onState(st)
	}
}
