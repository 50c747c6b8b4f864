package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/marcelsud/webhook-relay/reconciler"
	"github.com/marcelsud/webhook-relay/remote"
	"github.com/rs/zerolog"
)

// Options configures a Client
type Options struct {
	Transport   Transport
	Credentials CredentialProvider
	Clock       clock.Clock
	Logger      *zerolog.Logger
	// OnChange receives every decoded change
	OnChange func(reconciler.Change)
	// OnResync is called when a change could not be decoded and the view needs a full refresh
	OnResync func()
	OnState  func(ConnectionState)
}

/* Client keeps the push channel alive for one subscription key
 * Connection attempts are serialized, state lives behind mu and every callback runs without it
 * Each connect or disconnect bumps gen so callbacks from a torn down connection are dropped
 */
type Client struct {
	mu       sync.Mutex
	opMu     sync.Mutex
	t        Transport
	creds    CredentialProvider
	clock    clock.Clock
	logger   zerolog.Logger
	onChange func(reconciler.Change)
	onResync func()
	onState  func(ConnectionState)

	state         ConnectionState
	lastKey       string
	gen           uint64
	healthGen     uint64
	health        *clock.Timer
	reconnect     *clock.Timer
	cancelAttempt context.CancelFunc
	cancelCreds   func()
	disposed      bool
}

// New creates a disconnected client and starts following credential changes
func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Credentials == nil {
		return nil, fmt.Errorf("credential provider is required")
	}
	c := &Client{
		t:        opts.Transport,
		creds:    opts.Credentials,
		clock:    opts.Clock,
		logger:   zerolog.Nop(),
		onChange: opts.OnChange,
		onResync: opts.OnResync,
		onState:  opts.OnState,
		state:    newConnectionState(),
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if opts.Logger != nil {
		c.logger = *opts.Logger
	}
	c.cancelCreds = c.creds.OnChange(c.credentialsChanged)
	return c, nil
}

// State returns a copy of the connection state
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

/* Connect subscribes both channels for key
 * Without a usable credential nothing happens: no attempt and no state change
 * A failed attempt is handed to the reconnection policy and its error returned
 */
func (c *Client) Connect(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	token := c.creds.Token()
	if !ValidToken(token) {
		c.lastKey = key
		c.mu.Unlock()
		c.logger.Debug().Str("webhook_id", key).Msg("push connect skipped: no credential")
		return nil
	}
	if c.state.IsConnected && c.state.SubscriptionKey == key {
		c.mu.Unlock()
		return nil
	}
	c.lastKey = key
	c.state.ReconnectAttempts = 0
	gen, attemptCtx := c.beginAttemptLocked(ctx)
	c.mu.Unlock()

	return c.connect(attemptCtx, gen, key, token)
}

// Disconnect tears the connection down and forgets the key
func (c *Client) Disconnect() {
	c.teardown(false)
}

// Dispose disconnects for good and stops following credentials
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	cancelCreds := c.cancelCreds
	c.mu.Unlock()

	if cancelCreds != nil {
		cancelCreds()
	}
	c.teardown(false)
}

func (c *Client) credentialsChanged(token string) {
	c.mu.Lock()
	disposed := c.disposed
	key := c.lastKey
	c.mu.Unlock()
	if disposed {
		return
	}

	c.logger.Info().Str("webhook_id", key).Msg("credential changed, reconnecting push feed")
	c.teardown(true)
	if key == "" || !ValidToken(token) {
		return
	}
	if err := c.Connect(context.Background(), key); err != nil {
		c.logger.Warn().Err(err).Str("webhook_id", key).Msg("reconnecting after credential change")
	}
}

// beginAttemptLocked supersedes whatever attempt is running and returns the new generation
func (c *Client) beginAttemptLocked(ctx context.Context) (uint64, context.Context) {
	c.gen++
	c.stopReconnectLocked()
	if c.cancelAttempt != nil {
		c.cancelAttempt()
	}
	attemptCtx, cancel := c.clock.WithTimeout(ctx, ConnectTimeout)
	c.cancelAttempt = cancel
	return c.gen, attemptCtx
}

func (c *Client) connect(ctx context.Context, gen uint64, key, token string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.disposed || gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	if c.state.SubscriptionKey != key {
		c.stopHealthLocked()
	}
	c.state.IsConnected = false
	c.state.SubscriptionKey = key
	c.state.setChannels(Subscribing)
	st := c.state.clone()
	c.mu.Unlock()
	c.notify(st)

	if c.t.IsConnected() {
		if err := c.t.Disconnect(); err != nil {
			c.logger.Warn().Err(err).Msg("closing previous push connection")
		}
	}

	err := c.t.Connect(ctx, token)
	if err == nil {
		for _, ch := range Channels {
			spec := ChannelSpec{Channel: ch, Table: tableOf(ch), Key: key}
			if err = c.t.Subscribe(ctx, spec, c.changeHandler(gen), c.statusHandler(gen, ch)); err != nil {
				err = fmt.Errorf("subscribing %s: %w", ch, err)
				break
			}
		}
	}

	c.mu.Lock()
	if c.disposed || gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	log := c.logger.With().Str("webhook_id", key).Int("attempt", c.state.ReconnectAttempts).Logger()

	if err != nil {
		c.state.IsConnected = false
		c.state.setChannels(Unsubscribed)
		if remote.IsAuthError(err) {
			c.state.AuthorizationLost = true
			log.Warn().Err(err).Msg("push connect rejected: authorization lost")
		} else {
			log.Warn().Err(err).Msg("push connect failed")
			c.scheduleReconnectLocked(gen)
		}
		st := c.state.clone()
		c.mu.Unlock()
		c.notify(st)
		if derr := c.t.Disconnect(); derr != nil {
			log.Warn().Err(derr).Msg("closing failed push connection")
		}
		return fmt.Errorf("connecting push feed: %w", err)
	}

	c.state.IsConnected = true
	c.state.ReconnectAttempts = 0
	c.state.AuthorizationLost = false
	if c.health == nil {
		c.startHealthLocked()
	}
	st = c.state.clone()
	c.mu.Unlock()

	log.Info().Msg("push feed connected")
	c.notify(st)
	return nil
}

func (c *Client) teardown(keepKey bool) {
	c.mu.Lock()
	c.gen++
	c.stopReconnectLocked()
	c.stopHealthLocked()
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	wasActive := c.state.IsConnected || c.state.SubscriptionKey != ""
	authLost := c.state.AuthorizationLost
	c.state = newConnectionState()
	c.state.AuthorizationLost = authLost
	if !keepKey {
		c.lastKey = ""
	}
	st := c.state.clone()
	disposed := c.disposed
	c.mu.Unlock()

	c.opMu.Lock()
	if err := c.t.Disconnect(); err != nil {
		c.logger.Warn().Err(err).Msg("disconnecting push feed")
	}
	c.opMu.Unlock()

	if wasActive && !disposed {
		c.notify(st)
	}
}

/* scheduleReconnectLocked arms the next attempt after ReconnectDelay
 * Once MaxReconnectAttempts is spent the client stays disconnected
 */
func (c *Client) scheduleReconnectLocked(gen uint64) {
	if c.state.ReconnectAttempts >= MaxReconnectAttempts {
		c.logger.Error().Str("webhook_id", c.state.SubscriptionKey).Msg("push reconnect attempts exhausted")
		return
	}
	c.state.ReconnectAttempts++
	c.stopReconnectLocked()
	c.reconnect = c.clock.AfterFunc(ReconnectDelay, func() { c.reconnectNow(gen) })
}

func (c *Client) reconnectNow(scheduledGen uint64) {
	c.mu.Lock()
	if c.disposed || scheduledGen != c.gen {
		c.mu.Unlock()
		return
	}
	key := c.lastKey
	token := c.creds.Token()
	if key == "" || !ValidToken(token) {
		c.mu.Unlock()
		return
	}
	gen, ctx := c.beginAttemptLocked(context.Background())
	c.mu.Unlock()

	_ = c.connect(ctx, gen, key, token)
}

func (c *Client) startHealthLocked() {
	c.healthGen++
	healthGen := c.healthGen
	c.health = c.clock.AfterFunc(HealthCheckInterval, func() { c.probe(healthGen) })
}

func (c *Client) stopHealthLocked() {
	c.healthGen++
	if c.health != nil {
		c.health.Stop()
		c.health = nil
	}
}

func (c *Client) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

/* probe compares the transport's liveness with the cached state
 * A dropped connection reconnects at once, a silently recovered one resets the attempt count
 */
func (c *Client) probe(healthGen uint64) {
	c.mu.Lock()
	if c.disposed || healthGen != c.healthGen {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	live := c.t.IsConnected()

	c.mu.Lock()
	if c.disposed || healthGen != c.healthGen {
		c.mu.Unlock()
		return
	}
	c.health = nil
	c.startHealthLocked()

	cached := c.state.IsConnected
	switch {
	case cached && !live:
		c.logger.Warn().Str("webhook_id", c.state.SubscriptionKey).Msg("push connection dropped")
		c.state.IsConnected = false
		c.state.setChannels(Unsubscribed)
		c.state.ReconnectAttempts++
		gen := c.gen
		st := c.state.clone()
		c.mu.Unlock()
		c.notify(st)
		go c.reconnectNow(gen)
	case !cached && live:
		c.logger.Info().Str("webhook_id", c.state.SubscriptionKey).Msg("push connection recovered")
		c.stopReconnectLocked()
		c.state.IsConnected = true
		c.state.ReconnectAttempts = 0
		st := c.state.clone()
		c.mu.Unlock()
		c.notify(st)
	default:
		c.mu.Unlock()
	}
}

func (c *Client) changeHandler(gen uint64) func(RawChange) {
	return func(raw RawChange) {
		c.mu.Lock()
		stale := c.disposed || gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}

		change, err := DecodeChange(raw)
		if err != nil {
			c.logger.Error().Err(err).Msg("undecodable push change, requesting resync")
			if c.onResync != nil {
				c.onResync()
			}
			return
		}
		if c.onChange != nil {
			c.onChange(change)
		}
	}
}

func (c *Client) statusHandler(gen uint64, ch Channel) func(SubscriptionStatus, error) {
	return func(status SubscriptionStatus, err error) {
		c.mu.Lock()
		if c.disposed || gen != c.gen {
			c.mu.Unlock()
			return
		}
		log := c.logger.With().Str("webhook_id", c.state.SubscriptionKey).Str("channel", string(ch)).Logger()

		switch status {
		case StatusSubscribed:
			c.state.Channels[ch] = Subscribed
		case StatusClosed:
			c.state.Channels[ch] = Unsubscribed
		default:
			c.state.Channels[ch] = Unsubscribed
			if remote.IsAuthError(err) {
				c.state.AuthorizationLost = true
				log.Warn().Err(err).Stringer("status", status).Msg("push channel rejected: authorization lost")
			} else {
				log.Warn().Err(err).Stringer("status", status).Msg("push channel failed")
				if c.reconnect == nil {
					c.scheduleReconnectLocked(gen)
				}
			}
		}
		st := c.state.clone()
		c.mu.Unlock()
		c.notify(st)
	}
}

func (c *Client) notify(st ConnectionState) {
	if c.onState != nil {
		c.onState(st)
	}
}

func tableOf(ch Channel) reconciler.Table {
	if ch == RequestsChannel {
		return reconciler.RequestsTable
	}
	return reconciler.EventsTable
}
