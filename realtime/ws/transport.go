package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/marcelsud/webhook-relay/realtime"
	"github.com/marcelsud/webhook-relay/remote"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ReadLimit caps a single frame from the change feed
const ReadLimit = 4 << 20

// Message types exchanged with the change feed
const (
	TypeSubscribe  = "subscribe"
	TypeSubscribed = "subscribed"
	TypeChange     = "change"
	TypeError      = "error"
)

/* Message is the envelope of every frame in both directions
 * Subscribe frames carry Table and Key, change frames carry the raw change in Payload
 */
type Message struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Table   string          `json:"table,omitempty"`
	Key     string          `json:"key,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type handlers struct {
	onChange func(realtime.RawChange)
	onStatus func(realtime.SubscriptionStatus, error)
}

/* Transport is a realtime.Transport over a single websocket
 * The token goes in the Authorization header of the upgrade request
 * A rejected upgrade is returned as *remote.HTTPError so auth failures are recognizable
 */
type Transport struct {
	url    string
	client *http.Client
	logger zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
	channels  map[realtime.Channel]handlers
}

// Option configures a Transport
type Option func(*Transport)

// WithHTTPClient sets the client used for the upgrade request
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithLogger sets the transport logger
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New creates a websocket transport for the feed at url (ws:// or wss://)
func New(url string, opts ...Option) *Transport {
	t := &Transport{
		url:      url,
		logger:   zerolog.Nop(),
		channels: map[realtime.Channel]handlers{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect dials the feed and starts the read loop
func (t *Transport) Connect(ctx context.Context, token string) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		HTTPClient: t.client,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return &remote.HTTPError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return fmt.Errorf("dialing %s: %w", t.url, err)
	}
	conn.SetReadLimit(ReadLimit)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.done = done
	t.connected = true
	t.channels = map[realtime.Channel]handlers{}
	t.mu.Unlock()

	go t.readLoop(loopCtx, conn, done)
	return nil
}

// Subscribe registers the channel handlers and asks the feed for the channel
func (t *Transport) Subscribe(ctx context.Context, spec realtime.ChannelSpec, onChange func(realtime.RawChange), onStatus func(realtime.SubscriptionStatus, error)) error {
	t.mu.Lock()
	conn := t.conn
	if conn == nil || !t.connected {
		t.mu.Unlock()
		return errors.New("not connected")
	}
	t.channels[spec.Channel] = handlers{onChange: onChange, onStatus: onStatus}
	t.mu.Unlock()

	msg := Message{
		Type:    TypeSubscribe,
		Channel: string(spec.Channel),
		Table:   string(spec.Table),
		Key:     spec.Key,
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("sending subscribe: %w", err)
	}
	return nil
}

// IsConnected reports whether the read loop is still running
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Disconnect closes the socket and waits for the read loop to exit
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	conn, cancel, done := t.conn, t.cancel, t.done
	t.conn, t.cancel, t.done = nil, nil, nil
	t.connected = false
	t.channels = map[realtime.Channel]handlers{}
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	// a socket the peer already dropped fails its close handshake
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.logger.Debug().Err(err).Msg("closing websocket")
	}
	cancel()
	<-done
	return nil
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.closed(conn, err)
			return
		}
		t.dispatch(msg)
	}
}

func (t *Transport) dispatch(msg Message) {
	t.mu.Lock()
	h, ok := t.channels[realtime.Channel(msg.Channel)]
	t.mu.Unlock()
	if !ok {
		t.logger.Debug().Str("channel", msg.Channel).Str("type", msg.Type).Msg("frame for unknown channel")
		return
	}

	switch msg.Type {
	case TypeSubscribed:
		h.onStatus(realtime.StatusSubscribed, nil)
	case TypeChange:
		h.onChange(realtime.RawChange(msg.Payload))
	case TypeError:
		h.onStatus(realtime.StatusChannelError, errors.New(msg.Message))
	default:
		t.logger.Debug().Str("channel", msg.Channel).Str("type", msg.Type).Msg("ignoring frame")
	}
}

// closed reports an unexpected end of the read loop to every channel
func (t *Transport) closed(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.connected = false
	channels := make([]handlers, 0, len(t.channels))
	for _, h := range t.channels {
		channels = append(channels, h)
	}
	t.mu.Unlock()

	status := realtime.StatusChannelError
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		status = realtime.StatusClosed
		err = nil
	} else {
		t.logger.Warn().Err(err).Msg("websocket read failed")
	}
	for _, h := range channels {
		h.onStatus(status, err)
	}
}
