package pgnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/marcelsud/webhook-relay/realtime"
	"github.com/marcelsud/webhook-relay/reconciler"
	"github.com/rs/zerolog"
)

const (
	minReconnectInterval = time.Second
	maxReconnectInterval = 30 * time.Second
)

// ChannelPrefix prefixes the NOTIFY channel of every table
const ChannelPrefix = "relay_"

/* TriggerSQL installs the triggers that publish row changes on the relay_<table> channels
 * Payloads use the same {table, type, record, old_record} shape the push decoder accepts
 */
const TriggerSQL = `
CREATE OR REPLACE FUNCTION relay_notify() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify('relay_' || TG_TABLE_NAME, json_build_object(
    'table', TG_TABLE_NAME,
    'type', TG_OP,
    'record', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
    'old_record', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END
  )::text);
  RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS relay_events_notify ON events;
CREATE TRIGGER relay_events_notify AFTER INSERT OR UPDATE OR DELETE ON events
  FOR EACH ROW EXECUTE FUNCTION relay_notify();

DROP TRIGGER IF EXISTS relay_requests_notify ON requests;
CREATE TRIGGER relay_requests_notify AFTER INSERT OR UPDATE OR DELETE ON requests
  FOR EACH ROW EXECUTE FUNCTION relay_notify();
`

// ChannelName returns the NOTIFY channel for a table
func ChannelName(table reconciler.Table) string {
	return ChannelPrefix + string(table)
}

type subscription struct {
	spec     realtime.ChannelSpec
	onChange func(realtime.RawChange)
	onStatus func(realtime.SubscriptionStatus, error)
}

/* Transport is a realtime.Transport over Postgres LISTEN/NOTIFY
 * The database credentials come from the DSN, the access token is not used
 * Notifications are filtered on the subscription key before they reach the client
 */
type Transport struct {
	dsn    string
	logger zerolog.Logger

	mu        sync.Mutex
	gen       uint64
	listener  *pq.Listener
	connected bool
	subs      map[string]subscription
	done      chan struct{}
}

// New creates a LISTEN/NOTIFY transport
func New(dsn string, logger zerolog.Logger) *Transport {
	return &Transport{
		dsn:    dsn,
		logger: logger,
		subs:   map[string]subscription{},
	}
}

// Connect opens the listener connection and waits for the first successful attempt
func (t *Transport) Connect(ctx context.Context, _ string) error {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	first := make(chan error, 1)
	var once sync.Once
	l := pq.NewListener(t.dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			once.Do(func() { first <- nil })
		case pq.ListenerEventConnectionAttemptFailed:
			once.Do(func() { first <- err })
		default:
			t.listenerEvent(gen, ev, err)
		}
	})

	select {
	case err := <-first:
		if err != nil {
			_ = l.Close()
			return fmt.Errorf("connecting listener: %w", err)
		}
	case <-ctx.Done():
		_ = l.Close()
		return ctx.Err()
	}

	done := make(chan struct{})
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		_ = l.Close()
		return errors.New("connect superseded")
	}
	t.listener = l
	t.connected = true
	t.subs = map[string]subscription{}
	t.done = done
	t.mu.Unlock()

	go t.notifyLoop(l, done)
	return nil
}

// Subscribe issues LISTEN for the table channel and reports the channel subscribed
func (t *Transport) Subscribe(_ context.Context, spec realtime.ChannelSpec, onChange func(realtime.RawChange), onStatus func(realtime.SubscriptionStatus, error)) error {
	t.mu.Lock()
	l := t.listener
	if l == nil {
		t.mu.Unlock()
		return errors.New("not connected")
	}
	name := ChannelName(spec.Table)
	t.subs[name] = subscription{spec: spec, onChange: onChange, onStatus: onStatus}
	t.mu.Unlock()

	if err := l.Listen(name); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
		return fmt.Errorf("listening on %s: %w", name, err)
	}
	onStatus(realtime.StatusSubscribed, nil)
	return nil
}

// IsConnected reports the listener connection state
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Disconnect closes the listener
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	l, done := t.listener, t.done
	t.listener, t.done = nil, nil
	t.gen++
	t.connected = false
	t.subs = map[string]subscription{}
	t.mu.Unlock()

	if l == nil {
		return nil
	}
	err := l.Close()
	<-done
	if err != nil && !errors.Is(err, pq.ErrListenerClosed) {
		return fmt.Errorf("closing listener: %w", err)
	}
	return nil
}

func (t *Transport) listenerEvent(gen uint64, ev pq.ListenerEventType, err error) {
	t.mu.Lock()
	if gen != t.gen || t.listener == nil {
		t.mu.Unlock()
		return
	}
	var status realtime.SubscriptionStatus
	switch ev {
	case pq.ListenerEventDisconnected:
		t.connected = false
		status = realtime.StatusChannelError
	case pq.ListenerEventReconnected:
		t.connected = true
		status = realtime.StatusSubscribed
	default:
		t.mu.Unlock()
		return
	}
	subs := t.subscriptionsLocked()
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn().Err(err).Msg("notify listener disconnected")
	}
	for _, s := range subs {
		s.onStatus(status, err)
	}
}

func (t *Transport) notifyLoop(l *pq.Listener, done chan struct{}) {
	defer close(done)
	for n := range l.Notify {
		if n == nil {
			// the listener reconnected and notifications may have been lost
			t.logger.Info().Msg("notify listener reconnected")
			continue
		}
		t.mu.Lock()
		s, ok := t.subs[n.Channel]
		t.mu.Unlock()
		if !ok {
			continue
		}
		if !MatchesKey([]byte(n.Extra), s.spec.Key) {
			continue
		}
		s.onChange(realtime.RawChange(n.Extra))
	}
}

func (t *Transport) subscriptionsLocked() []subscription {
	subs := make([]subscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	return subs
}

type keyedRow struct {
	WebhookID string `json:"webhook_id"`
}

type keyedChange struct {
	Record    *keyedRow `json:"record"`
	OldRecord *keyedRow `json:"old_record"`
}

/* MatchesKey reports whether a notification belongs to the subscription key
 * Payloads that cannot be parsed are let through so the decoder can reject them and ask for a resync
 */
func MatchesKey(payload []byte, key string) bool {
	var c keyedChange
	if err := json.Unmarshal(payload, &c); err != nil {
		return true
	}
	for _, row := range []*keyedRow{c.Record, c.OldRecord} {
		if row != nil && row.WebhookID == key {
			return true
		}
	}
	return false
}
