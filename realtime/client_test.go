package realtime_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/marcelsud/webhook-relay/realtime"
	"github.com/marcelsud/webhook-relay/reconciler"
	"github.com/marcelsud/webhook-relay/remote"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

type harness struct {
	client    *realtime.Client
	transport *fakeTransport
	creds     *fakeCredentials
	clock     *clock.Mock

	mu      sync.Mutex
	changes []reconciler.Change
	resyncs int
	states  []realtime.ConnectionState
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		creds:     newFakeCredentials(token),
		clock:     clock.NewMock(),
	}
	c, err := realtime.New(realtime.Options{
		Transport:   h.transport,
		Credentials: h.creds,
		Clock:       h.clock,
		OnChange: func(c reconciler.Change) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.changes = append(h.changes, c)
		},
		OnResync: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.resyncs++
		},
		OnState: func(s realtime.ConnectionState) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.states = append(h.states, s)
		},
	})
	require.NoError(t, err)
	t.Cleanup(c.Dispose)
	h.client = c
	return h
}

func (h *harness) stateCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.states)
}

func TestClient_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("without credential makes no attempt and no state change", func(t *testing.T) {
		h := newHarness(t, "")
		require.NoError(t, h.client.Connect(ctx, "wh"))

		assert.Equal(t, 0, h.transport.connectCount())
		assert.Equal(t, 0, h.stateCount())
		assert.False(t, h.client.State().IsConnected)

		h2 := newHarness(t, "too-short")
		require.NoError(t, h2.client.Connect(ctx, "wh"))
		assert.Equal(t, 0, h2.transport.connectCount())
	})

	t.Run("success - subscribes both channels", func(t *testing.T) {
		h := newHarness(t, validToken)
		require.NoError(t, h.client.Connect(ctx, "wh"))

		st := h.client.State()
		assert.True(t, st.IsConnected)
		assert.Equal(t, "wh", st.SubscriptionKey)
		assert.Equal(t, realtime.Subscribed, st.Channels[realtime.EventsChannel])
		assert.Equal(t, realtime.Subscribed, st.Channels[realtime.RequestsChannel])
		assert.Equal(t, validToken, h.transport.lastToken())
		require.Len(t, h.transport.specs, 2)
		assert.Equal(t, reconciler.RequestsTable, h.transport.specs[1].Table)

		require.NoError(t, h.client.Connect(ctx, "wh"))
		assert.Equal(t, 1, h.transport.connectCount())
	})

	t.Run("switching keys disconnects first", func(t *testing.T) {
		h := newHarness(t, validToken)
		require.NoError(t, h.client.Connect(ctx, "wh-1"))
		require.NoError(t, h.client.Connect(ctx, "wh-2"))

		assert.Equal(t, 2, h.transport.connectCount())
		assert.GreaterOrEqual(t, h.transport.disconnectCount(), 1)
		assert.Equal(t, "wh-2", h.client.State().SubscriptionKey)
	})

	t.Run("empty key", func(t *testing.T) {
		h := newHarness(t, validToken)
		assert.ErrorIs(t, h.client.Connect(ctx, ""), realtime.ErrEmptyKey)
	})

	t.Run("times out after the bounded wait", func(t *testing.T) {
		h := newHarness(t, validToken)
		h.transport.block = make(chan struct{})
		defer close(h.transport.block)

		errc := make(chan error, 1)
		go func() { errc <- h.client.Connect(ctx, "wh") }()
		require.Eventually(t, func() bool { return h.transport.connectCount() == 1 }, wait, tick)

		h.clock.Add(realtime.ConnectTimeout)
		select {
		case err := <-errc:
			require.Error(t, err)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		case <-time.After(wait):
			t.Fatal("connect did not time out")
		}
		assert.False(t, h.client.State().IsConnected)
		assert.Equal(t, 1, h.client.State().ReconnectAttempts)
	})
}

func TestClient_Reconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("gives up after max attempts", func(t *testing.T) {
		h := newHarness(t, validToken)
		h.transport.setConnectErr(errors.New("connection refused"))

		require.Error(t, h.client.Connect(ctx, "wh"))
		for n := 1; n <= realtime.MaxReconnectAttempts; n++ {
			require.Eventually(t, func() bool {
				return h.transport.connectCount() == n && h.client.State().ReconnectAttempts == n
			}, wait, tick)
			h.clock.Add(realtime.ReconnectDelay)
		}
		require.Eventually(t, func() bool {
			return h.transport.connectCount() == realtime.MaxReconnectAttempts+1
		}, wait, tick)

		h.clock.Add(time.Minute)
		assert.Never(t, func() bool {
			return h.transport.connectCount() > realtime.MaxReconnectAttempts+1
		}, 50*time.Millisecond, tick)
		assert.False(t, h.client.State().IsConnected)
	})

	t.Run("auth failure does not retry", func(t *testing.T) {
		h := newHarness(t, validToken)
		h.transport.setConnectErr(&remote.HTTPError{StatusCode: 401})

		require.Error(t, h.client.Connect(ctx, "wh"))
		assert.True(t, h.client.State().AuthorizationLost)

		h.clock.Add(time.Minute)
		assert.Equal(t, 1, h.transport.connectCount())
	})

	t.Run("health probe reconnects a dropped connection", func(t *testing.T) {
		h := newHarness(t, validToken)
		require.NoError(t, h.client.Connect(ctx, "wh"))

		h.transport.setConnected(false)
		h.clock.Add(realtime.HealthCheckInterval)

		require.Eventually(t, func() bool {
			st := h.client.State()
			return h.transport.connectCount() == 2 && st.IsConnected && st.ReconnectAttempts == 0
		}, wait, tick)
	})

	t.Run("health probe notices a silent recovery", func(t *testing.T) {
		h := newHarness(t, validToken)
		require.NoError(t, h.client.Connect(ctx, "wh"))

		h.transport.setConnected(false)
		h.transport.setConnectErr(&remote.HTTPError{StatusCode: 401})
		h.clock.Add(realtime.HealthCheckInterval)
		require.Eventually(t, func() bool {
			return h.transport.connectCount() == 2 && h.client.State().AuthorizationLost && h.transport.disconnectCount() == 1
		}, wait, tick)
		assert.False(t, h.client.State().IsConnected)

		h.transport.setConnected(true)
		h.clock.Add(realtime.HealthCheckInterval)
		require.Eventually(t, func() bool {
			st := h.client.State()
			return st.IsConnected && st.ReconnectAttempts == 0
		}, wait, tick)
	})

	t.Run("channel error schedules a reconnect", func(t *testing.T) {
		h := newHarness(t, validToken)
		require.NoError(t, h.client.Connect(ctx, "wh"))

		h.transport.status(realtime.EventsChannel, realtime.StatusChannelError, errors.New("socket closed"))
		assert.Equal(t, realtime.Unsubscribed, h.client.State().Channels[realtime.EventsChannel])

		h.clock.Add(realtime.ReconnectDelay)
		require.Eventually(t, func() bool {
			st := h.client.State()
			return h.transport.connectCount() == 2 && st.Channels[realtime.EventsChannel] == realtime.Subscribed
		}, wait, tick)
	})
}

func TestClient_LogsFailedClose(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	transport := newFakeTransport()
	transport.setConnectErr(errors.New("connection refused"))
	transport.closeErr = errors.New("socket already gone")

	c, err := realtime.New(realtime.Options{
		Transport:   transport,
		Credentials: newFakeCredentials(validToken),
		Clock:       clock.NewMock(),
		Logger:      &logger,
	})
	require.NoError(t, err)
	t.Cleanup(c.Dispose)

	require.Error(t, c.Connect(context.Background(), "wh"))
	assert.Contains(t, logs.String(), "closing failed push connection")
	assert.Contains(t, logs.String(), "socket already gone")
}

func TestClient_Credentials(t *testing.T) {
	ctx := context.Background()

	t.Run("change reconnects with the new token", func(t *testing.T) {
		h := newHarness(t, validToken)
		require.NoError(t, h.client.Connect(ctx, "wh"))

		fresh := validToken + "-rotated"
		h.creds.set(fresh)

		assert.Equal(t, 2, h.transport.connectCount())
		assert.Equal(t, fresh, h.transport.lastToken())
		assert.True(t, h.client.State().IsConnected)
		assert.Equal(t, "wh", h.client.State().SubscriptionKey)
	})

	t.Run("cleared credential disconnects without reconnecting", func(t *testing.T) {
		h := newHarness(t, validToken)
		require.NoError(t, h.client.Connect(ctx, "wh"))

		h.creds.set("")
		assert.Equal(t, 1, h.transport.connectCount())
		assert.False(t, h.client.State().IsConnected)
	})

	t.Run("arriving credential connects to the last requested key", func(t *testing.T) {
		h := newHarness(t, "")
		require.NoError(t, h.client.Connect(ctx, "wh"))
		assert.Equal(t, 0, h.transport.connectCount())

		h.creds.set(validToken)
		assert.Equal(t, 1, h.transport.connectCount())
		assert.Equal(t, "wh", h.client.State().SubscriptionKey)
	})
}

func TestClient_Changes(t *testing.T) {
	h := newHarness(t, validToken)
	require.NoError(t, h.client.Connect(context.Background(), "wh"))

	h.transport.emit(realtime.EventsChannel, `{"table":"events","type":"UPDATE","record":{"id":"e1","webhook_id":"wh","status":"completed","timestamp":"2025-01-01T00:00:00Z"}}`)
	h.transport.emit(realtime.EventsChannel, `{"table":"events","type":"UPDATE","record":{"status":"nope"}}`)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.changes, 1)
	assert.Equal(t, "e1", h.changes[0].Event.ID)
	assert.Equal(t, 1, h.resyncs)
}

func TestClient_DisposeDropsLateCallbacks(t *testing.T) {
	h := newHarness(t, validToken)
	require.NoError(t, h.client.Connect(context.Background(), "wh"))

	h.client.Dispose()
	before := h.stateCount()

	h.transport.emit(realtime.EventsChannel, `{"table":"events","type":"INSERT","record":{"id":"late"}}`)
	h.transport.status(realtime.EventsChannel, realtime.StatusClosed, nil)
	h.clock.Add(time.Hour)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.changes)
	assert.Equal(t, before, len(h.states))
	assert.ErrorIs(t, h.client.Connect(context.Background(), "wh"), realtime.ErrDisposed)
}
