package chi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marcelsud/webhook-relay/destinations"
	"github.com/marcelsud/webhook-relay/engine"
	"github.com/marcelsud/webhook-relay/engine/mocks"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/marcelsud/webhook-relay/poller"
	"github.com/marcelsud/webhook-relay/reconciler"
	"github.com/marcelsud/webhook-relay/remote"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubDestinations struct {
	sets     map[string]destinations.Set
	fallback *destinations.Set
}

func (s stubDestinations) List() []string {
	keys := make([]string, 0, len(s.sets))
	for k := range s.sets {
		keys = append(keys, k)
	}
	return keys
}

func (s stubDestinations) Resolve(key string) (destinations.Set, error) {
	if set, ok := s.sets[key]; ok {
		return set, nil
	}
	if s.fallback != nil {
		return *s.fallback, nil
	}
	return destinations.Set{}, fmt.Errorf("%w: %s", destinations.ErrNotFound, key)
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, path, strings.NewReader(body))
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func newHandlers(t *testing.T, relay engine.UseCase, dests DestinationSource, metrics http.Handler) http.Handler {
	t.Helper()
	return Handlers(context.Background(), relay, dests, metrics, zerolog.Nop())
}

func TestHealth(t *testing.T) {
	h := newHandlers(t, mocks.NewUseCase(t), nil, nil)
	w := serve(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestGetState(t *testing.T) {
	s := mocks.NewUseCase(t)
	s.On("GetState").Return(engine.State{SubscriptionKey: "wh_1", Events: 3, Version: 7})
	h := newHandlers(t, s, nil, nil)

	w := serve(t, h, http.MethodGet, "/v1/state", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var st map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "wh_1", st["subscription_key"])
	assert.Equal(t, float64(3), st["events"])
	assert.Equal(t, float64(7), st["version"])
}

func TestGetEvents(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := mocks.NewUseCase(t)
	s.On("Events").Return(reconciler.Snapshot{
		Version: 4,
		Events: []event.Event{
			{ID: "e2", WebhookID: "wh_1", Status: event.Pending, Timestamp: at.Add(time.Minute)},
			{ID: "e1", WebhookID: "wh_1", Status: event.Completed, Timestamp: at},
		},
	})
	h := newHandlers(t, s, nil, nil)

	t.Run("all", func(t *testing.T) {
		w := serve(t, h, http.MethodGet, "/v1/events", "")
		assert.Equal(t, http.StatusOK, w.Code)
		var resp eventsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, uint64(4), resp.Version)
		require.Len(t, resp.Events, 2)
		assert.Equal(t, "e2", resp.Events[0].ID)
	})

	t.Run("filtered by status", func(t *testing.T) {
		w := serve(t, h, http.MethodGet, "/v1/events?status=completed", "")
		assert.Equal(t, http.StatusOK, w.Code)
		var resp eventsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Events, 1)
		assert.Equal(t, "e1", resp.Events[0].ID)
	})

	t.Run("unknown status", func(t *testing.T) {
		w := serve(t, h, http.MethodGet, "/v1/events?status=lost", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStartPolling(t *testing.T) {
	s := mocks.NewUseCase(t)
	s.On("StartPolling", "wh_1").Return(nil)
	s.On("GetState").Return(engine.State{SubscriptionKey: "wh_1"})
	h := newHandlers(t, s, nil, nil)

	w := serve(t, h, http.MethodPost, "/v1/polling/start", `{"key":"wh_1"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subscription_key":"wh_1"`)
}

func TestStartPolling_BadRequests(t *testing.T) {
	h := newHandlers(t, mocks.NewUseCase(t), nil, nil)

	w := serve(t, h, http.MethodPost, "/v1/polling/start", `{"key":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, h, http.MethodPost, "/v1/polling/start", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPollingCommands(t *testing.T) {
	for _, tt := range []struct {
		path   string
		method string
	}{
		{"/v1/polling/pause", "PausePolling"},
		{"/v1/polling/resume", "ResumePolling"},
		{"/v1/polling/stop", "StopPolling"},
		{"/v1/realtime/disconnect", "Disconnect"},
	} {
		t.Run(tt.method, func(t *testing.T) {
			s := mocks.NewUseCase(t)
			s.On(tt.method).Return(nil)
			s.On("GetState").Return(engine.State{})
			h := newHandlers(t, s, nil, nil)

			w := serve(t, h, http.MethodPost, tt.path, "")
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestPutInterval(t *testing.T) {
	s := mocks.NewUseCase(t)
	s.On("SetPollingInterval", 10*time.Second).Return(nil)
	s.On("SetPollingInterval", time.Second).
		Return(fmt.Errorf("%w: interval must be between 2s and 30s", poller.ErrInvalidConfiguration))
	s.On("GetState").Return(engine.State{})
	h := newHandlers(t, s, nil, nil)

	w := serve(t, h, http.MethodPut, "/v1/polling/interval", `{"value":"10s"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, h, http.MethodPut, "/v1/polling/interval", `{"value":"1s"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid configuration")

	w = serve(t, h, http.MethodPut, "/v1/polling/interval", `{"value":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutAutoPause(t *testing.T) {
	s := mocks.NewUseCase(t)
	s.On("SetAutoPauseTimeout", 15*time.Minute).Return(nil)
	s.On("GetState").Return(engine.State{})
	h := newHandlers(t, s, nil, nil)

	w := serve(t, h, http.MethodPut, "/v1/polling/auto-pause", `{"value":"15m"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConnect(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Connect", mock.Anything, "wh_1").Return(nil)
		s.On("GetState").Return(engine.State{SubscriptionKey: "wh_1"})
		h := newHandlers(t, s, nil, nil)

		w := serve(t, h, http.MethodPost, "/v1/realtime/connect", `{"key":"wh_1"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("no transport", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Connect", mock.Anything, "wh_1").Return(engine.ErrPushUnavailable)
		h := newHandlers(t, s, nil, nil)

		w := serve(t, h, http.MethodPost, "/v1/realtime/connect", `{"key":"wh_1"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("rejected upstream", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Connect", mock.Anything, "wh_1").
			Return(fmt.Errorf("connecting: %w", &remote.HTTPError{StatusCode: http.StatusUnauthorized, Message: "invalid token"}))
		h := newHandlers(t, s, nil, nil)

		w := serve(t, h, http.MethodPost, "/v1/realtime/connect", `{"key":"wh_1"}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("disposed", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Connect", mock.Anything, "wh_1").Return(engine.ErrDisposed)
		h := newHandlers(t, s, nil, nil)

		w := serve(t, h, http.MethodPost, "/v1/realtime/connect", `{"key":"wh_1"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestDestinations(t *testing.T) {
	dests := stubDestinations{
		sets: map[string]destinations.Set{
			"wh_1": {
				Destinations: []destinations.Destination{
					{Name: "local", URL: "http://localhost:3000/hook", SigningSecret: "whsec_x"},
				},
				Rules: []destinations.Rule{{Source: destinations.Wildcard, Destination: "local"}},
			},
		},
	}
	h := newHandlers(t, mocks.NewUseCase(t), dests, nil)

	w := serve(t, h, http.MethodGet, "/v1/destinations", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var list []destinationSetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "wh_1", list[0].Key)
	require.Len(t, list[0].Destinations, 1)
	assert.True(t, list[0].Destinations[0].Signed)
	assert.Equal(t, "30s", list[0].Destinations[0].Timeout)
	assert.NotContains(t, w.Body.String(), "whsec_x")

	w = serve(t, h, http.MethodGet, "/v1/destinations/wh_1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, h, http.MethodGet, "/v1/destinations/wh_9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("relay_events_count 1\n"))
	})
	h := newHandlers(t, mocks.NewUseCase(t), nil, metrics)

	w := serve(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "relay_events_count")
}

func TestPingDestinations(t *testing.T) {
	s := mocks.NewUseCase(t)
	s.On("PingDestinations", mock.Anything, "wh_1").Return([]engine.PingResult{
		{Destination: "local", URL: "http://localhost:3000/health", Alive: true, StatusCode: http.StatusOK, ElapsedMs: 4},
	}, nil)
	s.On("PingDestinations", mock.Anything, "wh_9").
		Return(nil, fmt.Errorf("%w: wh_9", destinations.ErrNotFound))
	h := newHandlers(t, s, nil, nil)

	w := serve(t, h, http.MethodPost, "/v1/destinations/wh_1/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var resp pingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "wh_1", resp.Key)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Alive)
	assert.Equal(t, "http://localhost:3000/health", resp.Results[0].URL)

	w = serve(t, h, http.MethodPost, "/v1/destinations/wh_9/ping", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
