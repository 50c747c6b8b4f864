package dispatcher_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/marcelsud/webhook-relay/destinations"
	"github.com/marcelsud/webhook-relay/dispatcher"
	"github.com/marcelsud/webhook-relay/dispatcher/signature"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("success - replays method headers and decoded body", func(t *testing.T) {
		var gotMethod, gotBody, gotHost, gotCustom string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotHost = r.Host
			gotCustom = r.Header.Get("X-Custom")
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			w.Header().Set("X-Reply", "yes")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("created"))
		}))
		defer srv.Close()

		d := dispatcher.New(dispatcher.Options{})
		res := d.Send(ctx, destinations.Destination{Name: "local", URL: srv.URL}, event.OriginPayload{
			Method:  "put",
			Headers: map[string]string{"Host": "collector.example.com", "X-Custom": "1", "Content-Length": "999"},
			Body:    event.EncodeBody([]byte(`{"hello":"world"}`)),
		})

		assert.Equal(t, http.StatusCreated, res.StatusCode)
		assert.True(t, res.Succeeded())
		assert.Equal(t, "created", res.Body)
		assert.Equal(t, "yes", res.Headers["X-Reply"])
		assert.Equal(t, http.MethodPut, gotMethod)
		assert.Equal(t, `{"hello":"world"}`, gotBody)
		assert.Equal(t, "1", gotCustom)
		assert.NotEqual(t, "collector.example.com", gotHost)
		assert.Empty(t, res.Error)
	})

	t.Run("success - bytea body and default method", func(t *testing.T) {
		var gotMethod, gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
		}))
		defer srv.Close()

		res := dispatcher.New(dispatcher.Options{}).Send(ctx,
			destinations.Destination{Name: "local", URL: srv.URL},
			event.OriginPayload{Body: `\x68656c6c6f`})

		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "hello", gotBody)
	})

	t.Run("undecodable body is sent raw", func(t *testing.T) {
		var gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
		}))
		defer srv.Close()

		dispatcher.New(dispatcher.Options{}).Send(ctx,
			destinations.Destination{Name: "local", URL: srv.URL},
			event.OriginPayload{Method: "POST", Body: "plain text!"})
		assert.Equal(t, "plain text!", gotBody)
	})

	t.Run("non-2xx keeps status and body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		res := dispatcher.New(dispatcher.Options{}).Send(ctx,
			destinations.Destination{Name: "local", URL: srv.URL}, event.OriginPayload{Method: "POST"})
		assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
		assert.False(t, res.Succeeded())
		assert.Equal(t, "boom\n", res.FailureReason())
		require.NotNil(t, res.Response())
	})

	t.Run("transport failure is status zero with the error text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		res := dispatcher.New(dispatcher.Options{}).Send(ctx,
			destinations.Destination{Name: "local", URL: url}, event.OriginPayload{Method: "POST"})
		assert.Equal(t, 0, res.StatusCode)
		assert.NotEmpty(t, res.Error)
		assert.Equal(t, res.Error, res.FailureReason())
		assert.Nil(t, res.Response())
	})

	t.Run("timeout is a transport failure", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		res := dispatcher.New(dispatcher.Options{}).Send(ctx,
			destinations.Destination{Name: "slow", URL: srv.URL, Timeout: 50 * time.Millisecond},
			event.OriginPayload{Method: "POST"})
		assert.Equal(t, 0, res.StatusCode)
		assert.Contains(t, res.Error, "deadline exceeded")
	})

	t.Run("body is capped", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("a", dispatcher.MaxBodyBytes+100)))
		}))
		defer srv.Close()

		res := dispatcher.New(dispatcher.Options{}).Send(ctx,
			destinations.Destination{Name: "local", URL: srv.URL}, event.OriginPayload{Method: "POST"})
		assert.Len(t, res.Body, dispatcher.MaxBodyBytes)
	})

	t.Run("success - signs when the destination has a secret", func(t *testing.T) {
		secret, err := signature.GenerateSecret(32)
		require.NoError(t, err)

		var headers http.Header
		var body []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers = r.Header.Clone()
			body, _ = io.ReadAll(r.Body)
		}))
		defer srv.Close()

		dispatcher.New(dispatcher.Options{}).Send(ctx,
			destinations.Destination{Name: "signed", URL: srv.URL, SigningSecret: secret.String()},
			event.OriginPayload{Method: "POST", Body: event.EncodeBody([]byte(`{"a":1}`))})

		id := headers.Get(signature.HeaderID)
		require.True(t, strings.HasPrefix(id, "msg_"))
		ts := headers.Get(signature.HeaderTimestamp)
		require.NotEmpty(t, ts)

		unix, err := strconv.ParseInt(ts, 10, 64)
		require.NoError(t, err)
		ok, err := signature.Verify(secret, id, time.Unix(unix, 0), body, headers.Get(signature.HeaderSignature))
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestDispatcher_Ping(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res := dispatcher.New(dispatcher.Options{}).Ping(context.Background(),
		destinations.Destination{Name: "local", URL: srv.URL + "/hooks", PingURL: srv.URL + "/health"})
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "/health", path)
}
