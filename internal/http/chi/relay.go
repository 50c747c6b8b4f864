package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/marcelsud/webhook-relay/destinations"
	"github.com/marcelsud/webhook-relay/engine"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/marcelsud/webhook-relay/poller"
	"github.com/marcelsud/webhook-relay/realtime"
	"github.com/marcelsud/webhook-relay/remote"
)

/* HTTP layer DTOs for the control API
 * Separate from domain entities to avoid leaking internal structure
 */

// DestinationSource is what the API needs from the destinations loader
type DestinationSource interface {
	List() []string
	Resolve(key string) (destinations.Set, error)
}

var validate = validator.New()

// keyRequest selects the subscription key for polling or realtime
type keyRequest struct {
	Key string `json:"key" validate:"required"`
}

// durationRequest carries a Go duration string such as "10s"
type durationRequest struct {
	Value string `json:"value" validate:"required"`
}

// eventsResponse is the event list at one version
type eventsResponse struct {
	Version uint64        `json:"version"`
	Events  []event.Event `json:"events"`
}

// destinationResponse represents a destination without its secret
type destinationResponse struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Ping    bool   `json:"ping"`
	PingURL string `json:"ping_url,omitempty"`
	Signed  bool   `json:"signed"`
	Timeout string `json:"timeout"`
}

// ruleResponse represents a routing rule
type ruleResponse struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// pingResponse lists the liveness probes run for one key
type pingResponse struct {
	Key     string              `json:"key"`
	Results []engine.PingResult `json:"results"`
}

// destinationSetResponse represents the configuration of one key
type destinationSetResponse struct {
	Key          string                `json:"key"`
	Destinations []destinationResponse `json:"destinations"`
	Rules        []ruleResponse        `json:"rules"`
}

// getState handles GET /v1/state
func getState(relay engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, relay.GetState())
	})
}

// getEvents handles GET /v1/events, optionally filtered with ?status=
func getEvents(relay engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var filter *event.Status
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := event.ParseStatus(raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			filter = &status
		}

		snap := relay.Events()
		events := make([]event.Event, 0, len(snap.Events))
		for _, e := range snap.Events {
			if filter != nil && e.Status != *filter {
				continue
			}
			events = append(events, e)
		}
		writeJSON(w, http.StatusOK, eventsResponse{Version: snap.Version, Events: events})
	})
}

// startPolling handles POST /v1/polling/start
func startPolling(relay engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req keyRequest
		if !decode(w, r, &req) {
			return
		}
		if err := relay.StartPolling(req.Key); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, relay.GetState())
	})
}

// pausePolling handles POST /v1/polling/pause
func pausePolling(relay engine.UseCase) http.Handler {
	return command(relay, relay.PausePolling)
}

// resumePolling handles POST /v1/polling/resume
func resumePolling(relay engine.UseCase) http.Handler {
	return command(relay, relay.ResumePolling)
}

// stopPolling handles POST /v1/polling/stop
func stopPolling(relay engine.UseCase) http.Handler {
	return command(relay, relay.StopPolling)
}

// disconnect handles POST /v1/realtime/disconnect
func disconnect(relay engine.UseCase) http.Handler {
	return command(relay, relay.Disconnect)
}

// putInterval handles PUT /v1/polling/interval
func putInterval(relay engine.UseCase) http.Handler {
	return setDuration(relay, relay.SetPollingInterval)
}

// putAutoPause handles PUT /v1/polling/auto-pause
func putAutoPause(relay engine.UseCase) http.Handler {
	return setDuration(relay, relay.SetAutoPauseTimeout)
}

// connect handles POST /v1/realtime/connect
func connect(relay engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req keyRequest
		if !decode(w, r, &req) {
			return
		}
		if err := relay.Connect(r.Context(), req.Key); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, relay.GetState())
	})
}

// getDestinations handles GET /v1/destinations
func getDestinations(dests DestinationSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys := dests.List()
		responses := make([]destinationSetResponse, 0, len(keys))
		for _, key := range keys {
			set, err := dests.Resolve(key)
			if err != nil {
				continue
			}
			responses = append(responses, toSetResponse(key, set))
		}
		writeJSON(w, http.StatusOK, responses)
	})
}

// getDestinationSet handles GET /v1/destinations/{key}, falling back to the default set
func getDestinationSet(dests DestinationSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		set, err := dests.Resolve(key)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSetResponse(key, set))
	})
}

// pingDestinations handles POST /v1/destinations/{key}/ping
func pingDestinations(relay engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		results, err := relay.PingDestinations(r.Context(), key)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pingResponse{Key: key, Results: results})
	})
}

func command(relay engine.UseCase, fn func() error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, relay.GetState())
	})
}

func setDuration(relay engine.UseCase, fn func(time.Duration) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req durationRequest
		if !decode(w, r, &req) {
			return
		}
		d, err := time.ParseDuration(req.Value)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid duration: %v", err), http.StatusBadRequest)
			return
		}
		if err := fn(d); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, relay.GetState())
	})
}

func toSetResponse(key string, set destinations.Set) destinationSetResponse {
	resp := destinationSetResponse{
		Key:          key,
		Destinations: make([]destinationResponse, 0, len(set.Destinations)),
		Rules:        make([]ruleResponse, 0, len(set.Rules)),
	}
	for _, d := range set.Destinations {
		resp.Destinations = append(resp.Destinations, destinationResponse{
			Name:    d.Name,
			URL:     d.URL,
			Ping:    d.Ping,
			PingURL: d.PingURL,
			Signed:  d.SigningSecret != "",
			Timeout: d.EffectiveTimeout().String(),
		})
	}
	for _, rule := range set.Rules {
		resp.Rules = append(resp.Rules, ruleResponse{Source: rule.Source, Destination: rule.Destination})
	}
	return resp
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps domain errors onto status codes
func writeError(w http.ResponseWriter, err error) {
	var httpErr *remote.HTTPError
	switch {
	case errors.Is(err, poller.ErrInvalidConfiguration),
		errors.Is(err, poller.ErrEmptyKey),
		errors.Is(err, realtime.ErrEmptyKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, destinations.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrPushUnavailable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrDisposed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &httpErr):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
