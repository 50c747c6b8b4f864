package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-relay/engine"
	"github.com/rs/zerolog"
)

// Handlers sets up the relay control API. metrics may be nil.
func Handlers(ctx context.Context, relay engine.UseCase, dests DestinationSource, metrics http.Handler, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger, []string{"/health", "/metrics"}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodGet, "/state", getState(relay))
		r.Method(http.MethodGet, "/events", getEvents(relay))

		r.Route("/polling", func(r chi.Router) {
			r.Method(http.MethodPost, "/start", startPolling(relay))
			r.Method(http.MethodPost, "/pause", pausePolling(relay))
			r.Method(http.MethodPost, "/resume", resumePolling(relay))
			r.Method(http.MethodPost, "/stop", stopPolling(relay))
			r.Method(http.MethodPut, "/interval", putInterval(relay))
			r.Method(http.MethodPut, "/auto-pause", putAutoPause(relay))
		})

		r.Route("/realtime", func(r chi.Router) {
			r.Method(http.MethodPost, "/connect", connect(relay))
			r.Method(http.MethodPost, "/disconnect", disconnect(relay))
		})

		if dests != nil {
			r.Method(http.MethodGet, "/destinations", getDestinations(dests))
			r.Method(http.MethodGet, "/destinations/{key}", getDestinationSet(dests))
		}
		r.Method(http.MethodPost, "/destinations/{key}/ping", pingDestinations(relay))
	})

	return r
}
