package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-relay/auth"
	"github.com/marcelsud/webhook-relay/cache/redis"
	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/destinations"
	"github.com/marcelsud/webhook-relay/engine"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/marcelsud/webhook-relay/internal/http/chi"
	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/marcelsud/webhook-relay/realtime/pgnotify"
	"github.com/marcelsud/webhook-relay/realtime/ws"
	"github.com/marcelsud/webhook-relay/remote"
	"github.com/marcelsud/webhook-relay/remote/postgres"
	"github.com/marcelsud/webhook-relay/remote/rest"
	"github.com/marcelsud/webhook-relay/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const TIMEOUT = 30 * time.Second

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the relay and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.GetConfig(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to relay.yaml")
	return cmd
}

/* run is where every package gets wired
 * Imports only go one way: the command imports the engine, which imports the feeds and the remote API
 */
func run(cfg *config.Config) error {
	logger := httplog.NewLogger(cfg.Observability.ServiceName, httplog.Options{
		JSON:     true,
		LogLevel: cfg.LogLevel,
	})

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	if cfg.Observability.TracingURL != "" {
		shutdownTracing, err := telemetry.Init(cfg.Observability, logger)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer shutdownTracing()
	}

	session := auth.NewSession(cfg.Remote.Token)
	if exp, ok := auth.ExpiresAt(session.Token()); ok && exp.Before(time.Now()) {
		logger.Warn().Time("expires_at", exp).Msg("access token already expired")
	}

	api, closeAPI, err := openRemote(ctx, cfg, session)
	if err != nil {
		return err
	}
	defer closeAPI()

	loader := destinations.NewLoader()
	if err := loader.Load(cfg.DestinationsFile); err != nil {
		return err
	}
	if err := loader.Watch(ctx, logger, nil); err != nil {
		logger.Warn().Err(err).Msg("destinations hot reload disabled")
	}

	opts := engine.Options{
		API:              api,
		Destinations:     loader,
		Credentials:      session,
		Logger:           &logger,
		PollInterval:     cfg.PollInterval,
		AutoPauseTimeout: cfg.AutoPauseTimeout,
	}
	switch cfg.Push.Mode {
	case "ws":
		opts.Transport = ws.New(cfg.Push.URL, ws.WithLogger(logger))
	case "pgnotify":
		opts.Transport = pgnotify.New(cfg.Remote.DSN, logger)
		// the listener authenticates with the DSN
		opts.Credentials = auth.NewSession(cfg.Remote.DSN)
	}
	if cfg.Redis.Addr != "" {
		cache, err := redis.NewPayloadCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			return err
		}
		defer cache.Close()
		opts.Payloads = cache
	}

	eng, err := engine.New(opts)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer eng.Dispose()

	eng.OnNewEvents(func(events []event.Event) {
		for _, e := range events {
			logger.Info().
				Str("event_id", e.ID).
				Str("webhook_id", e.WebhookID).
				Str("source", e.Source).
				Str("status", e.Status.String()).
				Msg("event received")
		}
	})

	if cfg.WebhookKey != "" {
		if err := eng.StartPolling(cfg.WebhookKey); err != nil {
			return fmt.Errorf("starting polling: %w", err)
		}
		if opts.Transport != nil {
			if err := eng.Connect(ctx, cfg.WebhookKey); err != nil {
				logger.Warn().Err(err).Str("webhook_id", cfg.WebhookKey).Msg("push connect failed, polling only")
			}
		}
	}

	exporter, err := metrics.NewOTelExporter(metrics.NewEngineCollector(eng, nil))
	if err != nil {
		return err
	}
	defer exporter.Shutdown(context.Background())

	r := chi.Handlers(ctx, eng, loader, exporter.Handler(), logger)
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, logger, errShutdown)
	logger.Info().Str("port", cfg.Port).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-errShutdown
}

func openRemote(ctx context.Context, cfg *config.Config, session *auth.Session) (remote.API, func(), error) {
	switch cfg.Remote.Mode {
	case "postgres":
		client, err := postgres.Open(ctx, cfg.Remote.DSN)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close() }, nil
	default:
		client := rest.NewClient(cfg.Remote.BaseURL, session, &http.Client{Timeout: TIMEOUT})
		return client, func() {}, nil
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, logger zerolog.Logger, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		logger.Info().Msg("shutting down server")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}
