package telemetry

import (
	"testing"

	"github.com/marcelsud/webhook-relay/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit_Validation(t *testing.T) {
	_, err := Init(config.Observability{TracingURL: "localhost:4318"}, zerolog.Nop())
	assert.EqualError(t, err, "service name cannot be empty")

	_, err = Init(config.Observability{ServiceName: "relay"}, zerolog.Nop())
	assert.EqualError(t, err, "tracing URL cannot be empty")
}

func TestInit_InstallsProvider(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	shutdown, err := Init(config.Observability{
		ServiceName: "relay-test",
		TracingURL:  "127.0.0.1:1",
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)

	shutdown()
}
