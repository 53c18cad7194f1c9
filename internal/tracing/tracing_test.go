package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("aegis")
	assert.Equal(t, "aegis", cfg.ServiceName)
	assert.Equal(t, "127.0.0.1:4318", cfg.OTLPEndpoint)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRatio)
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), DefaultConfig("aegis"), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupRejectsBadSampleRatio(t *testing.T) {
	cfg := DefaultConfig("aegis")
	cfg.Enabled = true
	cfg.SampleRatio = 1.5

	_, err := Setup(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewProviderRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := NewProvider(context.Background(), DefaultConfig("aegis"), sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "loader.import")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "loader.import", spans[0].Name())

	var found bool
	for _, kv := range spans[0].Resource().Attributes() {
		if kv.Key == "service.name" {
			found = true
			assert.Equal(t, "aegis", kv.Value.AsString())
		}
	}
	assert.True(t, found)
}

func TestShutdown(t *testing.T) {
	assert.NoError(t, Shutdown(nil, nil))
	assert.NoError(t, Shutdown(noopShutdown, zaptest.NewLogger(t)))

	boom := errors.New("flush failed")
	err := Shutdown(func(context.Context) error { return boom }, nil)
	assert.ErrorIs(t, err, boom)
}
