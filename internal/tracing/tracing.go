// Package tracing sets up OpenTelemetry tracing for the Aegis host
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// Config holds configuration for tracing setup
type Config struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	Environment    string  `mapstructure:"environment"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"` // host:port, the exporter adds the path
	Insecure       bool    `mapstructure:"insecure"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// DefaultConfig returns a configuration for a local OTLP collector
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "127.0.0.1:4318",
		Insecure:       true,
		SampleRatio:    1.0,
	}
}

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs a global tracer provider exporting over OTLP HTTP.
// With tracing disabled it returns a no-op shutdown and leaves the global provider alone.
func Setup(ctx context.Context, config Config, logger *zap.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.Enabled {
		logger.Debug("Tracing disabled")
		return noopShutdown, nil
	}
	if config.SampleRatio < 0 || config.SampleRatio > 1 {
		return nil, fmt.Errorf("sample ratio must be between 0 and 1, got %v", config.SampleRatio)
	}

	logger.Info("Setting up tracing",
		zap.String("service_name", config.ServiceName),
		zap.String("otlp_endpoint", config.OTLPEndpoint),
		zap.String("environment", config.Environment))

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		logger.Error("Failed to create OTLP exporter", zap.Error(err))
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp, err := NewProvider(ctx, config, sdktrace.WithBatcher(exporter))
	if err != nil {
		logger.Error("Failed to create tracer provider", zap.Error(err))
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("Tracing setup completed successfully")
	return tp.Shutdown, nil
}

// NewProvider builds a tracer provider carrying the service resource.
// Extra options (exporters, span processors) are applied after the defaults.
func NewProvider(ctx context.Context, config Config, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	base := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRatio))),
	}
	return sdktrace.NewTracerProvider(append(base, opts...)...), nil
}

// Shutdown gracefully shuts down the tracing provider
func Shutdown(shutdown ShutdownFunc, logger *zap.Logger) error {
	if shutdown == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown tracing", zap.Error(err))
		return err
	}
	logger.Info("Tracing shutdown completed successfully")
	return nil
}
