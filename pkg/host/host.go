// Package host wires the widget registry, loader, scheduler and sandbox into a single
// entry point. Every transformation passes the same gates in order: rate limit, input size,
// code validation, sandboxed execution, output size.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	aegisnats "github.com/wehubfusion/Aegis/internal/nats"
	"github.com/wehubfusion/Aegis/pkg/bundle"
	"github.com/wehubfusion/Aegis/pkg/config"
	aegiserrors "github.com/wehubfusion/Aegis/pkg/errors"
	"github.com/wehubfusion/Aegis/pkg/events"
	"github.com/wehubfusion/Aegis/pkg/guard"
	"github.com/wehubfusion/Aegis/pkg/loader"
	"github.com/wehubfusion/Aegis/pkg/manifest"
	"github.com/wehubfusion/Aegis/pkg/ratelimit"
	"github.com/wehubfusion/Aegis/pkg/sandbox"
	"github.com/wehubfusion/Aegis/pkg/sanitize"
	"github.com/wehubfusion/Aegis/pkg/scheduler"
)

// ErrNotRenderable is returned by Render when the loaded component is not a script component
var ErrNotRenderable = errors.New("component is not renderable")

// Options configures a Host. Only Config is required; nil collaborators are built from it.
type Options struct {
	Config *config.Config
	Logger *zap.Logger

	// Fetcher overrides the file/http/azblob router built from Config.Bundle
	Fetcher bundle.Fetcher

	// Importer overrides the script importer
	Importer loader.Importer

	// Publisher overrides the NATS publisher built from Config.NATS
	Publisher events.Publisher

	// Reporter overrides the Sentry reporter built from Config.Sentry
	Reporter sanitize.Reporter

	TracerProvider trace.TracerProvider

	// Clock drives the rate limiter and the loader's circuit breakers
	Clock func() time.Time
}

// Host is the widget host core. It is safe for concurrent use.
type Host struct {
	config    *config.Config
	logger    *zap.Logger
	registry  *manifest.Registry
	loader    *loader.Loader
	scheduler *scheduler.Scheduler
	validator *sandbox.Validator
	executor  *sandbox.Executor
	limiter   *ratelimit.Limiter
	sanitizer *sanitize.Sanitizer

	natsConn *nats.Conn
	sentry   *sanitize.SentryReporter
	cancel   context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New builds a host from opts
func New(opts Options) (*Host, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	cfg := opts.Config

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	h := &Host{
		config:    cfg,
		logger:    logger,
		registry:  manifest.NewRegistry(),
		validator: sandbox.NewValidator(),
		limiter:   ratelimit.New(cfg.RateLimit.MaxOps, cfg.RateLimit.Window, ratelimit.WithClock(clock)),
	}

	executor, err := sandbox.NewExecutor(cfg.Sandbox,
		sandbox.WithLogger(logger.Named("sandbox")),
		sandbox.WithTracerProvider(tp))
	if err != nil {
		return nil, err
	}
	h.executor = executor

	reporter := opts.Reporter
	if reporter == nil {
		reporter = sanitize.NopReporter{}
		if cfg.Sentry.DSN != "" {
			if err := sanitize.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment, cfg.Sentry.Release); err != nil {
				return nil, err
			}
			h.sentry = sanitize.NewSentryReporter(nil)
			reporter = h.sentry
		}
	}
	h.sanitizer = sanitize.New(
		sanitize.WithDevelopment(cfg.Development),
		sanitize.WithReporter(reporter))

	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
		if cfg.NATS.URL != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			conn, err := aegisnats.Connect(ctx, aegisnats.DefaultConnectionConfig(cfg.NATS.URL), logger.Named("nats"))
			cancel()
			if err != nil {
				return nil, err
			}
			h.natsConn = conn
			publisher = events.NewNATSPublisher(conn, cfg.NATS.SubjectPrefix, logger.Named("events"))
		}
	}

	importer := opts.Importer
	if importer == nil {
		fetcher := opts.Fetcher
		if fetcher == nil {
			fetcher, err = newFetcher(cfg.Bundle, logger.Named("bundle"))
			if err != nil {
				h.closeNATS()
				return nil, err
			}
		}
		importer = loader.NewScriptImporter(fetcher, executor, loader.WithScriptLogger(logger.Named("importer")))
	}

	h.loader = loader.New(h.registry, importer,
		loader.WithLogger(logger.Named("loader")),
		loader.WithPublisher(publisher),
		loader.WithTracer(tp.Tracer("github.com/wehubfusion/Aegis/pkg/loader")),
		loader.WithCircuitBreaker(cfg.Loader.FailureThreshold, cfg.Loader.ResetTimeout),
		loader.WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.scheduler = scheduler.New(ctx, h.loader, scheduler.WithLogger(logger.Named("scheduler")))

	logger.Info("Widget host initialized",
		zap.Duration("sandbox_timeout", cfg.Sandbox.Timeout),
		zap.Int("sandbox_max_concurrent", cfg.Sandbox.MaxConcurrent),
		zap.Int("rate_limit_max_ops", cfg.RateLimit.MaxOps),
		zap.Bool("nats_enabled", h.natsConn != nil),
		zap.Bool("sentry_enabled", h.sentry != nil))
	return h, nil
}

// newFetcher routes file locations (restricted to roots when set), http(s) and, when a
// connection string is configured, azblob references and blob service URLs.
func newFetcher(cfg *config.Bundle, logger *zap.Logger) (bundle.Fetcher, error) {
	file, err := bundle.NewFileFetcher(cfg.Roots...)
	if err != nil {
		return nil, err
	}
	httpFetcher := bundle.NewHTTPFetcher(
		bundle.WithHTTPMaxBytes(cfg.MaxBytes),
		bundle.WithHTTPLogger(logger))

	router := bundle.NewRouter().
		Handle("file", file.WithMaxBytes(cfg.MaxBytes)).
		Handle("http", httpFetcher).
		Handle("https", httpFetcher)

	if cfg.BlobConnectionString != "" {
		blob, err := bundle.NewBlobFetcher(cfg.BlobConnectionString, cfg.BlobContainer, logger)
		if err != nil {
			return nil, err
		}
		blob.WithMaxBytes(cfg.MaxBytes)
		router.Handle(bundle.BlobScheme, blob).HandlePrefix(blob.ServiceURL(), blob)
	}
	return router, nil
}

// Registry returns the manifest registry
func (h *Host) Registry() *manifest.Registry { return h.registry }

// Loader returns the component loader
func (h *Host) Loader() *loader.Loader { return h.loader }

// Scheduler returns the preload scheduler
func (h *Host) Scheduler() *scheduler.Scheduler { return h.scheduler }

// Executor returns the sandbox executor
func (h *Host) Executor() *sandbox.Executor { return h.executor }

// Register adds manifests to the registry, stopping at the first invalid one
func (h *Host) Register(manifests ...manifest.Manifest) error {
	for _, m := range manifests {
		if err := h.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFile registers every manifest in a JSON manifest file
func (h *Host) RegisterFile(path string) ([]manifest.Manifest, error) {
	manifests, err := manifest.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return manifests, h.Register(manifests...)
}

// Validate scans transformation code for dangerous patterns
func (h *Host) Validate(code string) sandbox.CheckResult {
	return h.validator.Validate(code)
}

// Transform runs code against data for widgetID behind the rate limit, size and validation gates
func (h *Host) Transform(ctx context.Context, widgetID, code string, data any) (any, error) {
	if err := h.admit(widgetID, data); err != nil {
		return nil, err
	}

	if result := h.validator.Validate(code); !result.Valid {
		h.logger.Warn("Rejected transformation code",
			zap.String("widget_id", widgetID),
			zap.Strings("findings", result.Errors))
		err := aegiserrors.ValidationFailed(result.Errors)
		err.WidgetID = widgetID
		return nil, err
	}

	out, err := h.executor.ExecuteTransform(sandbox.WithWidgetID(ctx, widgetID), code, data)
	if err != nil {
		return nil, err
	}
	return out, h.checkOutput(widgetID, out)
}

// Render loads widgetID and calls its component with props behind the rate limit and size gates
func (h *Host) Render(ctx context.Context, widgetID string, props any) (any, error) {
	if err := h.admit(widgetID, props); err != nil {
		return nil, err
	}

	c, err := h.loader.Load(ctx, widgetID)
	if err != nil {
		return nil, err
	}
	script, ok := c.Value.(*loader.ScriptComponent)
	if !ok {
		return nil, fmt.Errorf("widget %s: %w", widgetID, ErrNotRenderable)
	}

	out, err := script.Render(ctx, props)
	if err != nil {
		return nil, err
	}
	return out, h.checkOutput(widgetID, out)
}

// admit applies the rate limit and the input size limit
func (h *Host) admit(widgetID string, data any) error {
	if !h.limiter.Check(widgetID) {
		h.logger.Warn("Widget rate limited", zap.String("widget_id", widgetID))
		return aegiserrors.RateLimited(widgetID)
	}

	check, err := guard.CheckMemoryLimit(data, h.config.Guard.MaxDataBytes)
	if err != nil {
		invalid := aegiserrors.ValidationFailed([]string{"data is not serializable"})
		invalid.WidgetID = widgetID
		invalid.Err = err
		return invalid
	}
	if !check.WithinLimit {
		return aegiserrors.SizeLimitExceeded(widgetID, check.SizeBytes, check.MaxSizeBytes)
	}
	return nil
}

func (h *Host) checkOutput(widgetID string, out any) error {
	check, err := guard.CheckMemoryLimit(out, h.config.Guard.MaxOutputBytes)
	if err != nil {
		return aegiserrors.WidgetTransform(widgetID)
	}
	if !check.WithinLimit {
		return aegiserrors.SizeLimitExceeded(widgetID, check.SizeBytes, check.MaxSizeBytes)
	}
	return nil
}

// SanitizeConfig returns a copy of a widget config that is safe to hand to the UI
func (h *Host) SanitizeConfig(value any) any {
	return h.sanitizer.SanitizeConfig(value)
}

// SafeError reports err and returns the form that may be shown to users
func (h *Host) SafeError(ctx context.Context, widgetID string, err error) sanitize.ErrorInfo {
	return h.sanitizer.Report(ctx, widgetID, err)
}

// ContentSecurityPolicy returns the policy for frames rendering widget content
func (h *Host) ContentSecurityPolicy() string {
	return sanitize.ContentSecurityPolicy()
}

// RemainingOps returns how many operations widgetID may still run in the current window
func (h *Host) RemainingOps(widgetID string) int {
	return h.limiter.Remaining(widgetID)
}

// Close stops background preloading, drains the NATS connection and flushes Sentry
func (h *Host) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.cancel()
		if err := h.scheduler.Wait(ctx); err != nil {
			h.logger.Warn("Preload queue still draining at shutdown", zap.Error(err))
		}
		h.closeErr = h.closeNATS()
		if h.sentry != nil {
			h.sentry.Flush(2 * time.Second)
		}
		h.logger.Info("Widget host closed")
	})
	return h.closeErr
}

func (h *Host) closeNATS() error {
	if h.natsConn == nil {
		return nil
	}
	return aegisnats.Close(h.natsConn)
}
