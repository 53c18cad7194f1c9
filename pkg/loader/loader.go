// Package loader imports widget bundles on demand and caches the resulting components.
//
// Concurrent requests for the same widget share a single import. Failed imports are
// never cached; a per-widget circuit breaker short-circuits widgets that keep failing.
package loader

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wehubfusion/Aegis/pkg/concurrency"
	aegiserrors "github.com/wehubfusion/Aegis/pkg/errors"
	"github.com/wehubfusion/Aegis/pkg/events"
	"github.com/wehubfusion/Aegis/pkg/manifest"
)

// DefaultExport is the export name preferred over the manifest name
const DefaultExport = "default"

// State is the load state of a widget
type State int

const (
	// StateNotLoaded means the widget is neither cached nor being imported
	StateNotLoaded State = iota

	// StateLoading means an import is in flight
	StateLoading

	// StateLoaded means the component is cached
	StateLoaded
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateNotLoaded:
		return "not_loaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Exports maps export names of an imported bundle to their values
type Exports map[string]any

// Importer turns a manifest into the exports of its bundle
type Importer interface {
	Import(ctx context.Context, m manifest.Manifest) (Exports, error)
}

// ImporterFunc adapts a function to Importer
type ImporterFunc func(ctx context.Context, m manifest.Manifest) (Exports, error)

// Import implements Importer
func (f ImporterFunc) Import(ctx context.Context, m manifest.Manifest) (Exports, error) {
	return f(ctx, m)
}

// Component is a cached, loaded widget. The same pointer is handed to every caller.
type Component struct {
	Manifest manifest.Manifest
	Export   string
	Value    any
	LoadedAt time.Time
}

// Stats summarizes loader activity
type Stats struct {
	Imports  int64 `json:"imports"`
	Failures int64 `json:"failures"`
	Cached   int   `json:"cached"`
	Loading  int   `json:"loading"`
}

// Option configures a Loader
type Option func(*Loader)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPublisher sets where lifecycle events are published
func WithPublisher(p events.Publisher) Option {
	return func(l *Loader) {
		if p != nil {
			l.publisher = p
		}
	}
}

// WithTracer sets the tracer import spans are recorded with
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Loader) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// WithCircuitBreaker sets the per-widget failure threshold and open duration
func WithCircuitBreaker(threshold int64, reset time.Duration) Option {
	return func(l *Loader) {
		l.breakerThreshold = threshold
		l.breakerReset = reset
	}
}

// WithClock overrides the clock used for timestamps and breaker timeouts
func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		if now != nil {
			l.now = now
		}
	}
}

// Loader caches widget components and deduplicates concurrent imports.
// It is safe for concurrent use.
type Loader struct {
	registry  *manifest.Registry
	importer  Importer
	logger    *zap.Logger
	publisher events.Publisher
	tracer    trace.Tracer
	now       func() time.Time

	breakerThreshold int64
	breakerReset     time.Duration

	mu       sync.RWMutex
	cache    map[string]*Component
	loading  map[string]struct{}
	breakers map[string]*concurrency.CircuitBreaker
	group    singleflight.Group

	imports  atomic.Int64
	failures atomic.Int64
}

// New creates a loader resolving manifests from registry and importing through importer
func New(registry *manifest.Registry, importer Importer, opts ...Option) *Loader {
	l := &Loader{
		registry:         registry,
		importer:         importer,
		logger:           zap.NewNop(),
		publisher:        events.NopPublisher{},
		tracer:           otel.Tracer("github.com/wehubfusion/Aegis/pkg/loader"),
		now:              time.Now,
		breakerThreshold: 5,
		breakerReset:     30 * time.Second,
		cache:            make(map[string]*Component),
		loading:          make(map[string]struct{}),
		breakers:         make(map[string]*concurrency.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the component for id, importing it on first use.
// Concurrent callers share one import and observe the same outcome. A caller whose ctx
// ends stops waiting with ctx.Err(); the import itself still completes for everyone else.
func (l *Loader) Load(ctx context.Context, id string) (*Component, error) {
	l.mu.RLock()
	c, ok := l.cache[id]
	l.mu.RUnlock()
	if ok {
		return c, nil
	}

	l.mu.Lock()
	if c, ok := l.cache[id]; ok {
		l.mu.Unlock()
		return c, nil
	}
	l.loading[id] = struct{}{}
	detached := context.WithoutCancel(ctx)
	ch := l.group.DoChan(id, func() (any, error) {
		return l.load(detached, id)
	})
	l.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Component), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Preload loads id and discards the handle
func (l *Loader) Preload(ctx context.Context, id string) error {
	_, err := l.Load(ctx, id)
	return err
}

// Unload evicts a loaded component. In-flight and unknown ids are left alone.
func (l *Loader) Unload(id string) bool {
	l.mu.Lock()
	c, ok := l.cache[id]
	if ok {
		delete(l.cache, id)
	}
	l.mu.Unlock()

	if !ok {
		return false
	}

	l.logger.Debug("Widget unloaded", zap.String("widget_id", id))
	event := events.NewEvent(events.TypeUnloaded, id)
	event.Version = c.Manifest.Version
	l.publish(context.Background(), event)
	return true
}

// IsLoaded reports whether id is cached
func (l *Loader) IsLoaded(id string) bool {
	return l.State(id) == StateLoaded
}

// IsLoading reports whether an import of id is in flight
func (l *Loader) IsLoading(id string) bool {
	return l.State(id) == StateLoading
}

// State returns the load state of id
func (l *Loader) State(id string) State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.cache[id]; ok {
		return StateLoaded
	}
	if _, ok := l.loading[id]; ok {
		return StateLoading
	}
	return StateNotLoaded
}

// Loaded returns the ids of cached components, sorted
func (l *Loader) Loaded() []string {
	l.mu.RLock()
	ids := make([]string, 0, len(l.cache))
	for id := range l.cache {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// List returns the registered manifests in registration order
func (l *Loader) List() []manifest.Manifest {
	return l.registry.List()
}

// ResetFailures closes the circuit breaker of id
func (l *Loader) ResetFailures(id string) {
	l.mu.Lock()
	b, ok := l.breakers[id]
	l.mu.Unlock()
	if ok {
		b.Reset()
	}
}

// Stats returns a snapshot of loader activity
func (l *Loader) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Imports:  l.imports.Load(),
		Failures: l.failures.Load(),
		Cached:   len(l.cache),
		Loading:  len(l.loading),
	}
}

// load is the shared in-flight task for id. It always runs to completion.
func (l *Loader) load(ctx context.Context, id string) (comp *Component, err error) {
	defer func() {
		l.mu.Lock()
		l.group.Forget(id)
		delete(l.loading, id)
		if err == nil {
			l.cache[id] = comp
		}
		l.mu.Unlock()

		if err != nil {
			l.failures.Add(1)
			l.logger.Warn("Widget load failed", zap.String("widget_id", id), zap.Error(err))
			event := events.NewEvent(events.TypeFailed, id)
			event.Error = err.Error()
			l.publish(ctx, event)
			return
		}
		l.logger.Info("Widget loaded",
			zap.String("widget_id", id),
			zap.String("version", comp.Manifest.Version),
			zap.String("export", comp.Export))
		event := events.NewEvent(events.TypeLoaded, id)
		event.Version = comp.Manifest.Version
		l.publish(ctx, event)
	}()
	defer func() {
		if r := recover(); r != nil {
			comp = nil
			err = aegiserrors.LoadFailed(id, fmt.Errorf("panic during import: %v", r))
		}
	}()

	m, ok := l.registry.Get(id)
	if !ok {
		return nil, aegiserrors.ManifestNotFound(id)
	}

	breaker := l.breaker(id)
	if breaker.IsOpen() {
		return nil, aegiserrors.CircuitOpen(id)
	}

	order, err := l.registry.Resolve(id)
	if err != nil {
		return nil, err
	}
	for _, dep := range order[:len(order)-1] {
		if _, err := l.Load(ctx, dep); err != nil {
			return nil, aegiserrors.LoadFailed(id, fmt.Errorf("dependency %s: %w", dep, err))
		}
	}

	comp, err = l.importComponent(ctx, m)
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}
	breaker.RecordSuccess()
	return comp, nil
}

func (l *Loader) importComponent(ctx context.Context, m manifest.Manifest) (*Component, error) {
	ctx, span := l.tracer.Start(ctx, "loader.import", trace.WithAttributes(
		attribute.String("widget.id", m.ID),
		attribute.String("widget.version", m.Version),
		attribute.String("widget.location", m.Location),
	))
	defer span.End()

	l.imports.Add(1)
	startTime := time.Now()
	exports, err := l.importer.Import(ctx, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "import failed")
		return nil, aegiserrors.LoadFailed(m.ID, err)
	}

	name := DefaultExport
	value, ok := exports[DefaultExport]
	if !ok {
		name = m.Name
		value, ok = exports[m.Name]
	}
	if !ok {
		err := aegiserrors.ComponentNotFound(m.ID, m.Name)
		span.SetStatus(codes.Error, err.Message)
		return nil, aegiserrors.LoadFailed(m.ID, err)
	}

	l.logger.Debug("Widget imported",
		zap.String("widget_id", m.ID),
		zap.Duration("duration", time.Since(startTime)))
	return &Component{
		Manifest: m,
		Export:   name,
		Value:    value,
		LoadedAt: l.now(),
	}, nil
}

func (l *Loader) breaker(id string) *concurrency.CircuitBreaker {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.breakers[id]
	if !ok {
		b = concurrency.NewCircuitBreaker(l.breakerThreshold, l.breakerReset).WithClock(l.now)
		l.breakers[id] = b
	}
	return b
}

func (l *Loader) publish(ctx context.Context, event events.Event) {
	if err := l.publisher.Publish(ctx, event); err != nil {
		l.logger.Warn("Failed to publish widget event",
			zap.String("widget_id", event.WidgetID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}
