// Package sandbox vets and executes untrusted widget code.
//
// Every execution gets a fresh goja runtime whose global object is pruned to an
// allow-list of pure built-ins, with a small set of host bindings injected. Data
// crosses the boundary only as JSON copies. Failures of any kind surface as the
// generic widget transformation error; details are logged at debug level.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Aegis/pkg/concurrency"
	aegiserrors "github.com/wehubfusion/Aegis/pkg/errors"
)

// DefaultExport names the export used when a bundle's module.exports is itself a function
const DefaultExport = "default"

const tracerName = "github.com/wehubfusion/Aegis/pkg/sandbox"

type widgetIDKey struct{}

// WithWidgetID tags ctx with the widget an execution belongs to
func WithWidgetID(ctx context.Context, widgetID string) context.Context {
	return context.WithValue(ctx, widgetIDKey{}, widgetID)
}

// WidgetIDFromContext returns the widget id set by WithWidgetID, or ""
func WidgetIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(widgetIDKey{}).(string)
	return id
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLimiter shares a concurrency limiter with other components
func WithLimiter(limiter *concurrency.Limiter) Option {
	return func(e *Executor) {
		e.limiter = limiter
	}
}

// WithBindings replaces the injected bindings
func WithBindings(bindings ...Binding) Option {
	return func(e *Executor) {
		e.bindings = bindings
	}
}

// WithTracerProvider sets the provider spans are created from
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// Executor runs transformation code and bundle exports in restricted runtimes.
// It is safe for concurrent use.
type Executor struct {
	config   Config
	limiter  *concurrency.Limiter
	bindings []Binding
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewExecutor creates an executor. Zero config fields take defaults.
func NewExecutor(config Config, opts ...Option) (*Executor, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox config: %w", err)
	}

	e := &Executor{
		config:   config,
		bindings: DefaultBindings(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.limiter == nil {
		e.limiter = concurrency.NewLimiter(config.MaxConcurrent)
	}
	return e, nil
}

// Config returns the effective configuration
func (e *Executor) Config() Config {
	return e.config
}

// Metrics returns the executor's concurrency metrics
func (e *Executor) Metrics() concurrency.Metrics {
	return e.limiter.GetMetrics()
}

// ExecuteTransform evaluates code as a one-argument function and applies it to a copy of data.
// The code is not validated here; callers run Validate first.
func (e *Executor) ExecuteTransform(ctx context.Context, code string, data any) (any, error) {
	source := "(" + strings.TrimRight(strings.TrimSpace(code), "; \t\r\n") + "\n)"

	return e.run(ctx, "transform", func(rt *runtime) (any, error) {
		fnVal, err := rt.vm.RunScript("transform", source)
		if err != nil {
			return nil, err
		}
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			return nil, errors.New("transform is not a function")
		}
		arg, err := rt.importValue(data)
		if err != nil {
			return nil, err
		}
		result, err := fn(goja.Undefined(), arg)
		if err != nil {
			return nil, err
		}
		return rt.exportValue(result)
	})
}

// CompileModule compiles a CommonJS-style bundle. The bundle assigns module.exports
// (or properties of exports); the compiled program is shared between executions.
func CompileModule(name, source string) (*goja.Program, error) {
	wrapped := "(function (module, exports) {\n" + source + "\n;return module.exports;\n})"
	program, err := goja.Compile(name, wrapped, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module %s: %w", name, err)
	}
	return program, nil
}

// ModuleExports evaluates program and lists its callable exports, sorted.
// A module whose exports value is itself a function has the single export DefaultExport.
func (e *Executor) ModuleExports(ctx context.Context, program *goja.Program) ([]string, error) {
	result, err := e.run(ctx, "module_exports", func(rt *runtime) (any, error) {
		exports, err := rt.evaluateModule(program)
		if err != nil {
			return nil, err
		}
		return exportNames(exports), nil
	})
	if err != nil {
		return nil, err
	}
	names, _ := result.([]string)
	return names, nil
}

// ExecuteModule evaluates program and calls the named export with a copy of arg
func (e *Executor) ExecuteModule(ctx context.Context, program *goja.Program, export string, arg any) (any, error) {
	return e.run(ctx, "module_call", func(rt *runtime) (any, error) {
		exports, err := rt.evaluateModule(program)
		if err != nil {
			return nil, err
		}
		fn, ok := lookupExport(exports, export)
		if !ok {
			return nil, fmt.Errorf("export %q is not a function", export)
		}
		in, err := rt.importValue(arg)
		if err != nil {
			return nil, err
		}
		result, err := fn(goja.Undefined(), in)
		if err != nil {
			return nil, err
		}
		return rt.exportValue(result)
	})
}

// run executes body in a fresh runtime under the limiter and the timeout.
// Any failure is logged and replaced by the generic transformation error.
func (e *Executor) run(ctx context.Context, op string, body func(rt *runtime) (any, error)) (any, error) {
	widgetID := WidgetIDFromContext(ctx)
	ctx, span := e.tracer.Start(ctx, "sandbox."+op,
		trace.WithAttributes(attribute.String("widget.id", widgetID)))
	defer span.End()

	startTime := time.Now()
	result, err := e.execute(ctx, widgetID, body)
	if err != nil {
		kind := classifyFailure(err)
		span.SetStatus(codes.Error, kind)
		span.SetAttributes(attribute.String("sandbox.failure", kind))
		e.logger.Debug("Sandbox execution failed",
			zap.String("widget_id", widgetID),
			zap.String("operation", op),
			zap.String("kind", kind),
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(err))
		return nil, aegiserrors.WidgetTransform(widgetID)
	}

	e.logger.Debug("Sandbox execution completed",
		zap.String("widget_id", widgetID),
		zap.String("operation", op),
		zap.Duration("duration", time.Since(startTime)))
	return result, nil
}

func (e *Executor) execute(ctx context.Context, widgetID string, body func(rt *runtime) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during execution: %v", r)
		}
	}()

	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire execution slot: %w", err)
	}
	defer e.limiter.Release()

	timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	scope := &Scope{
		WidgetID:          widgetID,
		Logger:            e.logger,
		MaxConsoleEntries: e.config.MaxConsoleEntries,
	}
	rt, err := newRuntime(e.config, scope, e.bindings)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-timeoutCtx.Done():
			rt.vm.Interrupt("execution timeout")
		case <-done:
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	return body(rt)
}

// evaluateModule runs the module wrapper and returns its module.exports value
func (rt *runtime) evaluateModule(program *goja.Program) (goja.Value, error) {
	factoryVal, err := rt.vm.RunProgram(program)
	if err != nil {
		return nil, err
	}
	factory, ok := goja.AssertFunction(factoryVal)
	if !ok {
		return nil, errors.New("module wrapper is not a function")
	}

	module := rt.vm.NewObject()
	exports := rt.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	return factory(goja.Undefined(), module, exports)
}

func exportNames(exports goja.Value) []string {
	if _, ok := goja.AssertFunction(exports); ok {
		return []string{DefaultExport}
	}
	obj, ok := exports.(*goja.Object)
	if !ok {
		return []string{}
	}

	names := []string{}
	for _, key := range obj.Keys() {
		if _, ok := goja.AssertFunction(obj.Get(key)); ok {
			names = append(names, key)
		}
	}
	sort.Strings(names)
	return names
}

func lookupExport(exports goja.Value, name string) (goja.Callable, bool) {
	if fn, ok := goja.AssertFunction(exports); ok {
		return fn, name == DefaultExport
	}
	obj, ok := exports.(*goja.Object)
	if !ok {
		return nil, false
	}
	return goja.AssertFunction(obj.Get(name))
}

// classifyFailure names the failure kind for logs and spans
func classifyFailure(err error) string {
	var interrupted *goja.InterruptedError
	var syntaxErr *goja.CompilerSyntaxError
	var exception *goja.Exception

	switch {
	case errors.As(err, &interrupted), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &syntaxErr):
		return "syntax"
	case errors.As(err, &exception):
		if strings.Contains(exception.Error(), "SyntaxError") {
			return "syntax"
		}
		return "runtime"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
