package sandbox

import (
	"encoding/base64"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Scope carries per-execution context into bindings
type Scope struct {
	WidgetID          string
	Logger            *zap.Logger
	MaxConsoleEntries int

	consoleEntries int
}

// Binding injects a host-provided global into a fresh runtime.
// Bindings are registered after the global object has been pruned.
type Binding interface {
	Name() string
	Register(vm *goja.Runtime, scope *Scope) error
}

// DefaultBindings returns the bindings every executor injects unless overridden
func DefaultBindings() []Binding {
	return []Binding{ConsoleBinding{}, EncodingBinding{}}
}

// ConsoleBinding provides console.log, console.info, console.warn, console.error and
// console.debug, forwarded to the scope's logger at debug level.
type ConsoleBinding struct{}

func (ConsoleBinding) Name() string { return "console" }

func (ConsoleBinding) Register(vm *goja.Runtime, scope *Scope) error {
	console := vm.NewObject()

	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		err := console.Set(level, func(call goja.FunctionCall) goja.Value {
			if scope.MaxConsoleEntries > 0 && scope.consoleEntries >= scope.MaxConsoleEntries {
				return goja.Undefined()
			}
			scope.consoleEntries++

			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			scope.Logger.Debug("Widget console output",
				zap.String("widget_id", scope.WidgetID),
				zap.String("level", level),
				zap.String("message", fmt.Sprint(args...)))
			return goja.Undefined()
		})
		if err != nil {
			return err
		}
	}

	return vm.Set("console", console)
}

// EncodingBinding provides btoa and atob for base64 encoding
type EncodingBinding struct{}

func (EncodingBinding) Name() string { return "encoding" }

func (EncodingBinding) Register(vm *goja.Runtime, _ *Scope) error {
	err := vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("btoa requires an argument"))
		}
		str := call.Argument(0).String()
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(str)))
	})
	if err != nil {
		return err
	}

	return vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("atob requires an argument"))
		}
		decoded, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			panic(vm.NewTypeError("atob: invalid base64 input"))
		}
		return vm.ToValue(string(decoded))
	})
}
