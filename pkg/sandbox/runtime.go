package sandbox

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

// allowedGlobals survive pruning of a fresh runtime's global object
var allowedGlobals = map[string]struct{}{
	"Object": {}, "Array": {}, "String": {}, "Number": {}, "Boolean": {},
	"Math": {}, "JSON": {}, "Date": {}, "Map": {}, "Set": {}, "RegExp": {},
	"Error": {}, "TypeError": {}, "RangeError": {},
	"parseInt": {}, "parseFloat": {}, "isNaN": {}, "isFinite": {},
	"NaN": {}, "Infinity": {}, "undefined": {},
	"encodeURIComponent": {}, "decodeURIComponent": {},
}

// blockedGlobals are bound to undefined after pruning
var blockedGlobals = []string{
	"eval",
	"Function",
	"globalThis",
	"window",
	"document",
	"fetch",
	"XMLHttpRequest",
	"WebSocket",
	"Reflect",
	"Proxy",
	"require",
	"process",
	"importScripts",
}

// frozenBuiltins are frozen together with their prototypes
var frozenBuiltins = []string{
	"Object", "Array", "String", "Number", "Boolean", "Date", "RegExp",
	"Map", "Set", "Error", "TypeError", "RangeError", "Math", "JSON",
}

// hardenProgram strips the constructor back-reference from every function
// prototype, freezes the named built-ins and reports the global's own names.
var hardenProgram = goja.MustCompile("harden", `(function (global, names) {
	var fnProtos = [
		Function.prototype,
		Object.getPrototypeOf(function* () {}),
		Object.getPrototypeOf(async function () {})
	];
	for (var i = 0; i < fnProtos.length; i++) {
		delete fnProtos[i].constructor;
		Object.freeze(fnProtos[i]);
	}
	for (var j = 0; j < names.length; j++) {
		var obj = global[names[j]];
		if (obj) {
			Object.freeze(obj);
			if (obj.prototype) {
				Object.freeze(obj.prototype);
			}
		}
	}
	return Object.getOwnPropertyNames(global);
})`, false)

// runtime is a single-use restricted JavaScript context
type runtime struct {
	vm        *goja.Runtime
	parse     goja.Callable
	stringify goja.Callable
}

func newRuntime(config Config, scope *Scope, bindings []Binding) (*runtime, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(config.MaxCallStackSize)

	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, fmt.Errorf("JSON.parse is not callable")
	}
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return nil, fmt.Errorf("JSON.stringify is not callable")
	}

	if err := prune(vm); err != nil {
		return nil, err
	}

	for _, b := range bindings {
		if err := b.Register(vm, scope); err != nil {
			return nil, fmt.Errorf("failed to register binding %s: %w", b.Name(), err)
		}
	}

	return &runtime{vm: vm, parse: parse, stringify: stringify}, nil
}

// prune freezes built-ins, then deletes every global not on the allow-list
func prune(vm *goja.Runtime) error {
	hardenVal, err := vm.RunProgram(hardenProgram)
	if err != nil {
		return fmt.Errorf("failed to load harden function: %w", err)
	}
	harden, ok := goja.AssertFunction(hardenVal)
	if !ok {
		return fmt.Errorf("harden is not a function")
	}

	builtins := make([]interface{}, len(frozenBuiltins))
	for i, name := range frozenBuiltins {
		builtins[i] = name
	}

	global := vm.GlobalObject()
	namesVal, err := harden(goja.Undefined(), global, vm.NewArray(builtins...))
	if err != nil {
		return fmt.Errorf("failed to harden built-ins: %w", err)
	}

	var names []string
	if err := vm.ExportTo(namesVal, &names); err != nil {
		return fmt.Errorf("failed to list globals: %w", err)
	}
	for _, name := range names {
		if _, ok := allowedGlobals[name]; ok {
			continue
		}
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("failed to remove global %s: %w", name, err)
		}
	}

	for _, name := range blockedGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to block %s: %w", name, err)
		}
	}
	return nil
}

// importValue copies host data into the runtime through JSON
func (rt *runtime) importValue(data any) (goja.Value, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}
	return rt.parse(goja.Undefined(), rt.vm.ToValue(string(raw)))
}

// exportValue copies a runtime value back to the host through JSON.
// undefined, functions and symbols export as nil.
func (rt *runtime) exportValue(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, nil
	}
	encoded, err := rt.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(encoded) {
		return nil, nil
	}

	var out any
	if err := json.Unmarshal([]byte(encoded.String()), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}
	return out, nil
}
