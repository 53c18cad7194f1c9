// Package sanitize scrubs widget configuration and errors before they reach the UI.
//
// Configuration values are deep-copied with reflective keys removed and markup
// restricted to a handful of inline formatting tags. Errors are reduced to a fixed
// shape whose message is generic unless it belongs to a small set of known-safe
// categories.
package sanitize

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	aegiserrors "github.com/wehubfusion/Aegis/pkg/errors"
)

// GenericErrorMessage replaces any error message not on the safe list
const GenericErrorMessage = "An error occurred"

// safeErrorMessages are passed through verbatim
var safeErrorMessages = map[string]struct{}{
	"Network error":       {},
	"Invalid data format": {},
	"Validation error":    {},
	"Calculation error":   {},
	"Render error":        {},
}

// allowedTags are the inline formatting elements kept in config strings
var allowedTags = []string{"b", "i", "em", "strong", "u", "span", "br"}

// ErrorInfo is the UI-safe representation of an error
type ErrorInfo struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Stack   string `json:"stack,omitempty"`
}

// Option configures a Sanitizer
type Option func(*Sanitizer)

// WithDevelopment includes error chains in sanitized errors
func WithDevelopment(development bool) Option {
	return func(s *Sanitizer) {
		s.development = development
	}
}

// WithReporter sets where raw errors are sent by Report
func WithReporter(r Reporter) Option {
	return func(s *Sanitizer) {
		if r != nil {
			s.reporter = r
		}
	}
}

// Sanitizer cleans config values and errors. It is safe for concurrent use.
type Sanitizer struct {
	policy      *bluemonday.Policy
	development bool
	reporter    Reporter
}

// New creates a sanitizer
func New(opts ...Option) *Sanitizer {
	policy := bluemonday.NewPolicy()
	policy.AllowElements(allowedTags...)
	policy.AllowAttrs("class").Globally()

	s := &Sanitizer{
		policy:   policy,
		reporter: NopReporter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var defaultSanitizer = New()

// SanitizeConfig cleans value with the default sanitizer
func SanitizeConfig(value any) any {
	return defaultSanitizer.SanitizeConfig(value)
}

// SanitizeError cleans err with the default (production) sanitizer
func SanitizeError(err error) ErrorInfo {
	return defaultSanitizer.SanitizeError(err)
}

// SanitizeConfig returns a sanitized deep copy of value.
// Keys starting with "__" and the keys "constructor" and "prototype" are dropped.
func (s *Sanitizer) SanitizeConfig(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			if isUnsafeKey(key) {
				continue
			}
			out[key] = s.SanitizeConfig(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for key, item := range v {
			if isUnsafeKey(key) {
				continue
			}
			out[key] = s.sanitizeString(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.SanitizeConfig(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = s.sanitizeString(item)
		}
		return out
	case string:
		return s.sanitizeString(v)
	case nil:
		return nil
	default:
		return s.sanitizeReflect(reflect.ValueOf(value)).Interface()
	}
}

// sanitizeReflect rebuilds typed containers (string-keyed maps, slices, arrays, pointers,
// struct fields) with the same key filter and string policy. The result keeps v's type.
func (s *Sanitizer) sanitizeReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.String:
		return reflect.ValueOf(s.sanitizeString(v.String())).Convert(v.Type())
	case reflect.Map:
		if v.IsNil() || v.Type().Key().Kind() != reflect.String {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			if isUnsafeKey(iter.Key().String()) {
				continue
			}
			out.SetMapIndex(iter.Key(), s.sanitizeElem(iter.Value(), v.Type().Elem()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(s.sanitizeElem(v.Index(i), v.Type().Elem()))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(s.sanitizeElem(v.Index(i), v.Type().Elem()))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(s.sanitizeElem(v.Elem(), v.Type().Elem()))
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if !out.Field(i).CanSet() {
				continue
			}
			out.Field(i).Set(s.sanitizeElem(v.Field(i), v.Type().Field(i).Type))
		}
		return out
	default:
		return v
	}
}

// sanitizeElem sanitizes a container element, going back through SanitizeConfig for
// interface-typed elements so the fast paths apply.
func (s *Sanitizer) sanitizeElem(v reflect.Value, typ reflect.Type) reflect.Value {
	if v.Kind() != reflect.Interface {
		return s.sanitizeReflect(v)
	}
	if v.IsNil() || !v.CanInterface() {
		return v
	}
	sanitized := reflect.ValueOf(s.SanitizeConfig(v.Interface()))
	if !sanitized.IsValid() {
		return reflect.Zero(typ)
	}
	return sanitized
}

func (s *Sanitizer) sanitizeString(v string) string {
	if !strings.ContainsAny(v, "<>") {
		return v
	}
	return s.policy.Sanitize(v)
}

func isUnsafeKey(key string) bool {
	return strings.HasPrefix(key, "__") || key == "constructor" || key == "prototype"
}

// SanitizeError reduces err to a UI-safe record
func (s *Sanitizer) SanitizeError(err error) ErrorInfo {
	info := ErrorInfo{
		Message: GenericErrorMessage,
		Type:    "Error",
	}
	if err == nil {
		return info
	}

	if code := aegiserrors.Code(err); code != "" {
		info.Type = code
	}
	if _, ok := safeErrorMessages[messageOf(err)]; ok {
		info.Message = messageOf(err)
	}
	if s.development {
		info.Stack = errorChain(err)
	}
	return info
}

// Report sends the raw error to the configured reporter and returns its sanitized form
func (s *Sanitizer) Report(ctx context.Context, widgetID string, err error) ErrorInfo {
	if err != nil {
		s.reporter.Report(ctx, widgetID, err)
	}
	return s.SanitizeError(err)
}

// messageOf returns the bare message of a structured error, or err.Error()
func messageOf(err error) string {
	if e, ok := err.(*aegiserrors.Error); ok {
		return e.Message
	}
	return err.Error()
}

// errorChain renders each wrapped error on its own line
func errorChain(err error) string {
	var lines []string
	for current := err; current != nil; current = errors.Unwrap(current) {
		lines = append(lines, current.Error())
	}
	return strings.Join(lines, "\n")
}
