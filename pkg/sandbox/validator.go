package sandbox

import (
	"fmt"
	"regexp"

	"golang.org/x/text/unicode/norm"

	aegiserrors "github.com/wehubfusion/Aegis/pkg/errors"
)

// CheckResult is the outcome of validating transformation code
type CheckResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Err returns a validation-failed error carrying the findings, or nil when valid
func (r CheckResult) Err() error {
	if r.Valid {
		return nil
	}
	return aegiserrors.ValidationFailed(r.Errors)
}

// Pattern is one dangerous construct the validator looks for
type Pattern struct {
	Name string
	Expr *regexp.Regexp
}

// DefaultPatterns are checked in order; each match adds one finding.
var DefaultPatterns = []Pattern{
	{Name: "eval", Expr: regexp.MustCompile(`\beval\s*\(`)},
	{Name: "Function constructor", Expr: regexp.MustCompile(`\bFunction\s*\(`)},
	{Name: "timers", Expr: regexp.MustCompile(`\b(setTimeout|setInterval|setImmediate|requestAnimationFrame)\s*\(`)},
	{Name: "dynamic import", Expr: regexp.MustCompile(`\bimport\s*\(`)},
	{Name: "require", Expr: regexp.MustCompile(`\brequire\s*\(`)},
	{Name: "network access", Expr: regexp.MustCompile(`\b(fetch|XMLHttpRequest|WebSocket|EventSource|importScripts)\b|\bnavigator\s*\.\s*sendBeacon\b`)},
	{Name: "global object access", Expr: regexp.MustCompile(`\b(window|document|globalThis|localStorage|sessionStorage|indexedDB)\b`)},
	{Name: "prototype tampering", Expr: regexp.MustCompile(`__proto__|\.\s*prototype\b|\b(setPrototypeOf|defineProperty|defineProperties|__defineGetter__|__defineSetter__)\b`)},
	{Name: "constructor access", Expr: regexp.MustCompile(`\bconstructor\b`)},
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithMaxCodeLength rejects code longer than n bytes. Zero disables the check.
func WithMaxCodeLength(n int) ValidatorOption {
	return func(v *Validator) {
		v.maxCodeLength = n
	}
}

// WithPatterns replaces the pattern set
func WithPatterns(patterns []Pattern) ValidatorOption {
	return func(v *Validator) {
		v.patterns = patterns
	}
}

// Validator performs static vetting of transformation code.
// It is advisory: obfuscated or encoded payloads can still slip through, which is
// why execution also happens in a pruned runtime.
type Validator struct {
	patterns      []Pattern
	maxCodeLength int
}

// NewValidator creates a validator using DefaultPatterns
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{patterns: DefaultPatterns}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var defaultValidator = NewValidator()

// Validate checks code with the default validator
func Validate(code string) CheckResult {
	return defaultValidator.Validate(code)
}

// Validate scans code for dangerous patterns. It never panics.
// The NFKC-normalized form is scanned as well, so compatibility look-alikes such as
// full-width letters cannot hide a pattern.
func (v *Validator) Validate(code string) CheckResult {
	result := CheckResult{Errors: []string{}}

	if v.maxCodeLength > 0 && len(code) > v.maxCodeLength {
		result.Errors = append(result.Errors, fmt.Sprintf("code exceeds maximum length of %d bytes", v.maxCodeLength))
	}

	normalized := norm.NFKC.String(code)
	for _, p := range v.patterns {
		if p.Expr.MatchString(code) || (normalized != code && p.Expr.MatchString(normalized)) {
			result.Errors = append(result.Errors, "dangerous pattern detected: "+p.Name)
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}
