package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := ManifestNotFound("chart")

	assert.True(t, errors.Is(err, ErrManifestNotFound))
	assert.False(t, errors.Is(err, ErrLoadFailed))

	wrapped := fmt.Errorf("load chart: %w", err)
	assert.True(t, errors.Is(wrapped, ErrManifestNotFound))
}

func TestLoadFailedUnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := LoadFailed("chart", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrLoadFailed))
	assert.Equal(t, "[LOAD_FAILED] widget load failed (widget chart): connection refused", err.Error())
}

func TestWidgetTransformHasNoCause(t *testing.T) {
	err := WidgetTransform("chart")

	assert.Nil(t, err.Unwrap())
	assert.Equal(t, "[WIDGET_TRANSFORM_ERROR] widget transformation failed (widget chart)", err.Error())
}

func TestValidationFailedCopiesFindings(t *testing.T) {
	findings := []string{"dangerous pattern detected: eval"}
	err := ValidationFailed(findings)
	findings[0] = "mutated"

	assert.Equal(t, []string{"dangerous pattern detected: eval"}, err.Details)
	assert.Contains(t, err.Message, "1 finding")
}

func TestCode(t *testing.T) {
	assert.Equal(t, CodeRateLimited, Code(RateLimited("a")))
	assert.Equal(t, CodeCircuitOpen, Code(fmt.Errorf("outer: %w", CircuitOpen("a"))))
	assert.Equal(t, "", Code(errors.New("plain")))
	assert.Equal(t, "", Code(nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{LoadFailed("a", errors.New("x")), true},
		{RateLimited("a"), true},
		{CircuitOpen("a"), true},
		{ManifestNotFound("a"), false},
		{CyclicDependency("a", []string{"a", "b", "a"}), false},
		{errors.New("plain"), false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
