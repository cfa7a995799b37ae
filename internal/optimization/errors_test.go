package optimization

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	base := errors.New("base")

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", NewError("failed"), "failed"},
		{"component and op", NewError("failed").WithComponent("multistart").WithOperation("Optimize"), "multistart: Optimize: failed"},
		{"component only", NewErrorf("bad %d", 3).WithComponent("local"), "local: bad 3"},
		{"wrapped", WrapError(base, "context"), "context: base"},
		{"configuration kind", NewConfigurationError("low %v >= high %v", 2, 1).WithComponent("bounds"), "bounds: configuration error: low 2 >= high 1"},
		{"numerical kind", NewNumericalError("NaN"), "numerical error: NaN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}

	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.Nil(t, nilErr.Unwrap())
}

func TestErrorKinds(t *testing.T) {
	cfgErr := NewConfigurationError("bad")
	numErr := NewNumericalError("inf")

	assert.ErrorIs(t, cfgErr, ErrConfiguration)
	assert.NotErrorIs(t, cfgErr, ErrNumerical)
	assert.ErrorIs(t, numErr, ErrNumerical)
	assert.NotErrorIs(t, NewError("plain"), ErrConfiguration)

	// Kinds survive further wrapping.
	wrapped := fmt.Errorf("server: %w", WrapErrorf(cfgErr, "start %s", "opt_1"))
	assert.ErrorIs(t, wrapped, ErrConfiguration)

	got, ok := IsOptimizationError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "start opt_1", got.Message)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, WrapError(nil, "noop"))
	assert.Nil(t, WrapErrorf(nil, "noop %d", 1))

	_, ok := IsOptimizationError(errors.New("other"))
	assert.False(t, ok)
	_, ok = IsOptimizationError(nil)
	assert.False(t, ok)
}
