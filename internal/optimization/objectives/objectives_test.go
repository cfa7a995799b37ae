package objectives

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/multistart/internal/optimization"
)

func TestKnownMinima(t *testing.T) {
	tests := []struct {
		name string
		x    []float64
		want float64
	}{
		{"sphere", []float64{0, 0, 0}, 0},
		{"shifted-quadratic", []float64{3, -1}, 0},
		{"shifted-quadratic", ShiftedQuadraticCenter(5), 0},
		{"griewank", []float64{0, 0}, 0},
		{"rosenbrock", []float64{1, 1, 1}, 0},
		{"rastrigin", []float64{0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := Lookup(tt.name)
			require.NoError(t, err)
			got, err := obj.Func(tt.x)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestValues(t *testing.T) {
	v, _ := ShiftedQuadratic([]float64{0, 0})
	assert.Equal(t, 10.0, v)

	v, _ = Sphere([]float64{1, 2, 3})
	assert.Equal(t, 14.0, v)

	v, _ = Rosenbrock([]float64{0, 0})
	assert.Equal(t, 1.0, v)

	v, _ = Rastrigin([]float64{1, 1})
	assert.InDelta(t, 2.0, v, 1e-12)

	// Griewank is positive away from the lattice of local minima.
	v, _ = Griewank([]float64{math.Pi, 0})
	assert.Greater(t, v, 1.0)
}

func TestTwoWell(t *testing.T) {
	deep, _ := TwoWell([]float64{4, 4})
	shallow, _ := TwoWell([]float64{-4, -4})
	between, _ := TwoWell([]float64{1, 1})

	assert.Less(t, deep, -1.9)
	assert.InDelta(t, -0.97, shallow, 0.01)
	assert.Less(t, deep, shallow)
	assert.Greater(t, between, shallow)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("himmelblau")
	assert.ErrorIs(t, err, optimization.ErrConfiguration)
}

func TestNames(t *testing.T) {
	names := Names()
	assert.Equal(t, []string{"griewank", "rastrigin", "rosenbrock", "shifted-quadratic", "sphere", "two-well"}, names)

	all := All()
	require.Len(t, all, len(names))
	for i, obj := range all {
		assert.Equal(t, names[i], obj.Name)
		assert.NotEmpty(t, obj.Description)
		assert.NotNil(t, obj.Func)
	}
}
