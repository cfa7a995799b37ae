package multistart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBiased(t *testing.T) {
	tests := []struct {
		k, biasStart int
		want         bool
	}{
		{0, 0, false},
		{1, 0, true},
		{49, 50, false},
		{50, 50, false},
		{51, 50, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Biased(tt.k, tt.biasStart), "k=%d biasStart=%d", tt.k, tt.biasStart)
	}
}

func TestCoolingWeight(t *testing.T) {
	t.Run("half at the bias boundary", func(t *testing.T) {
		assert.Equal(t, 0.5, CoolingWeight(10, 10))
	})

	t.Run("known values", func(t *testing.T) {
		assert.InDelta(t, 0.4975000208, CoolingWeight(11, 10), 1e-9)
		assert.InDelta(t, 0.2689414214, CoolingWeight(110, 10), 1e-9)
		assert.InDelta(t, 0.0066928509, CoolingWeight(510, 10), 1e-9)
	})

	t.Run("non-increasing and bounded after the bias start", func(t *testing.T) {
		const biasStart = 25
		prev := CoolingWeight(biasStart+1, biasStart)
		for k := biasStart + 1; k < biasStart+5000; k++ {
			chi := CoolingWeight(k, biasStart)
			assert.Greater(t, chi, 0.0, "k=%d", k)
			assert.LessOrEqual(t, chi, 0.5, "k=%d", k)
			assert.LessOrEqual(t, chi, prev, "k=%d", k)
			prev = chi
		}
	})
}
