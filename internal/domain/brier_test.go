package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrier_OverconfidentMiss(t *testing.T) {
	// BET at confidence 0.40, market resolves YES → (0.40 − 1)² = 0.36
	assert.InDelta(t, 0.36, Brier(0.40, 1), 1e-9)
}

func TestBrier_PerfectAndWorst(t *testing.T) {
	assert.Equal(t, 0.0, Brier(1.0, 1))
	assert.Equal(t, 0.0, Brier(0.0, 0))
	assert.Equal(t, 1.0, Brier(0.0, 1))
	assert.Equal(t, 1.0, Brier(1.0, 0))
}

func TestBrier_AlwaysInUnitInterval(t *testing.T) {
	for _, f := range []float64{-3, -0.1, 0, 0.25, 0.5, 0.99, 1, 1.7, 42} {
		for _, o := range []int{0, 1} {
			s := Brier(f, o)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 1.0, Clamp01(1.5))
	assert.Equal(t, 0.73, Clamp01(0.73))
}
