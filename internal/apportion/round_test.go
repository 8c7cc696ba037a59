package apportion

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundSignificant(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		p    int
		want float64
	}{
		{"zero", 0, 2, 0},
		{"zero any precision", 0, 7, 0},
		{"thousands", 1234, 2, 1200},
		{"already two digits", 87, 2, 87},
		{"fewer digits than precision", 87, 3, 87},
		{"hundreds", 150, 2, 150},
		{"half rounds to even down", 1250, 2, 1200},
		{"half rounds to even up", 1350, 2, 1400},
		{"small fraction", 0.0341, 2, 0.034},
		{"single digit", 7, 2, 7},
		{"large", 987654, 2, 990000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RoundSignificant(tt.x, tt.p)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

// 0.00345 has no exact binary form and is stored just below the midpoint,
// so half-to-even rounding at four decimals gives 0.0034, not 0.0035.
func TestRoundSignificant_BinaryMidpoint(t *testing.T) {
	got, err := RoundSignificant(0.00345, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.0034, got, 1e-12)
}

func TestRoundSignificant_Negative(t *testing.T) {
	_, err := RoundSignificant(-1, 2)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNegative))
}
