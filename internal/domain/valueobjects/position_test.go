package valueobjects

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPosition(t *testing.T) {
	tests := []struct {
		name    string
		x, y    float64
		wantErr bool
	}{
		{name: "origin", x: 0, y: 0},
		{name: "seed position", x: 400, y: 300},
		{name: "negative", x: -100.5, y: -200.75},
		{name: "very large", x: 1e10, y: -1e10},
		{name: "NaN x", x: math.NaN(), y: 0, wantErr: true},
		{name: "NaN y", x: 0, y: math.NaN(), wantErr: true},
		{name: "positive infinity", x: math.Inf(1), y: 0, wantErr: true},
		{name: "negative infinity", x: 0, y: math.Inf(-1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := NewPosition(tt.x, tt.y)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid coordinates")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.x, pos.X())
			assert.Equal(t, tt.y, pos.Y())
		})
	}
}

func TestPosition_Equals(t *testing.T) {
	a := MustNewPosition(400, 300)

	assert.True(t, a.Equals(MustNewPosition(400, 300)))
	assert.True(t, a.Equals(MustNewPosition(400+1e-12, 300-1e-12)))
	assert.False(t, a.Equals(MustNewPosition(400.001, 300)))
}

func TestPosition_TranslateAndDistance(t *testing.T) {
	a := MustNewPosition(0, 0)

	b, err := a.Translate(3, 4)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, a.DistanceTo(b), 1e-9)

	_, err = a.Translate(math.Inf(1), 0)
	assert.Error(t, err)
}

func TestMustNewPosition_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustNewPosition(math.NaN(), 0) })
}
