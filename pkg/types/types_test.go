package types

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExemplarBoxValidate(t *testing.T) {
	tests := []struct {
		name    string
		box     ExemplarBox
		wantErr bool
	}{
		{"inside", ExemplarBox{10, 10, 20, 20}, false},
		{"touches edges", ExemplarBox{0, 0, 100, 50}, false},
		{"zero width", ExemplarBox{10, 10, 10, 20}, true},
		{"inverted height", ExemplarBox{10, 20, 20, 10}, true},
		{"negative origin", ExemplarBox{-1, 0, 10, 10}, true},
		{"past right edge", ExemplarBox{90, 0, 101, 10}, true},
		{"past bottom edge", ExemplarBox{0, 40, 10, 51}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.box.Validate(100, 50)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestBoxFromRect(t *testing.T) {
	b := BoxFromRect(image.Rect(3, 4, 30, 40))
	assert.Equal(t, ExemplarBox{X1: 3, Y1: 4, X2: 30, Y2: 40}, b)
	assert.Equal(t, "(3,4)-(30,40)", b.String())
}

func TestBoxToExemplar(t *testing.T) {
	b := Box{X: 0.25, Y: 0.5, W: 0.5, H: 0.25}
	assert.Equal(t, ExemplarBox{X1: 100, Y1: 100, X2: 300, Y2: 150}, b.ToExemplar(400, 200))
}
