package preprocess

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamnguyenvan/vision-counter/pkg/types"
)

// createTestImage creates a gradient image with a bright square in the middle
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{uint8(x * 255 / width), uint8(y * 255 / height), 128, 255})
			}
		}
	}
	return img
}

func TestNormalizedSize(t *testing.T) {
	tests := []struct {
		w, h  int
		wantW int
	}{
		{384, 384, 384},
		{768, 384, 768},
		{1000, 500, 768},
		{1920, 1080, 672},
		{3000, 2000, 576},
		{401, 400, 384},
		{300, 400, 288},
	}
	for _, tt := range tests {
		w, h := NormalizedSize(tt.w, tt.h)
		assert.Equal(t, tt.wantW, w, "%dx%d", tt.w, tt.h)
		assert.Equal(t, Height, h)
	}
}

func TestNormalizedSizeInvariant(t *testing.T) {
	for width := 1; width <= 3000; width += 37 {
		for height := 1; height <= 2000; height += 53 {
			w, h := NormalizedSize(width, height)
			require.Zero(t, w%WidthMultiple, "%dx%d -> %d", width, height, w)
			require.Equal(t, Height, h)
		}
	}
}

func TestScaleBox(t *testing.T) {
	sw, sh := ScaleFactors(1536, 768)
	assert.Equal(t, 0.5, sw)
	assert.Equal(t, 0.5, sh)

	r := ScaleBox(types.ExemplarBox{X1: 100, Y1: 50, X2: 201, Y2: 151}, sw, sh)
	assert.Equal(t, types.Rect{Y1: 25, X1: 50, Y2: 75, X2: 100}, r)
}

func TestProcess(t *testing.T) {
	p := New()
	boxes := []types.ExemplarBox{
		{X1: 100, Y1: 50, X2: 201, Y2: 151},
		{X1: 600, Y1: 300, X2: 700, Y2: 400},
	}

	sample, err := p.Process(createTestImage(1536, 768), boxes)
	require.NoError(t, err)

	assert.Equal(t, Height, sample.Height)
	assert.Equal(t, 768, sample.Width)
	assert.Len(t, sample.Image, Channels*Height*768)
	assert.Equal(t, 2, sample.NumExemplars)
	assert.Len(t, sample.Exemplars, 2*Channels*ExemplarSize*ExemplarSize)
	assert.Equal(t, []types.Rect{
		{Y1: 25, X1: 50, Y2: 75, X2: 100},
		{Y1: 150, X1: 300, Y2: 200, X2: 350},
	}, sample.Rects)
	assert.Equal(t, image.Rect(0, 0, 768, Height), sample.Resized.Bounds())

	for _, v := range sample.Image {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1))
	}
}

func TestProcessDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 384, 384))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 255, 255, 0
	}

	sample, err := New().Process(img, []types.ExemplarBox{{X1: 10, Y1: 10, X2: 50, Y2: 50}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sample.Image[0], 1e-6)
}

func TestProcessRejectsInvalidInput(t *testing.T) {
	p := New()
	img := createTestImage(800, 400)

	tests := []struct {
		name  string
		img   image.Image
		boxes []types.ExemplarBox
	}{
		{"nil image", nil, []types.ExemplarBox{{X1: 0, Y1: 0, X2: 10, Y2: 10}}},
		{"no boxes", img, nil},
		{"zero width box", img, []types.ExemplarBox{{X1: 10, Y1: 10, X2: 10, Y2: 20}}},
		{"inverted box", img, []types.ExemplarBox{{X1: 30, Y1: 10, X2: 20, Y2: 20}}},
		{"box outside image", img, []types.ExemplarBox{{X1: 700, Y1: 10, X2: 900, Y2: 20}}},
		{"portrait image", createTestImage(300, 400), []types.ExemplarBox{{X1: 0, Y1: 0, X2: 10, Y2: 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Process(tt.img, tt.boxes)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestTile(t *testing.T) {
	// 3 channels, 2 rows, 5 columns; value encodes c*100 + y*10 + x
	s := &Sample{Height: 2, Width: 5}
	for c := 0; c < Channels; c++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 5; x++ {
				s.Image = append(s.Image, float32(c*100+y*10+x))
			}
		}
	}

	got := s.Tile(1, 3)
	want := []float32{
		1, 2, 3, 11, 12, 13,
		101, 102, 103, 111, 112, 113,
		201, 202, 203, 211, 212, 213,
	}
	assert.Equal(t, want, got)
}

func BenchmarkProcess(b *testing.B) {
	p := New()
	img := createTestImage(1920, 1080)
	boxes := []types.ExemplarBox{{X1: 100, Y1: 100, X2: 180, Y2: 180}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Process(img, boxes); err != nil {
			b.Fatal(err)
		}
	}
}
