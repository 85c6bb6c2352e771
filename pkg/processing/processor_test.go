package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamnguyenvan/vision-counter/pkg/density"
	"github.com/tamnguyenvan/vision-counter/pkg/types"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoadImageFromReader(t *testing.T) {
	p := NewProcessor()

	img, err := p.LoadImageFromReader(bytes.NewReader(encodePNG(t, testImage(40, 30))))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())

	_, err = p.LoadImageFromReader(bytes.NewReader([]byte("not an image")))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestSaveAndLoad(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	src := testImage(32, 24)

	for _, format := range []string{"png", "jpg", "webp"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(dir, "out."+format)
			require.NoError(t, p.SaveImage(src, path, format, 90, true))

			img, err := p.LoadImage(path)
			require.NoError(t, err)
			assert.Equal(t, src.Bounds(), img.Bounds())
		})
	}

	_, err := p.LoadImage(filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestLoadImageFromURL(t *testing.T) {
	body := encodePNG(t, testImage(16, 16))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(body)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewProcessor()
	ctx := context.Background()

	img, err := p.LoadImageSmart(ctx, srv.URL+"/img.png")
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())

	_, err = p.LoadImageFromURL(ctx, srv.URL+"/page")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = p.LoadImageFromURL(ctx, srv.URL+"/missing")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = p.LoadImageFromURL(ctx, "ftp://example.com/img.png")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()

	enc, err := p.PrepareImageForModel(testImage(200, 100), "png", 50, 90)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 50, 25), img.Bounds())

	enc, err = p.PrepareImageForModel(testImage(20, 10), "jpg", 50, 90)
	require.NoError(t, err)
	assert.NotEmpty(t, enc)
}

func TestHeatmap(t *testing.T) {
	dm := density.New(4, 4)
	empty := Heatmap(dm)
	for i := 3; i < len(empty.Pix); i += 4 {
		require.Zero(t, empty.Pix[i])
	}

	tile := make([]float32, 16)
	tile[5] = 2 // row 1, col 1
	tile[10] = 1
	require.NoError(t, dm.Blend(tile, 4, 0, -1))

	hm := Heatmap(dm)
	hot := hm.NRGBAAt(1, 1)
	assert.Equal(t, uint8(255), hot.A)
	assert.Greater(t, hot.R, hot.B)
	assert.Equal(t, uint8(128), hm.NRGBAAt(2, 2).A)
	assert.Zero(t, hm.NRGBAAt(0, 0).A)
}

func TestRenderDensityOverlay(t *testing.T) {
	dm := density.New(40, 60)
	rects := []types.Rect{{Y1: 5, X1: 10, Y2: 20, X2: 30}}

	out := RenderDensityOverlay(testImage(120, 80), dm, rects)
	assert.Equal(t, image.Rect(0, 0, 60, 40), out.Bounds())

	assert.Equal(t, exemplarEdge, out.NRGBAAt(10, 5))
	assert.Equal(t, exemplarEdge, out.NRGBAAt(30, 20))
	assert.Equal(t, exemplarEdge, out.NRGBAAt(20, 5))
	assert.NotEqual(t, exemplarEdge, out.NRGBAAt(20, 12))

	// rectangles past the edge are clipped
	assert.NotPanics(t, func() {
		RenderDensityOverlay(testImage(60, 40), dm, []types.Rect{{Y1: 30, X1: 50, Y2: 90, X2: 90}})
	})
}

func TestDrawLinesClipToImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 4))
	c := color.NRGBA{1, 2, 3, 255}

	drawHLine(img, 1, 7, -3, c)
	drawVLine(img, 4, -2, 9, c)
	drawHLine(img, 9, 0, 5, c)
	drawVLine(img, -1, 0, 4, c)

	for x := 0; x < 5; x++ {
		assert.Equal(t, c, img.NRGBAAt(x, 1), "row 1, x=%d", x)
	}
	for y := 0; y < 4; y++ {
		assert.Equal(t, c, img.NRGBAAt(4, y), "column 4, y=%d", y)
	}
	assert.Zero(t, img.NRGBAAt(0, 0).A)
	assert.Zero(t, img.NRGBAAt(3, 3).A)
}
