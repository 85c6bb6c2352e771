package processing

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/tamnguyenvan/vision-counter/pkg/density"
	"github.com/tamnguyenvan/vision-counter/pkg/types"
)

// OverlayOpacity is how strongly the heatmap covers the base image
const OverlayOpacity = 0.6

var (
	coldColor    = colorful.Hsv(240, 1, 1) // blue
	hotColor     = colorful.Hsv(0, 1, 1)   // red
	exemplarEdge = color.NRGBA{0, 255, 0, 255}
)

// Heatmap colours a density map. Pixel alpha follows density so empty
// regions stay transparent.
func Heatmap(dm *density.Map) *image.NRGBA {
	h, w := dm.Dims()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	peak := 0.0
	for y := 0; y < h; y++ {
		for _, v := range dm.Row(y) {
			peak = math.Max(peak, v)
		}
	}
	if peak == 0 {
		return out
	}

	for y := 0; y < h; y++ {
		i := y * out.Stride
		for _, v := range dm.Row(y) {
			t := clamp(v/peak, 0, 1)
			r, g, b := coldColor.BlendHcl(hotColor, t).Clamped().RGB255()
			out.Pix[i+0] = r
			out.Pix[i+1] = g
			out.Pix[i+2] = b
			out.Pix[i+3] = uint8(255*t + 0.5)
			i += 4
		}
	}
	return out
}

// RenderDensityOverlay blends the heatmap of dm over base and outlines the
// exemplar rectangles. base is resized to the map size when they differ.
func RenderDensityOverlay(base image.Image, dm *density.Map, rects []types.Rect) *image.NRGBA {
	h, w := dm.Dims()
	if b := base.Bounds(); b.Dx() != w || b.Dy() != h {
		base = imaging.Resize(base, w, h, imaging.Linear)
	}

	out := imaging.Overlay(base, Heatmap(dm), image.Pt(0, 0), OverlayOpacity)

	stroke := int(math.Max(2, 0.004*float64(min(w, h))))
	for _, r := range rects {
		drawRect(out, r, exemplarEdge, stroke)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// drawRect outlines an inclusive rectangle
func drawRect(img *image.NRGBA, r types.Rect, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := r.X1, r.Y1, r.X2+1, r.Y2+1
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if y < 0 || y >= h {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0, x1 = max(x0, 0), min(x1, w)
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if x < 0 || x >= w {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0, y1 = max(y0, 0), min(y1, h)
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}
