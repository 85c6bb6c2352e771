// Package preprocess turns an arbitrary RGB image and its exemplar boxes into
// the fixed geometry tensors the density model consumes.
package preprocess

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/ollama/ollama/model/imageproc"

	"github.com/tamnguyenvan/vision-counter/pkg/types"
)

const (
	// Height is the fixed height of the normalized image
	Height = 384
	// WidthMultiple is the granularity the normalized width is rounded down to
	WidthMultiple = 16
	// ExemplarSize is the side length of each exemplar crop
	ExemplarSize = 64
	// Channels is the number of colour channels in every tensor
	Channels = 3
)

// [0,1] rescale only, no mean/std shift
var (
	zeroMean = [3]float32{0, 0, 0}
	unitStd  = [3]float32{1, 1, 1}
)

// Sample is the preprocessed form of one count request
type Sample struct {
	// Image is the normalized image in CHW order, Channels*Height*Width values
	Image []float32
	// Height and Width of the normalized image
	Height int
	Width  int
	// Exemplars holds the stacked exemplar crops, each Channels*ExemplarSize*ExemplarSize
	// values in CHW order
	Exemplars []float32
	// NumExemplars is the number of crops stacked in Exemplars
	NumExemplars int
	// Rects are the exemplar boxes in normalized image coordinates
	Rects []types.Rect
	// Resized is the normalized image before tensor conversion, kept for
	// visualisation
	Resized *image.NRGBA
}

// Tile copies the columns [start, start+size) of every channel and row into a
// new CHW tensor of Channels*Height*size values
func (s *Sample) Tile(start, size int) []float32 {
	out := make([]float32, 0, Channels*s.Height*size)
	plane := s.Height * s.Width
	for c := 0; c < Channels; c++ {
		for y := 0; y < s.Height; y++ {
			row := c*plane + y*s.Width
			out = append(out, s.Image[row+start:row+start+size]...)
		}
	}
	return out
}

// Preprocessor normalizes images and exemplar boxes
type Preprocessor struct {
	filter imaging.ResampleFilter
}

// New creates a Preprocessor using linear interpolation for every resize
func New() *Preprocessor {
	return &Preprocessor{filter: imaging.Linear}
}

// NormalizedSize returns the normalized dimensions for an image of the given
// size: height is always Height, width is the aspect preserving width rounded
// down to a multiple of WidthMultiple
func NormalizedSize(width, height int) (int, int) {
	w := WidthMultiple * int(float64(width)/float64(height)*Height/WidthMultiple)
	return w, Height
}

// ScaleFactors returns the horizontal and vertical factors mapping original
// pixel coordinates onto the normalized image
func ScaleFactors(width, height int) (float64, float64) {
	newW, newH := NormalizedSize(width, height)
	return float64(newW) / float64(width), float64(newH) / float64(height)
}

// ScaleBox maps an exemplar box into normalized image coordinates,
// truncating towards zero
func ScaleBox(b types.ExemplarBox, scaleW, scaleH float64) types.Rect {
	return types.Rect{
		Y1: int(float64(b.Y1) * scaleH),
		X1: int(float64(b.X1) * scaleW),
		Y2: int(float64(b.Y2) * scaleH),
		X2: int(float64(b.X2) * scaleW),
	}
}

// Process validates the boxes, resizes the image and cuts the exemplar crops.
// All failures are reported as types.ErrInvalidInput.
func (p *Preprocessor) Process(img image.Image, boxes []types.ExemplarBox) (*Sample, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", types.ErrInvalidInput)
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", types.ErrInvalidInput, width, height)
	}
	if len(boxes) == 0 {
		return nil, fmt.Errorf("%w: at least one exemplar box is required", types.ErrInvalidInput)
	}
	for _, box := range boxes {
		if err := box.Validate(width, height); err != nil {
			return nil, err
		}
	}

	newW, newH := NormalizedSize(width, height)
	if newW < Height {
		return nil, fmt.Errorf("%w: normalized width %d is narrower than the %d pixel model window",
			types.ErrInvalidInput, newW, Height)
	}
	scaleW, scaleH := ScaleFactors(width, height)

	resized := imaging.Resize(toRGB(img), newW, newH, p.filter)

	sample := &Sample{
		Image:        imageproc.Normalize(resized, zeroMean, unitStd, true, true),
		Height:       newH,
		Width:        newW,
		Exemplars:    make([]float32, 0, len(boxes)*Channels*ExemplarSize*ExemplarSize),
		NumExemplars: len(boxes),
		Rects:        make([]types.Rect, 0, len(boxes)),
		Resized:      resized,
	}

	for _, box := range boxes {
		rect := ScaleBox(box, scaleW, scaleH)
		crop, err := p.cropExemplar(resized, rect)
		if err != nil {
			return nil, fmt.Errorf("exemplar %s: %w", box, err)
		}
		sample.Rects = append(sample.Rects, rect)
		sample.Exemplars = append(sample.Exemplars, crop...)
	}

	return sample, nil
}

// cropExemplar cuts the inclusive rectangle out of the normalized image and
// resizes it to ExemplarSize x ExemplarSize
func (p *Preprocessor) cropExemplar(img *image.NRGBA, rect types.Rect) ([]float32, error) {
	region := image.Rect(rect.X1, rect.Y1, rect.X2+1, rect.Y2+1).Intersect(img.Bounds())
	if region.Empty() {
		return nil, fmt.Errorf("%w: exemplar collapses to an empty crop at %v", types.ErrInvalidInput, rect)
	}
	crop := imaging.Resize(imaging.Crop(img, region), ExemplarSize, ExemplarSize, p.filter)
	return imageproc.Normalize(crop, zeroMean, unitStd, true, true), nil
}

// toRGB drops the alpha channel, matching an RGB conversion rather than
// compositing against a background
func toRGB(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
