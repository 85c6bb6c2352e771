package types

import (
	"fmt"
	"image"
)

// ExemplarBox is a user supplied rectangle around one instance of the object
// to count, in original image pixel coordinates. (X1,Y1) is the top-left
// corner and (X2,Y2) the bottom-right corner.
type ExemplarBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// BoxFromRect converts an image.Rectangle into an ExemplarBox
func BoxFromRect(r image.Rectangle) ExemplarBox {
	return ExemplarBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Validate checks the box is non-degenerate and lies inside an image of the
// given size
func (b ExemplarBox) Validate(width, height int) error {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return fmt.Errorf("%w: degenerate exemplar box %s", ErrInvalidInput, b)
	}
	if b.X1 < 0 || b.Y1 < 0 || b.X2 > width || b.Y2 > height {
		return fmt.Errorf("%w: exemplar box %s outside %dx%d image", ErrInvalidInput, b, width, height)
	}
	return nil
}

func (b ExemplarBox) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.X1, b.Y1, b.X2, b.Y2)
}

// Rect is an exemplar box re-expressed in normalized image pixels, in
// row/column order. Both bounds are inclusive.
type Rect struct {
	Y1 int `json:"y1"`
	X1 int `json:"x1"`
	Y2 int `json:"y2"`
	X2 int `json:"x2"`
}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ToExemplar converts the normalized box to pixel coordinates of an image
// with the given dimensions
func (b Box) ToExemplar(width, height int) ExemplarBox {
	fw, fh := float64(width), float64(height)
	return ExemplarBox{
		X1: int(b.X*fw + 0.5),
		Y1: int(b.Y*fh + 0.5),
		X2: int((b.X+b.W)*fw + 0.5),
		Y2: int((b.Y+b.H)*fh + 0.5),
	}
}

// Proposal is a vision model's answer when asked to locate one instance of
// a named object
type Proposal struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// CountResult is the JSON shape emitted by the CLI
type CountResult struct {
	Image      string        `json:"image"`
	Count      int           `json:"count"`
	RawCount   float64       `json:"raw_count"`
	Correction float64       `json:"correction"`
	Corrected  bool          `json:"corrected"`
	Exemplars  []ExemplarBox `json:"exemplars"`
	Windows    int           `json:"windows"`
}
