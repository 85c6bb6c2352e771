// Package detection asks a vision model to locate one instance of a named
// object so it can serve as an exemplar box.
package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tamnguyenvan/vision-counter/pkg/client"
	"github.com/tamnguyenvan/vision-counter/pkg/types"
)

// ErrNotFound is returned when the model could not locate the object
var ErrNotFound = errors.New("object not found")

// MinConfidence is the lowest confidence accepted from the model
const MinConfidence = 0.2

// PromptTemplate asks for a single tight box around one instance of %s
const PromptTemplate = `You are an object locator.

Find ONE clearly visible, unoccluded instance of: %s

Return JSON only:
{"label": "string", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}

RULES
- Coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- The box must tightly enclose exactly one instance, not a group.
- Prefer an instance of typical size away from the image border.
- If there is no such object, return {"label":"none","confidence":0.0,"box":{"x":0,"y":0,"w":0,"h":0}}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Detector turns vision model answers into exemplar boxes
type Detector struct {
	client client.VisionClient
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient) *Detector {
	return &Detector{client: client}
}

// Prompt returns the localisation prompt for label
func Prompt(label string) string {
	return fmt.Sprintf(PromptTemplate, strings.TrimSpace(label))
}

// ProposeExemplar asks model where one label instance is in the image and
// returns its box in pixel coordinates of a width x height image. There is
// no fallback box: an unusable answer is an error.
func (d *Detector) ProposeExemplar(ctx context.Context, model, imgB64, label string, width, height int) (types.ExemplarBox, error) {
	if strings.TrimSpace(label) == "" {
		return types.ExemplarBox{}, fmt.Errorf("%w: empty object label", types.ErrInvalidInput)
	}

	reply, err := d.client.Query(ctx, model, Prompt(label), imgB64)
	if err != nil {
		return types.ExemplarBox{}, err
	}

	p, err := client.ParseProposal(reply)
	if err != nil {
		return types.ExemplarBox{}, err
	}

	if p.Label == "none" || p.Confidence < MinConfidence {
		return types.ExemplarBox{}, fmt.Errorf("%w: %q (label %q, confidence %.2f)", ErrNotFound, label, p.Label, p.Confidence)
	}

	box := normalizeBox(p.Box)
	if box.W <= 0 || box.H <= 0 {
		return types.ExemplarBox{}, fmt.Errorf("%w: %q (empty box)", ErrNotFound, label)
	}

	eb := box.ToExemplar(width, height)
	if err := eb.Validate(width, height); err != nil {
		return types.ExemplarBox{}, fmt.Errorf("%w: %q: %v", ErrNotFound, label, err)
	}
	return eb, nil
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

// normalizeBox clips b to the unit square
func normalizeBox(b types.Box) types.Box {
	x0, y0 := clamp(b.X, 0, 1), clamp(b.Y, 0, 1)
	x1, y1 := clamp(b.X+b.W, 0, 1), clamp(b.Y+b.H, 0, 1)
	return types.Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}
