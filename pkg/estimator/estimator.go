// Package estimator runs a fixed-width density model across a normalized
// image of arbitrary width, stitches the per-window density tiles into one
// map and turns that map into a calibrated integer count.
package estimator

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/tamnguyenvan/vision-counter/pkg/density"
	"github.com/tamnguyenvan/vision-counter/pkg/preprocess"
	"github.com/tamnguyenvan/vision-counter/pkg/types"
)

const (
	// WindowSize is the model's native input width
	WindowSize = 384
	// Stride is how far each window advances; consecutive windows share
	// WindowSize-Stride columns
	Stride = 128
	// DensityScale converts summed density into object count
	DensityScale = 60.0
	// ExemplarDivisor normalizes the summed exemplar count
	ExemplarDivisor = 3.0
	// CorrectionThreshold is the exemplar count above which the raw count is
	// rescaled
	CorrectionThreshold = 1.8
)

// Model is the density regression model. Infer receives one CHW window of
// 3*WindowSize*WindowSize values, the stacked exemplar crops and their count,
// and returns WindowSize*WindowSize density values in row-major order.
type Model interface {
	Infer(ctx context.Context, window, exemplars []float32, numExemplars int) ([]float32, error)
}

// Result holds everything derived from one estimate
type Result struct {
	// Density is the stitched full-width density map
	Density *density.Map
	// Windows are the left edges of the windows that were run, in order
	Windows []int
	// Rects are the exemplar regions in density map coordinates
	Rects []types.Rect
	// RawCount is the density sum before exemplar correction
	RawCount float64
	// Correction is the exemplar self-consistency count
	Correction float64
	// Corrected reports whether RawCount was divided by Correction
	Corrected bool
	// Count is the final calibrated count
	Count int
}

// Estimator drives a Model over a preprocessed sample. It holds no state
// between calls.
type Estimator struct {
	model  Model
	logger *zap.SugaredLogger
}

// New returns an Estimator over model. A nil logger disables logging.
func New(model Model, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{model: model, logger: logger.Sugar()}
}

// WindowStarts lists the left edge of every window run over a map of the
// given width, in execution order
func WindowStarts(width int) []int {
	var starts []int
	start := 0
	for start+WindowSize-1 < width {
		starts = append(starts, start)
		start = nextStart(start, width)
	}
	return starts
}

// nextStart advances past a window at start. A window that would run past the
// right edge is pulled back flush against it, unless the stride already
// landed exactly one stride past the flush position; the returned start then
// fails the loop condition and windowing ends.
func nextStart(start, width int) int {
	start += Stride
	if start+WindowSize-1 >= width {
		if start == width-WindowSize+Stride {
			return start
		}
		start = width - WindowSize
	}
	return start
}

// Estimate runs the model over every window of the sample and calibrates the
// stitched density map. Any model failure, including a non-finite density
// value, aborts the whole estimate with types.ErrInference. A cancelled ctx
// returns ctx.Err() without an error kind.
func (e *Estimator) Estimate(ctx context.Context, s *preprocess.Sample) (*Result, error) {
	if s.Width < WindowSize {
		return nil, fmt.Errorf("%w: sample width %d is narrower than the model window %d",
			types.ErrInvalidInput, s.Width, WindowSize)
	}
	if s.Height != WindowSize {
		return nil, fmt.Errorf("%w: sample height %d, model expects %d",
			types.ErrInvalidInput, s.Height, WindowSize)
	}

	dm := density.New(s.Height, s.Width)
	res := &Result{Density: dm, Rects: s.Rects}

	start, prev := 0, -1
	for start+WindowSize-1 < s.Width {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("estimate stopped before column %d: %w", start, err)
		}

		e.logger.Debugw("running window", "start", start, "prev", prev, "width", s.Width)
		out, err := e.model.Infer(ctx, s.Tile(start, WindowSize), s.Exemplars, s.NumExemplars)
		if err != nil {
			return nil, fmt.Errorf("%w: window at column %d: %w", types.ErrInference, start, err)
		}
		if len(out) != WindowSize*WindowSize {
			return nil, fmt.Errorf("%w: window at column %d: model returned %d values, want %d",
				types.ErrInference, start, len(out), WindowSize*WindowSize)
		}
		if i := firstNonFinite(out); i >= 0 {
			return nil, fmt.Errorf("%w: window at column %d: non-finite density %v at row %d, column %d",
				types.ErrInference, start, out[i], i/WindowSize, i%WindowSize)
		}
		if err := dm.Blend(out, WindowSize, start, prev); err != nil {
			return nil, fmt.Errorf("%w: window at column %d: %w", types.ErrInference, start, err)
		}

		res.Windows = append(res.Windows, start)
		prev = start + WindowSize - 1
		start = nextStart(start, s.Width)
	}

	res.RawCount, res.Correction, res.Corrected, res.Count = Calibrate(dm, s.Rects)
	e.logger.Debugw("estimate complete",
		"windows", len(res.Windows),
		"raw", res.RawCount,
		"correction", res.Correction,
		"corrected", res.Corrected,
		"count", res.Count,
	)
	return res, nil
}

// Calibrate converts a density map into a count. The exemplar regions each
// hold one reference object; when their summed count is large enough to be
// trusted it rescales the whole-image count.
func Calibrate(dm *density.Map, rects []types.Rect) (raw, correction float64, corrected bool, count int) {
	raw = dm.Sum() / DensityScale
	for _, r := range rects {
		correction += dm.RegionSum(r) / DensityScale
	}
	correction /= ExemplarDivisor

	pred := raw
	if correction > CorrectionThreshold {
		pred /= correction
		corrected = true
	}

	count = int(math.Ceil(pred))
	if count < 0 {
		count = 0
	}
	return raw, correction, corrected, count
}

// firstNonFinite returns the index of the first NaN or infinite value, or -1
func firstNonFinite(values []float32) int {
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}
