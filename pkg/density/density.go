// Package density stores the full-width density map assembled from model
// tiles and answers region sums over it.
package density

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tamnguyenvan/vision-counter/pkg/types"
)

// Map is a single channel density map. Cells are laid out row-major, one row
// per normalized image row.
type Map struct {
	data   *mat.Dense
	height int
	width  int
}

// New returns a zeroed density map
func New(height, width int) *Map {
	return &Map{
		data:   mat.NewDense(height, width, nil),
		height: height,
		width:  width,
	}
}

// Dims returns the height and width of the map
func (m *Map) Dims() (int, int) {
	return m.height, m.width
}

// At returns the density value at row y, column x
func (m *Map) At(y, x int) float64 {
	return m.data.At(y, x)
}

// Row returns a copy of row y
func (m *Map) Row(y int) []float64 {
	return mat.Row(nil, y, m.data)
}

// Blend merges a tile whose left edge is at column start into the map.
// prev is the last column written by the previous tile, or -1 if there is
// none. Columns [start, prev] already hold the previous prediction and become
// the average of old and new; columns (prev, start+tileWidth) take the new
// tile unchanged; every other column is left alone.
func (m *Map) Blend(tile []float32, tileWidth, start, prev int) error {
	if len(tile) != m.height*tileWidth {
		return fmt.Errorf("density tile has %d values, want %dx%d", len(tile), m.height, tileWidth)
	}
	if start < 0 || start+tileWidth > m.width {
		return fmt.Errorf("density tile at column %d overruns map width %d", start, m.width)
	}
	if prev >= start+tileWidth {
		return fmt.Errorf("previous tile end %d lies past new tile end %d", prev, start+tileWidth-1)
	}

	values := make([]float64, len(tile))
	for i, v := range tile {
		values[i] = float64(v)
	}
	t := mat.NewDense(m.height, tileWidth, values)

	overlap := prev - start + 1
	if overlap < 0 {
		overlap = 0
	}
	if overlap > 0 {
		old := m.data.Slice(0, m.height, start, prev+1).(*mat.Dense)
		var sum mat.Dense
		sum.Add(old, t.Slice(0, m.height, 0, overlap))
		old.Scale(0.5, &sum)
	}
	if overlap < tileWidth {
		fresh := m.data.Slice(0, m.height, start+overlap, start+tileWidth).(*mat.Dense)
		fresh.Add(fresh, t.Slice(0, m.height, overlap, tileWidth))
	}
	return nil
}

// Sum returns the sum over the whole map
func (m *Map) Sum() float64 {
	return mat.Sum(m.data)
}

// RegionSum returns the sum over an inclusive rectangle. Bounds past the map
// edges are clipped; an empty intersection sums to zero.
func (m *Map) RegionSum(r types.Rect) float64 {
	y1, x1 := max(r.Y1, 0), max(r.X1, 0)
	y2, x2 := min(r.Y2+1, m.height), min(r.X2+1, m.width)
	if y1 >= y2 || x1 >= x2 {
		return 0
	}
	return mat.Sum(m.data.Slice(y1, y2, x1, x2))
}
