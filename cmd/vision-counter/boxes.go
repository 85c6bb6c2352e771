package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/tamnguyenvan/vision-counter/pkg/types"
)

// parseBoxes reads x1,y1,x2,y2 groups. The flag library may already have
// split the values on commas, so everything is flattened and regrouped.
func parseBoxes(values []string) ([]types.ExemplarBox, error) {
	fields := lo.Filter(
		lo.Map(strings.Split(strings.Join(values, ","), ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		}),
		func(s string, _ int) bool { return s != "" },
	)
	if len(fields)%4 != 0 {
		return nil, fmt.Errorf("%w: boxes need four coordinates x1,y1,x2,y2, got %d values",
			types.ErrInvalidInput, len(fields))
	}

	boxes := make([]types.ExemplarBox, 0, len(fields)/4)
	for _, group := range lo.Chunk(fields, 4) {
		var coords [4]int
		for i, f := range group {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("%w: box coordinate %q is not an integer", types.ErrInvalidInput, f)
			}
			coords[i] = v
		}
		boxes = append(boxes, types.ExemplarBox{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]})
	}
	return boxes, nil
}
