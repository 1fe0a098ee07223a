// Package region locates the visible-teeth area from face landmarks and
// samples its color.
package region

import (
	"math"

	"github.com/andresmejia3/shadescope/internal/types"
)

// FaceMesh landmark indices of the inner lip contour. The upper arc runs from
// the left mouth corner (78) to the right one (308); the lower arc runs back,
// so walking upper then lower gives one closed, non-self-intersecting loop.
var (
	UpperInnerLip = []int{78, 191, 80, 81, 82, 13, 312, 311, 310, 415, 308}
	LowerInnerLip = []int{308, 324, 318, 402, 317, 14, 87, 178, 88, 95, 78}
)

// Centers of the upper and lower inner lip, used for the mouth-open signal.
const (
	UpperLipCenter = 13
	LowerLipCenter = 14
)

// Boundary picks the inner-mouth polygon out of a full landmark set.
// It reports false when the set is too short to contain every index.
func Boundary(lm types.FaceLandmarks) ([]types.LandmarkPoint, bool) {
	points := make([]types.LandmarkPoint, 0, len(UpperInnerLip)+len(LowerInnerLip))
	for _, arc := range [][]int{UpperInnerLip, LowerInnerLip} {
		for _, idx := range arc {
			if idx >= len(lm) {
				return nil, false
			}
			points = append(points, lm[idx])
		}
	}
	return points, true
}

// MouthOpening is the vertical gap between the inner lip centers in
// normalized units.
func MouthOpening(lm types.FaceLandmarks) (float64, bool) {
	if UpperLipCenter >= len(lm) || LowerLipCenter >= len(lm) {
		return 0, false
	}
	return math.Abs(lm[UpperLipCenter].Y - lm[LowerLipCenter].Y), true
}

// Centroid returns the arithmetic mean of the points.
func Centroid(points []types.LandmarkPoint) types.LandmarkPoint {
	if len(points) == 0 {
		return types.LandmarkPoint{}
	}
	var cx, cy float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(points))
	return types.LandmarkPoint{X: cx / n, Y: cy / n}
}

// Shrink scales the polygon toward its centroid. A factor of 1 returns an
// unchanged copy.
func Shrink(points []types.LandmarkPoint, factor float64) []types.LandmarkPoint {
	c := Centroid(points)
	out := make([]types.LandmarkPoint, len(points))
	for i, p := range points {
		out[i] = types.LandmarkPoint{
			X: c.X + (p.X-c.X)*factor,
			Y: c.Y + (p.Y-c.Y)*factor,
		}
	}
	return out
}
