package region

import (
	"image"
	"image/draw"
	"math"

	"github.com/andresmejia3/shadescope/internal/types"
	"golang.org/x/image/vector"
)

// Mask is the anti-aliased coverage of a boundary polygon. Its bounds are the
// polygon's pixel bounding box in frame coordinates (frame origin at 0,0);
// a coverage value above zero means the pixel is inside.
type Mask struct {
	*image.Alpha
}

// NewMask rasterizes the closed polygon through boundary for a frame of the
// given size. It reports false for fewer than three points, a bounding box
// with no width or height, or one that leaves the frame.
func NewMask(boundary []types.LandmarkPoint, width, height int) (*Mask, bool) {
	if len(boundary) < 3 || width <= 0 || height <= 0 {
		return nil, false
	}

	xs := make([]float64, len(boundary))
	ys := make([]float64, len(boundary))
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i, p := range boundary {
		x, y := p.X*float64(width), p.Y*float64(height)
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return nil, false
		}
		xs[i], ys[i] = x, y
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}

	x0, y0 := int(math.Floor(minX)), int(math.Floor(minY))
	x1, y1 := int(math.Ceil(maxX)), int(math.Ceil(maxY))
	if x0 < 0 || y0 < 0 || x1 > width || y1 > height || x1-x0 <= 0 || y1-y0 <= 0 {
		return nil, false
	}
	bounds := image.Rect(x0, y0, x1, y1)

	// The rasterizer's origin is the bounding box corner.
	z := vector.NewRasterizer(bounds.Dx(), bounds.Dy())
	z.DrawOp = draw.Src
	z.MoveTo(float32(xs[0]-float64(x0)), float32(ys[0]-float64(y0)))
	for i := 1; i < len(xs); i++ {
		z.LineTo(float32(xs[i]-float64(x0)), float32(ys[i]-float64(y0)))
	}
	z.ClosePath()

	alpha := image.NewAlpha(bounds)
	z.Draw(alpha, bounds, image.Opaque, image.Point{})
	return &Mask{Alpha: alpha}, true
}

// Coverage returns the mask value at frame coordinates (x, y), 0 outside the box.
func (m *Mask) Coverage(x, y int) uint8 {
	if !(image.Point{X: x, Y: y}).In(m.Rect) {
		return 0
	}
	return m.Pix[(y-m.Rect.Min.Y)*m.Stride+(x-m.Rect.Min.X)]
}

// Area counts the pixels with non-zero coverage.
func (m *Mask) Area() int {
	n := 0
	for _, a := range m.Pix {
		if a > 0 {
			n++
		}
	}
	return n
}
