package region

import (
	"image"
	"math"

	"github.com/andresmejia3/shadescope/internal/types"
)

// ExtractColor averages the frame pixels covered by the boundary polygon.
// It reports false (no sample) when the polygon is degenerate, leaves the
// frame, or covers no pixel.
func ExtractColor(frame image.Image, boundary []types.LandmarkPoint) (types.RGB, bool) {
	fb := frame.Bounds()
	mask, ok := NewMask(boundary, fb.Dx(), fb.Dy())
	if !ok {
		return types.RGB{}, false
	}
	return MeanColor(frame, mask)
}

// MeanColor averages the frame pixels where mask coverage is non-zero.
// Mask coordinates are relative to the frame's top-left corner.
func MeanColor(frame image.Image, mask *Mask) (types.RGB, bool) {
	fb := frame.Bounds()
	var r, g, b, count uint64

	switch f := frame.(type) {
	case *image.RGBA:
		// Read straight from the pixel buffer; this runs once per frame.
		for y := mask.Rect.Min.Y; y < mask.Rect.Max.Y; y++ {
			maskRow := mask.Pix[(y-mask.Rect.Min.Y)*mask.Stride:]
			rowStart := f.PixOffset(fb.Min.X+mask.Rect.Min.X, fb.Min.Y+y)
			for x := 0; x < mask.Rect.Dx(); x++ {
				if maskRow[x] == 0 {
					continue
				}
				off := rowStart + x*4
				r += uint64(f.Pix[off])
				g += uint64(f.Pix[off+1])
				b += uint64(f.Pix[off+2])
				count++
			}
		}
	default:
		for y := mask.Rect.Min.Y; y < mask.Rect.Max.Y; y++ {
			for x := mask.Rect.Min.X; x < mask.Rect.Max.X; x++ {
				if mask.Coverage(x, y) == 0 {
					continue
				}
				cr, cg, cb, _ := frame.At(fb.Min.X+x, fb.Min.Y+y).RGBA()
				r += uint64(cr >> 8)
				g += uint64(cg >> 8)
				b += uint64(cb >> 8)
				count++
			}
		}
	}

	if count == 0 {
		return types.RGB{}, false
	}
	return types.RGB{roundMean(r, count), roundMean(g, count), roundMean(b, count)}, true
}

func roundMean(sum, count uint64) uint8 {
	return uint8(math.Round(float64(sum) / float64(count)))
}
