// Package overlay renders the whitening preview over live frames.
package overlay

import (
	"image"
	"image/color"
	"math"

	"github.com/andresmejia3/shadescope/internal/region"
	"github.com/andresmejia3/shadescope/internal/shade"
	"github.com/andresmejia3/shadescope/internal/types"
	"golang.org/x/image/draw"
)

// Options tunes the tooth-base adjustment applied before tinting.
type Options struct {
	// Shrink pulls the mask toward its centroid so the tint stays off the lips.
	Shrink float64
	// Brightness multiplies every channel (CSS brightness()).
	Brightness float64
	// Saturation is the CSS saturate() amount; 1 leaves color unchanged.
	Saturation float64
}

// DefaultOptions are the values the preview was tuned with.
func DefaultOptions() Options {
	return Options{Shrink: 0.88, Brightness: 1.5, Saturation: 0.6}
}

// Renderer composites the preview. It holds no per-frame state; the chosen
// shade and the comparison toggle are passed on every call.
type Renderer struct {
	opts   Options
	matrix [3][3]float64
}

// New returns a renderer with the given tuning.
func New(opts Options) *Renderer {
	if opts.Shrink <= 0 {
		opts.Shrink = 1
	}
	return &Renderer{opts: opts, matrix: saturateMatrix(opts.Saturation)}
}

// Render returns a new frame with the preview for entry composited inside
// the mouth polygon. With comparing set, or without a usable polygon, the
// copy is pixel-identical to frame.
func (r *Renderer) Render(frame *image.RGBA, boundary []types.LandmarkPoint, entry shade.Entry, comparing bool) *image.RGBA {
	out := image.NewRGBA(frame.Bounds())
	draw.Draw(out, out.Bounds(), frame, frame.Bounds().Min, draw.Src)
	if comparing || len(boundary) == 0 {
		return out
	}
	r.Apply(out, boundary, entry)
	return out
}

// Apply composites the preview into dst in place. It reports false when the
// polygon produced no mask, in which case dst is untouched.
func (r *Renderer) Apply(dst *image.RGBA, boundary []types.LandmarkPoint, entry shade.Entry) bool {
	b := dst.Bounds()
	mask, ok := region.NewMask(region.Shrink(boundary, r.opts.Shrink), b.Dx(), b.Dy())
	if !ok {
		return false
	}
	rect := mask.Rect.Add(b.Min)

	// 1. Brighten and desaturate the tooth base.
	r.adjust(dst, mask, b.Min)

	// 2. Translucent tint of the target shade.
	fill := entry.FillColor()
	tint := image.NewUniform(color.NRGBA{R: fill.R(), G: fill.G(), B: fill.B(), A: alpha(entry.Opacity)})
	draw.DrawMask(dst, rect, tint, image.Point{}, mask.Alpha, mask.Rect.Min, draw.Over)

	// 3. Gloss: screen with white equals painting white at the same alpha.
	if entry.Gloss > 0 {
		gloss := image.NewUniform(color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: alpha(entry.Gloss)})
		draw.DrawMask(dst, rect, gloss, image.Point{}, mask.Alpha, mask.Rect.Min, draw.Over)
	}
	return true
}

// adjust applies brightness then saturation to covered pixels, weighted by
// coverage so the mask edge stays soft.
func (r *Renderer) adjust(dst *image.RGBA, mask *region.Mask, origin image.Point) {
	m := &r.matrix
	for y := mask.Rect.Min.Y; y < mask.Rect.Max.Y; y++ {
		maskRow := mask.Pix[(y-mask.Rect.Min.Y)*mask.Stride:]
		rowStart := dst.PixOffset(origin.X+mask.Rect.Min.X, origin.Y+y)
		for x := 0; x < mask.Rect.Dx(); x++ {
			cov := maskRow[x]
			if cov == 0 {
				continue
			}
			off := rowStart + x*4
			p := dst.Pix[off : off+3 : off+3]

			br := clamp(float64(p[0]) * r.opts.Brightness)
			bg := clamp(float64(p[1]) * r.opts.Brightness)
			bb := clamp(float64(p[2]) * r.opts.Brightness)

			w := float64(cov) / 0xff
			for c := 0; c < 3; c++ {
				v := clamp(m[c][0]*br + m[c][1]*bg + m[c][2]*bb)
				p[c] = uint8(math.Round(float64(p[c])*(1-w) + v*w))
			}
		}
	}
}

// saturateMatrix is the CSS Filter Effects saturate() color matrix.
func saturateMatrix(s float64) [3][3]float64 {
	return [3][3]float64{
		{0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s},
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(255, v))
}

func alpha(opacity float64) uint8 {
	return uint8(math.Round(clamp(opacity*0xff)))
}
