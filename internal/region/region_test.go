package region

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/andresmejia3/shadescope/internal/types"
)

// square returns a normalized axis-aligned square polygon.
func square(x0, y0, x1, y1 float64) []types.LandmarkPoint {
	return []types.LandmarkPoint{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

func fill(img *image.RGBA, c color.RGBA) {
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		for x := img.Rect.Min.X; x < img.Rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func TestBoundary(t *testing.T) {
	lm := make(types.FaceLandmarks, 478)
	for i := range lm {
		lm[i] = types.LandmarkPoint{X: float64(i) / 1000, Y: float64(i) / 2000}
	}

	points, ok := Boundary(lm)
	if !ok {
		t.Fatal("Expected boundary from a full landmark set")
	}
	if len(points) != len(UpperInnerLip)+len(LowerInnerLip) {
		t.Fatalf("Expected %d points, got %d", len(UpperInnerLip)+len(LowerInnerLip), len(points))
	}
	if points[0] != lm[78] || points[len(points)-1] != lm[78] {
		t.Errorf("Loop should start and end at the left mouth corner")
	}
	if points[len(UpperInnerLip)] != lm[308] {
		t.Errorf("Lower arc should start at the right mouth corner")
	}

	if _, ok := Boundary(lm[:300]); ok {
		t.Error("Expected failure for a truncated landmark set")
	}
}

func TestMouthOpening(t *testing.T) {
	lm := make(types.FaceLandmarks, 20)
	lm[UpperLipCenter] = types.LandmarkPoint{X: 0.5, Y: 0.60}
	lm[LowerLipCenter] = types.LandmarkPoint{X: 0.5, Y: 0.65}

	got, ok := MouthOpening(lm)
	if !ok || math.Abs(got-0.05) > 1e-9 {
		t.Errorf("MouthOpening() = %v, %v; want 0.05, true", got, ok)
	}
	if _, ok := MouthOpening(lm[:10]); ok {
		t.Error("Expected failure without lip center landmarks")
	}
}

func TestShrink(t *testing.T) {
	got := Shrink(square(0.2, 0.2, 0.6, 0.6), 0.5)
	want := square(0.3, 0.3, 0.5, 0.5)
	for i := range want {
		if math.Abs(got[i].X-want[i].X) > 1e-9 || math.Abs(got[i].Y-want[i].Y) > 1e-9 {
			t.Errorf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestNewMask(t *testing.T) {
	m, ok := NewMask(square(0.1, 0.1, 0.3, 0.3), 100, 100)
	if !ok {
		t.Fatal("Expected a mask for a square inside the frame")
	}
	if m.Rect != image.Rect(10, 10, 30, 30) {
		t.Errorf("Mask bounds = %v, want (10,10)-(30,30)", m.Rect)
	}
	if m.Area() != 400 {
		t.Errorf("Expected 400 covered pixels, got %d", m.Area())
	}
	if m.Coverage(15, 15) != 0xff {
		t.Errorf("Expected full coverage inside, got %d", m.Coverage(15, 15))
	}
	if m.Coverage(50, 50) != 0 {
		t.Error("Expected zero coverage outside the box")
	}
}

func TestNewMaskDegenerate(t *testing.T) {
	tests := []struct {
		name   string
		points []types.LandmarkPoint
	}{
		{name: "too few points", points: []types.LandmarkPoint{{X: 0.1, Y: 0.1}, {X: 0.2, Y: 0.2}}},
		{name: "collapsed to a point", points: square(0.5, 0.5, 0.5, 0.5)},
		{name: "zero height", points: square(0.2, 0.5, 0.8, 0.5)},
		{name: "left of frame", points: square(-0.1, 0.2, 0.3, 0.4)},
		{name: "below frame", points: square(0.2, 0.8, 0.4, 1.2)},
		{name: "NaN", points: square(math.NaN(), 0.2, 0.3, 0.4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := NewMask(tt.points, 100, 100); ok {
				t.Error("Expected no mask")
			}
		})
	}
}

func TestExtractColorUniform(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 120, 80))
	fill(frame, color.RGBA{235, 228, 205, 255})

	got, ok := ExtractColor(frame, square(0.25, 0.25, 0.75, 0.75))
	if !ok {
		t.Fatal("Expected a sample")
	}
	if got != (types.RGB{235, 228, 205}) {
		t.Errorf("ExtractColor() = %v, want [235,228,205]", got)
	}
}

func TestExtractColorMasksOutside(t *testing.T) {
	// A triangle in the top-left half of its bounding box: the bottom-right
	// half of the box is painted black and must not be sampled.
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			c := color.RGBA{200, 180, 160, 255}
			if x+y > 100 {
				c = color.RGBA{0, 0, 0, 255}
			}
			frame.SetRGBA(x, y, c)
		}
	}
	tri := []types.LandmarkPoint{{X: 0.1, Y: 0.1}, {X: 0.8, Y: 0.1}, {X: 0.1, Y: 0.8}}

	got, ok := ExtractColor(frame, tri)
	if !ok {
		t.Fatal("Expected a sample")
	}
	if got != (types.RGB{200, 180, 160}) {
		t.Errorf("ExtractColor() = %v, want [200,180,160]", got)
	}
}

func TestExtractColorAverages(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if x < 50 {
				frame.SetRGBA(x, y, color.RGBA{200, 0, 0, 255})
			} else {
				frame.SetRGBA(x, y, color.RGBA{0, 0, 100, 255})
			}
		}
	}

	got, ok := ExtractColor(frame, square(0.4, 0.4, 0.6, 0.6))
	if !ok {
		t.Fatal("Expected a sample")
	}
	if got != (types.RGB{100, 0, 50}) {
		t.Errorf("ExtractColor() = %v, want [100,0,50]", got)
	}
}

func TestExtractColorSubImage(t *testing.T) {
	big := image.NewRGBA(image.Rect(0, 0, 300, 300))
	fill(big, color.RGBA{10, 10, 10, 255})
	inner := big.SubImage(image.Rect(100, 100, 200, 200)).(*image.RGBA)
	fill(inner, color.RGBA{220, 220, 210, 255})

	got, ok := ExtractColor(inner, square(0.1, 0.1, 0.9, 0.9))
	if !ok {
		t.Fatal("Expected a sample")
	}
	if got != (types.RGB{220, 220, 210}) {
		t.Errorf("ExtractColor() = %v, want [220,220,210]", got)
	}
}

func TestExtractColorGenericImage(t *testing.T) {
	frame := image.NewNRGBA(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			frame.SetNRGBA(x, y, color.NRGBA{233, 220, 190, 255})
		}
	}

	got, ok := ExtractColor(frame, square(0.2, 0.2, 0.8, 0.8))
	if !ok || got != (types.RGB{233, 220, 190}) {
		t.Errorf("ExtractColor() = %v, %v; want [233,220,190], true", got, ok)
	}
}

func TestExtractColorDegenerate(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	fill(frame, color.RGBA{235, 228, 205, 255})

	tests := []struct {
		name   string
		points []types.LandmarkPoint
	}{
		{name: "collapsed", points: square(0.5, 0.5, 0.5, 0.5)},
		{name: "outside frame", points: square(1.1, 1.1, 1.3, 1.3)},
		// An out-and-back path encloses no area, so no pixel is covered.
		{name: "zero area", points: []types.LandmarkPoint{{X: 0.1, Y: 0.1}, {X: 0.9, Y: 0.9}, {X: 0.1, Y: 0.1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := ExtractColor(frame, tt.points); ok {
				t.Errorf("Expected no sample, got %v", got)
			}
		})
	}
}
