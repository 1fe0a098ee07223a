package types

import "fmt"

// LandmarkPoint is one face landmark in normalized image coordinates:
// X and Y are fractions of the frame width and height.
type LandmarkPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FaceLandmarks is the fixed-size, ordered landmark set of a single face
// as produced by the engine (468 or 478 points for FaceMesh).
type FaceLandmarks []LandmarkPoint

// RGB is an 8-bit sRGB triple in red, green, blue order. It is the color
// sample produced by region extraction and the reference color of a shade.
type RGB [3]uint8

func (c RGB) R() uint8 { return c[0] }
func (c RGB) G() uint8 { return c[1] }
func (c RGB) B() uint8 { return c[2] }

// Hex formats the color as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

func (c RGB) String() string {
	return fmt.Sprintf("[%d,%d,%d]", c[0], c[1], c[2])
}

// Vector returns the channels as floats for distance computations.
func (c RGB) Vector() []float64 {
	return []float64{float64(c[0]), float64(c[1]), float64(c[2])}
}
