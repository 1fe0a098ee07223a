package shade

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Result is the match of one color sample against the table.
type Result struct {
	Name     string  `json:"shade"`
	Color    RGB     `json:"rgb"`
	Distance float64 `json:"distance"`
}

// Classify returns the entry nearest to sample by Euclidean distance in RGB.
// Entries are visited in enumeration order and ties keep the earlier entry.
func (t *Table) Classify(sample RGB) Result {
	s := sample.Vector()
	best := 0
	bestDist := math.Inf(1)
	for i, ref := range t.vectors {
		// L2 norm of the channel differences.
		d := floats.Distance(s, ref, 2)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return Result{
		Name:     t.entries[best].Name,
		Color:    t.entries[best].Color,
		Distance: bestDist,
	}
}

// Distance is the Euclidean RGB distance between two colors.
func Distance(a, b RGB) float64 {
	return floats.Distance(a.Vector(), b.Vector(), 2)
}
