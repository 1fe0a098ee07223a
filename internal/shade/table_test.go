package shade

import (
	"errors"
	"reflect"
	"testing"
)

func TestDefaultTable(t *testing.T) {
	tbl := Default()
	if tbl.Len() != 16 {
		t.Fatalf("Expected 16 shades, got %d", tbl.Len())
	}

	wantDisplay := []string{"B1", "A1", "B2", "D2", "A2", "C1", "C2", "D4", "A3", "D3", "B3", "A3.5", "B4", "C3", "A4", "C4"}
	if got := tbl.Names(); !reflect.DeepEqual(got, wantDisplay) {
		t.Errorf("Display order = %v, want %v", got, wantDisplay)
	}

	// Enumeration order is the document order, not the display order.
	if first := tbl.Entries()[0].Name; first != "A1" {
		t.Errorf("Expected enumeration to start at A1, got %s", first)
	}

	a2, ok := tbl.Lookup("A2")
	if !ok {
		t.Fatal("A2 missing from default table")
	}
	if a2.Color != (RGB{233, 220, 190}) {
		t.Errorf("A2 color = %v, want [233,220,190]", a2.Color)
	}

	if _, ok := tbl.Lookup("Z9"); ok {
		t.Error("Lookup of unknown shade succeeded")
	}
	if e, ok := tbl.Lookup("a3.5"); !ok || e.Name != "A3.5" {
		t.Errorf("Expected case-insensitive lookup to find A3.5, got %q (%v)", e.Name, ok)
	}
}

func TestFillColor(t *testing.T) {
	tbl := Default()
	tests := []struct {
		name    string
		paint   RGB
		opacity float64
		gloss   float64
	}{
		{name: "B1", paint: RGB{255, 255, 255}, opacity: 0.40, gloss: 0.30},
		{name: "C4", paint: RGB{93, 64, 55}, opacity: 0.60},
		{name: "A3", paint: RGB{227, 212, 180}, opacity: 0.45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := tbl.Lookup(tt.name)
			if !ok {
				t.Fatalf("%s missing", tt.name)
			}
			if e.FillColor() != tt.paint {
				t.Errorf("FillColor() = %v, want %v", e.FillColor(), tt.paint)
			}
			if e.Opacity != tt.opacity {
				t.Errorf("Opacity = %v, want %v", e.Opacity, tt.opacity)
			}
			if e.Gloss != tt.gloss {
				t.Errorf("Gloss = %v, want %v", e.Gloss, tt.gloss)
			}
		})
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty", doc: "shades: []"},
		{name: "duplicate", doc: "shades:\n  - {name: A1, rgb: [1,2,3]}\n  - {name: A1, rgb: [1,2,3]}"},
		{name: "unnamed", doc: "shades:\n  - {rgb: [1,2,3]}"},
		{name: "opacity out of range", doc: "shades:\n  - {name: A1, rgb: [1,2,3], opacity: 1.5}"},
		{name: "unknown display name", doc: "display: [X]\nshades:\n  - {name: A1, rgb: [1,2,3]}"},
		{name: "incomplete display", doc: "display: [A1]\nshades:\n  - {name: A1, rgb: [1,2,3]}\n  - {name: A2, rgb: [1,2,3]}"},
		{name: "channel overflow", doc: "shades:\n  - {name: A1, rgb: [300,2,3]}"},
		{name: "malformed", doc: "shades: {"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc))
			if !errors.Is(err, ErrInvalidTable) {
				t.Errorf("Expected ErrInvalidTable, got %v", err)
			}
		})
	}
}

func TestLoadWithoutDisplayOrder(t *testing.T) {
	tbl, err := Load([]byte("shades:\n  - {name: X, rgb: [1,2,3]}\n  - {name: Y, rgb: [4,5,6]}"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := tbl.Names(); !reflect.DeepEqual(got, []string{"X", "Y"}) {
		t.Errorf("Names() = %v, want [X Y]", got)
	}
}

func TestLoadOpacityDefault(t *testing.T) {
	tbl, err := Load([]byte("shades:\n  - {name: X, rgb: [1,2,3]}\n  - {name: Y, rgb: [4,5,6], opacity: 0}"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	tests := []struct {
		name string
		want float64
	}{
		{name: "X", want: DefaultOpacity},
		{name: "Y", want: 0},
	}
	for _, tt := range tests {
		e, _ := tbl.Lookup(tt.name)
		if e.Opacity != tt.want {
			t.Errorf("%s: Opacity = %v, want %v", tt.name, e.Opacity, tt.want)
		}
	}
}

func TestHex(t *testing.T) {
	if got := (RGB{233, 220, 190}).Hex(); got != "#e9dcbe" {
		t.Errorf("Hex() = %s, want #e9dcbe", got)
	}
}
