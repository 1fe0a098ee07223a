package shade

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/shadescope/internal/types"
	"gopkg.in/yaml.v3"
)

//go:embed shades.yaml
var defaultYAML []byte

// RGB is the color type shared with region extraction.
type RGB = types.RGB

// Entry is one shade of the reference scale together with the overlay tuning
// used when previewing it.
type Entry struct {
	Name    string  `yaml:"name" json:"name"`
	Color   RGB     `yaml:"rgb" json:"rgb"`
	Opacity float64 `yaml:"opacity" json:"opacity"`
	Paint   *RGB    `yaml:"paint,omitempty" json:"paint,omitempty"`
	Gloss   float64 `yaml:"gloss,omitempty" json:"gloss,omitempty"`
}

// DefaultOpacity is the fill alpha given to entries that omit opacity.
const DefaultOpacity = 0.45

// UnmarshalYAML decodes an entry, defaulting a missing opacity to DefaultOpacity.
func (e *Entry) UnmarshalYAML(node *yaml.Node) error {
	type plain Entry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = Entry(p)
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "opacity" {
			return nil
		}
	}
	e.Opacity = DefaultOpacity
	return nil
}

// FillColor is the color painted over the mouth region when previewing this shade.
func (e Entry) FillColor() RGB {
	if e.Paint != nil {
		return *e.Paint
	}
	return e.Color
}

var (
	// ErrNotFound reports a shade name that is not in the table.
	ErrNotFound = errors.New("shade not found")
	// ErrInvalidTable reports a reference table that failed validation.
	ErrInvalidTable = errors.New("invalid shade table")
)

// Table is the immutable shade reference table. Entries keep their document
// order, which is the order the classifier walks; All returns the separate
// display order.
type Table struct {
	entries []Entry
	vectors [][]float64
	index   map[string]int
	display []int
}

type tableDoc struct {
	Display []string `yaml:"display"`
	Shades  []Entry  `yaml:"shades"`
}

var defaultTable *Table

func init() {
	t, err := Load(defaultYAML)
	if err != nil {
		panic("failed to load embedded shades.yaml: " + err.Error())
	}
	defaultTable = t
}

// Default returns the embedded VITA classical table.
func Default() *Table {
	return defaultTable
}

// LoadFile reads a replacement table from a YAML file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shade table: %w", err)
	}
	return Load(data)
}

// Load parses and validates a YAML shade table.
func Load(data []byte) (*Table, error) {
	var doc tableDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if len(doc.Shades) == 0 {
		return nil, fmt.Errorf("%w: no shades defined", ErrInvalidTable)
	}

	t := &Table{
		entries: doc.Shades,
		vectors: make([][]float64, len(doc.Shades)),
		index:   make(map[string]int, len(doc.Shades)),
	}
	for i, e := range doc.Shades {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: shade %d has no name", ErrInvalidTable, i)
		}
		if _, dup := t.index[e.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate shade %q", ErrInvalidTable, e.Name)
		}
		if e.Opacity < 0 || e.Opacity > 1 || e.Gloss < 0 || e.Gloss > 1 {
			return nil, fmt.Errorf("%w: shade %q opacity and gloss must be within [0,1]", ErrInvalidTable, e.Name)
		}
		t.index[e.Name] = i
		t.vectors[i] = e.Color.Vector()
	}

	// Without an explicit display order, fall back to document order.
	if len(doc.Display) == 0 {
		for i := range doc.Shades {
			t.display = append(t.display, i)
		}
		return t, nil
	}

	seen := make(map[string]bool, len(doc.Display))
	for _, name := range doc.Display {
		i, ok := t.index[name]
		if !ok {
			return nil, fmt.Errorf("%w: display order names unknown shade %q", ErrInvalidTable, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: display order repeats %q", ErrInvalidTable, name)
		}
		seen[name] = true
		t.display = append(t.display, i)
	}
	if len(t.display) != len(t.entries) {
		return nil, fmt.Errorf("%w: display order lists %d of %d shades", ErrInvalidTable, len(t.display), len(t.entries))
	}
	return t, nil
}

// Lookup returns the entry with the given name. An exact match wins; otherwise
// names are compared case-insensitively.
func (t *Table) Lookup(name string) (Entry, bool) {
	if i, ok := t.index[name]; ok {
		return t.entries[i], true
	}
	for _, e := range t.entries {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return Entry{}, false
}

// All returns the entries in display order.
func (t *Table) All() []Entry {
	out := make([]Entry, len(t.display))
	for i, idx := range t.display {
		out[i] = t.entries[idx]
	}
	return out
}

// Entries returns the entries in enumeration (classification) order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Names returns the shade names in display order.
func (t *Table) Names() []string {
	names := make([]string, len(t.display))
	for i, idx := range t.display {
		names[i] = t.entries[idx].Name
	}
	return names
}

// Len reports the number of shades.
func (t *Table) Len() int {
	return len(t.entries)
}
