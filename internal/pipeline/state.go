package pipeline

import (
	"fmt"
	"strings"

	"github.com/andresmejia3/shadescope/internal/scan"
	"github.com/andresmejia3/shadescope/internal/shade"
	"github.com/andresmejia3/shadescope/internal/types"
)

// State is everything a flow carries from one frame to the next. It is passed
// explicitly and touched only by the controlling goroutine.
type State struct {
	Landmarks  types.FaceLandmarks // latest detection, nil when no face
	Shade      shade.Entry
	Comparing  bool
	Session    *scan.Session
	Frames     int
	Detections int
}

// CompareMode is the argument of a compare command.
type CompareMode int

const (
	CompareToggle CompareMode = iota
	CompareOn
	CompareOff
)

// Command is a live control change for the preview flow.
type Command struct {
	Shade   string // set when the command selects a shade
	Compare *CompareMode
}

// ParseCommand reads one control line: "shade <name>" or
// "compare [on|off|toggle]".
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	switch strings.ToLower(fields[0]) {
	case "shade":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("usage: shade <name>")
		}
		return Command{Shade: fields[1]}, nil
	case "compare":
		mode := CompareToggle
		if len(fields) > 2 {
			return Command{}, fmt.Errorf("usage: compare [on|off|toggle]")
		}
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "on":
				mode = CompareOn
			case "off":
				mode = CompareOff
			case "toggle":
			default:
				return Command{}, fmt.Errorf("unknown compare mode %q", fields[1])
			}
		}
		return Command{Compare: &mode}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", fields[0])
}

// Apply updates the chosen shade or the comparison toggle. An unknown shade
// leaves the state unchanged.
func (s *State) Apply(cmd Command, table *shade.Table) error {
	if cmd.Shade != "" {
		entry, ok := table.Lookup(cmd.Shade)
		if !ok {
			return fmt.Errorf("%w: %s", shade.ErrNotFound, cmd.Shade)
		}
		s.Shade = entry
	}
	if cmd.Compare != nil {
		switch *cmd.Compare {
		case CompareOn:
			s.Comparing = true
		case CompareOff:
			s.Comparing = false
		default:
			s.Comparing = !s.Comparing
		}
	}
	return nil
}
