// Package scan turns a stream of per-frame shade classifications into one
// stable decision.
package scan

import (
	"time"

	"github.com/andresmejia3/shadescope/internal/shade"
	"github.com/andresmejia3/shadescope/internal/types"
	"github.com/google/uuid"
)

// State of a scan session.
type State int

const (
	Idle State = iota
	Scanning
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Finalizing:
		return "finalizing"
	}
	return "unknown"
}

// DefaultDuration matches 50 progress steps of 60ms.
const DefaultDuration = 3 * time.Second

// Finalized is the single outcome of a completed scan.
type Finalized struct {
	Name      string         `json:"shade"`
	Color     types.RGB      `json:"rgb"`
	Samples   int            `json:"samples"`
	Skipped   int            `json:"skipped"`
	Votes     map[string]int `json:"votes,omitempty"`
	Fallback  bool           `json:"fallback"`
	SessionID string         `json:"session_id,omitempty"`
}

// Options configures a Session.
type Options struct {
	// Duration of the active scan window in wall-clock time.
	Duration time.Duration
	// Fallback is reported when the window closes without a single sample.
	Fallback shade.Entry
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Session accumulates classifications over one fixed-duration scan.
// It is owned by a single goroutine and is not safe for concurrent use.
type Session struct {
	opts     Options
	id       uuid.UUID
	state    State
	started  time.Time
	progress int
	results  []shade.Result
	skipped  int
}

// NewSession returns an idle session.
func NewSession(opts Options) *Session {
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{opts: opts}
}

func (s *Session) State() State  { return s.state }
func (s *Session) ID() uuid.UUID { return s.id }

// Start moves an idle session into Scanning and clears the accumulator.
// It reports false if a scan is already running.
func (s *Session) Start() bool {
	if s.state != Idle {
		return false
	}
	s.id = uuid.New()
	s.state = Scanning
	s.started = s.opts.Now()
	s.progress = 0
	s.results = s.results[:0]
	s.skipped = 0
	return true
}

// Add records one successful classification. Ignored unless scanning.
func (s *Session) Add(r shade.Result) {
	if s.state != Scanning {
		return
	}
	s.results = append(s.results, r)
}

// Skip records a frame that produced no sample.
func (s *Session) Skip() {
	if s.state != Scanning {
		return
	}
	s.skipped++
}

// Samples is the number of classifications gathered so far.
func (s *Session) Samples() int { return len(s.results) }

// Progress is the completed fraction of the scan window in percent. It never
// decreases during a scan and saturates at 100.
func (s *Session) Progress() int {
	if s.state != Scanning {
		return s.progress
	}
	elapsed := s.opts.Now().Sub(s.started)
	p := int(elapsed * 100 / s.opts.Duration)
	if p > 100 {
		p = 100
	}
	if p > s.progress {
		s.progress = p
	}
	return s.progress
}

// Tick advances progress and finalizes once the window has elapsed.
func (s *Session) Tick() (Finalized, bool) {
	if s.state != Scanning || s.Progress() < 100 {
		return Finalized{}, false
	}
	return s.Finalize(), true
}

// Finalize closes the window early or on completion, votes, and returns
// the session to Idle.
func (s *Session) Finalize() Finalized {
	s.state = Finalizing
	res := Vote(s.results, s.opts.Fallback)
	res.Skipped = s.skipped
	res.SessionID = s.id.String()
	s.progress = 100
	s.results = s.results[:0]
	s.state = Idle
	return res
}

// Vote picks the most frequent shade name. Ties go to the name seen first.
// With no results the fallback entry is returned.
func Vote(results []shade.Result, fallback shade.Entry) Finalized {
	if len(results) == 0 {
		return Finalized{Name: fallback.Name, Color: fallback.Color, Fallback: true}
	}

	counts := make(map[string]int)
	colors := make(map[string]types.RGB)
	var order []string
	for _, r := range results {
		if _, seen := counts[r.Name]; !seen {
			order = append(order, r.Name)
			colors[r.Name] = r.Color
		}
		counts[r.Name]++
	}

	best := order[0]
	for _, name := range order[1:] {
		if counts[name] > counts[best] {
			best = name
		}
	}
	return Finalized{
		Name:    best,
		Color:   colors[best],
		Samples: len(results),
		Votes:   counts,
	}
}
