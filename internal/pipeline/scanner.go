package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/andresmejia3/shadescope/internal/camera"
	"github.com/andresmejia3/shadescope/internal/region"
	"github.com/andresmejia3/shadescope/internal/scan"
	"github.com/andresmejia3/shadescope/internal/shade"
	"github.com/andresmejia3/shadescope/internal/worker"
	"golang.org/x/sync/errgroup"
)

var (
	ErrStreamEnded  = errors.New("camera stream ended before a scan started")
	ErrDetectorLost = errors.New("landmark detector stopped")
)

// progressSteps is the number of progress updates over one scan window.
const progressSteps = 50

// StartReason says what opened the scan window.
type StartReason string

const (
	StartMouthOpen StartReason = "mouth-open"
	StartManual    StartReason = "manual"
	StartTimeout   StartReason = "timeout"
)

type ScanOptions struct {
	Table              *shade.Table
	Duration           time.Duration
	Fallback           shade.Entry
	MouthOpenThreshold float64
	// StartTimeout starts the scan without a mouth-open signal once this
	// much time has passed since the flow began. Zero waits indefinitely.
	StartTimeout time.Duration
	// Manual starts the scan on entry.
	Manual bool

	OnStart    func(StartReason)
	OnProgress func(percent int)
	Now        func() time.Time
}

// Scanner runs one timed scan and reports a single finalized shade.
type Scanner struct {
	deps Deps
	opts ScanOptions
	log  *slog.Logger
}

func NewScanner(deps Deps, opts ScanOptions) *Scanner {
	if opts.Table == nil {
		opts.Table = shade.Default()
	}
	if opts.Duration <= 0 {
		opts.Duration = scan.DefaultDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scanner{deps: deps, opts: opts, log: deps.logger()}
}

// Run acquires the camera and the detector, waits for the start trigger,
// samples for the scan duration and returns the vote. Both resources are
// released before Run returns.
func (s *Scanner) Run(ctx context.Context) (scan.Finalized, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src, det, err := s.deps.acquire(ctx)
	if err != nil {
		return scan.Finalized{}, err
	}
	defer src.Close()
	defer det.Close()

	frames := make(chan *image.RGBA, 1)
	readErr := make(chan error, 1)
	requests := make(chan *image.RGBA, 1)
	results := make(chan detection, 1)

	g, gctx := errgroup.WithContext(ctx)
	go pumpFrames(gctx, src, frames, readErr)
	g.Go(func() error {
		detectLoop(gctx, det, requests, results)
		return nil
	})

	var final scan.Finalized
	g.Go(func() error {
		defer cancel()
		var err error
		final, err = s.control(gctx, src, frames, readErr, requests, results)
		return err
	})

	if err := g.Wait(); err != nil {
		return scan.Finalized{}, err
	}
	s.log.Info("scan finalized",
		"session", final.SessionID,
		"shade", final.Name,
		"samples", final.Samples,
		"skipped", final.Skipped,
		"fallback", final.Fallback)
	return final, nil
}

func (s *Scanner) control(ctx context.Context, src camera.Source, frames <-chan *image.RGBA, readErr <-chan error, requests chan<- *image.RGBA, results <-chan detection) (scan.Finalized, error) {
	st := &State{
		Session: scan.NewSession(scan.Options{
			Duration: s.opts.Duration,
			Fallback: s.opts.Fallback,
			Now:      s.opts.Now,
		}),
	}

	interval := s.opts.Duration / progressSteps
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	began := s.opts.Now()
	if s.opts.Manual {
		s.start(st, StartManual)
	}

	// The in-flight frame is never released here: the detector may still be
	// reading it when the flow ends.
	var inflight *image.RGBA
	lastProgress := -1

	for {
		select {
		case <-ctx.Done():
			return scan.Finalized{}, ctx.Err()

		case frame, ok := <-frames:
			if !ok {
				if err := streamEnd(st.Frames, readErr); err != nil {
					return scan.Finalized{}, err
				}
				// The last submitted frame still counts.
				if inflight != nil {
					select {
					case d := <-results:
						if err := s.handle(ctx, st, d); err != nil {
							return scan.Finalized{}, err
						}
						inflight = nil
					case <-ctx.Done():
						return scan.Finalized{}, ctx.Err()
					}
				}
				if st.Session.State() == scan.Scanning {
					s.log.Warn("camera stream ended mid-scan, finalizing early", "progress", st.Session.Progress())
					return st.Session.Finalize(), nil
				}
				return scan.Finalized{}, ErrStreamEnded
			}
			st.Frames++
			if inflight == nil {
				inflight = frame
				requests <- frame
			} else {
				src.Release(frame)
			}

		case d := <-results:
			if err := s.handle(ctx, st, d); err != nil {
				return scan.Finalized{}, err
			}
			src.Release(inflight)
			inflight = nil

		case <-ticker.C:
		}

		if st.Session.State() == scan.Idle && s.opts.StartTimeout > 0 && s.opts.Now().Sub(began) >= s.opts.StartTimeout {
			s.start(st, StartTimeout)
		}
		if st.Session.State() != scan.Scanning {
			continue
		}
		if p := st.Session.Progress(); p != lastProgress {
			lastProgress = p
			if s.opts.OnProgress != nil {
				s.opts.OnProgress(p)
			}
		}
		if final, done := st.Session.Tick(); done {
			return final, nil
		}
	}
}

// handle feeds one detection through region extraction, classification and
// the session. Per-frame failures are skipped; a dead detector is returned.
func (s *Scanner) handle(ctx context.Context, st *State, d detection) error {
	if d.err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(d.err, worker.ErrEngine) {
			return fmt.Errorf("%w: %w", ErrDetectorLost, d.err)
		}
		s.log.Warn("frame skipped", "err", d.err)
		st.Session.Skip()
		return nil
	}

	st.Detections++
	if !d.found {
		st.Landmarks = nil
		st.Session.Skip()
		return nil
	}
	st.Landmarks = d.landmarks

	if st.Session.State() == scan.Idle {
		if gap, ok := region.MouthOpening(d.landmarks); ok && gap > s.opts.MouthOpenThreshold {
			s.start(st, StartMouthOpen)
		}
	}
	if st.Session.State() != scan.Scanning {
		return nil
	}

	boundary, ok := region.Boundary(d.landmarks)
	if !ok {
		st.Session.Skip()
		return nil
	}
	sample, ok := region.ExtractColor(d.frame, boundary)
	if !ok {
		st.Session.Skip()
		return nil
	}
	res := s.opts.Table.Classify(sample)
	st.Session.Add(res)
	s.log.Debug("sample", "rgb", sample.String(), "shade", res.Name, "distance", res.Distance)
	return nil
}

func (s *Scanner) start(st *State, reason StartReason) {
	if !st.Session.Start() {
		return
	}
	s.log.Info("scan started", "session", st.Session.ID().String(), "reason", string(reason))
	if s.opts.OnStart != nil {
		s.opts.OnStart(reason)
	}
}
