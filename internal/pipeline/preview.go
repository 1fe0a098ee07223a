package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/andresmejia3/shadescope/internal/camera"
	"github.com/andresmejia3/shadescope/internal/overlay"
	"github.com/andresmejia3/shadescope/internal/region"
	"github.com/andresmejia3/shadescope/internal/scan"
	"github.com/andresmejia3/shadescope/internal/shade"
	"github.com/andresmejia3/shadescope/internal/types"
	"github.com/andresmejia3/shadescope/internal/worker"
	"golang.org/x/sync/errgroup"
)

// DefaultPreviewShade is the preview target when no scan result is available.
const DefaultPreviewShade = "A1"

// PreviewShade picks the starting preview shade for a finished scan: the
// scanned shade, or DefaultPreviewShade if the table does not know it.
func PreviewShade(table *shade.Table, final scan.Finalized) (shade.Entry, bool) {
	if table == nil {
		table = shade.Default()
	}
	if e, ok := table.Lookup(final.Name); ok && final.Name != "" {
		return e, true
	}
	return table.Lookup(DefaultPreviewShade)
}

type PreviewOptions struct {
	Table     *shade.Table
	Renderer  *overlay.Renderer
	Shade     shade.Entry
	Comparing bool
	// MaxFrames stops the preview after this many frames. Zero runs until
	// the stream ends or the context is cancelled.
	MaxFrames int
}

// PreviewStats summarizes a finished preview.
type PreviewStats struct {
	Frames     int
	Detections int
	Shade      string
	Comparing  bool
}

// Previewer renders the whitening overlay onto every camera frame using the
// most recent landmarks. Rendering never waits for detection.
type Previewer struct {
	deps Deps
	opts PreviewOptions
	log  *slog.Logger
}

func NewPreviewer(deps Deps, opts PreviewOptions) *Previewer {
	if opts.Table == nil {
		opts.Table = shade.Default()
	}
	if opts.Renderer == nil {
		opts.Renderer = overlay.New(overlay.DefaultOptions())
	}
	return &Previewer{deps: deps, opts: opts, log: deps.logger()}
}

// Run passes every rendered frame to sink until the stream ends, MaxFrames is
// reached, sink fails or ctx is cancelled. Commands change the shade and the
// comparison toggle between frames; a nil channel disables live control.
func (p *Previewer) Run(ctx context.Context, sink func(*image.RGBA) error, commands <-chan Command) (PreviewStats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src, det, err := p.deps.acquire(ctx)
	if err != nil {
		return PreviewStats{}, err
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

	st := &State{Shade: p.opts.Shade, Comparing: p.opts.Comparing}
	g.Go(func() error {
		defer cancel()
		return p.control(gctx, st, src, sink, commands, frames, readErr, requests, results)
	})

	err = g.Wait()
	stats := PreviewStats{
		Frames:     st.Frames,
		Detections: st.Detections,
		Shade:      st.Shade.Name,
		Comparing:  st.Comparing,
	}
	return stats, err
}

func (p *Previewer) control(ctx context.Context, st *State, src camera.Source, sink func(*image.RGBA) error, commands <-chan Command, frames <-chan *image.RGBA, readErr <-chan error, requests chan<- *image.RGBA, results <-chan detection) error {
	var inflight *image.RGBA

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if err := st.Apply(cmd, p.opts.Table); err != nil {
				p.log.Warn("command ignored", "err", err)
				continue
			}
			p.log.Info("preview updated", "shade", st.Shade.Name, "comparing", st.Comparing)

		case frame, ok := <-frames:
			if !ok {
				return streamEnd(st.Frames, readErr)
			}
			st.Frames++

			var boundary []types.LandmarkPoint
			if st.Landmarks != nil {
				boundary, _ = region.Boundary(st.Landmarks)
			}
			out := p.opts.Renderer.Render(frame, boundary, st.Shade, st.Comparing)

			if inflight == nil {
				inflight = frame
				requests <- frame
			} else {
				src.Release(frame)
			}

			if err := sink(out); err != nil {
				return fmt.Errorf("preview output: %w", err)
			}
			if p.opts.MaxFrames > 0 && st.Frames >= p.opts.MaxFrames {
				return nil
			}

		case d := <-results:
			if d.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if !errors.Is(d.err, worker.ErrEngine) {
					return fmt.Errorf("%w: %w", ErrDetectorLost, d.err)
				}
				p.log.Warn("frame skipped", "err", d.err)
			} else {
				st.Detections++
				st.Landmarks = nil
				if d.found {
					st.Landmarks = d.landmarks
				}
			}
			src.Release(inflight)
			inflight = nil
		}
	}
}
