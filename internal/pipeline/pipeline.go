// Package pipeline runs the camera-driven flows: the timed shade scan and the
// whitening preview. Each flow owns one camera and one landmark provider for
// its lifetime and keeps all cross-frame state in a single goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"

	"github.com/andresmejia3/shadescope/internal/camera"
	"github.com/andresmejia3/shadescope/internal/types"
)

var (
	// ErrInitFailed wraps every failure to acquire the camera or the detector.
	ErrInitFailed        = errors.New("initialization failed")
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrDetectorInit      = errors.New("landmark detector failed to start")
)

func initError(kind, err error) error {
	return fmt.Errorf("%w: %w: %w", ErrInitFailed, kind, err)
}

// LandmarkProvider detects face landmarks in one frame. found is false when
// no face is visible; that is not an error.
type LandmarkProvider interface {
	Detect(ctx context.Context, frame *image.RGBA) (landmarks types.FaceLandmarks, found bool, err error)
	Close() error
}

// Deps are the resources a flow acquires on entry and releases on exit.
type Deps struct {
	OpenCamera   func(ctx context.Context) (camera.Source, error)
	OpenDetector func(ctx context.Context, width, height int) (LandmarkProvider, error)
	Logger       *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// acquire opens the camera then the detector. On error nothing is left open.
func (d Deps) acquire(ctx context.Context) (camera.Source, LandmarkProvider, error) {
	src, err := d.OpenCamera(ctx)
	if err != nil {
		return nil, nil, initError(ErrCameraUnavailable, err)
	}
	w, h := src.Size()
	det, err := d.OpenDetector(ctx, w, h)
	if err != nil {
		src.Close()
		return nil, nil, initError(ErrDetectorInit, err)
	}
	return src, det, nil
}

// detection is one provider answer for the frame that was submitted.
type detection struct {
	frame     *image.RGBA
	landmarks types.FaceLandmarks
	found     bool
	err       error
}

// detectLoop serves one request at a time. The caller submits a new frame only
// after it has received the previous result.
func detectLoop(ctx context.Context, det LandmarkProvider, requests <-chan *image.RGBA, results chan<- detection) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-requests:
			lm, found, err := det.Detect(ctx, frame)
			select {
			case results <- detection{frame: frame, landmarks: lm, found: found, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// pumpFrames forwards camera frames until the source ends or ctx is done.
// A read error other than io.EOF is reported on errc before out is closed.
func pumpFrames(ctx context.Context, src camera.Source, out chan<- *image.RGBA, errc chan<- error) {
	defer close(out)
	for {
		frame, err := src.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				errc <- err
			}
			return
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			src.Release(frame)
			return
		}
	}
}

// streamEnd classifies a closed frame channel.
func streamEnd(frames int, errc <-chan error) error {
	var readErr error
	select {
	case readErr = <-errc:
	default:
	}
	if frames == 0 {
		if readErr == nil {
			readErr = errors.New("no frames received")
		}
		return initError(ErrCameraUnavailable, readErr)
	}
	if readErr != nil {
		return fmt.Errorf("camera read failed: %w", readErr)
	}
	return nil
}
