package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/andresmejia3/shadescope/internal/camera"
	"github.com/andresmejia3/shadescope/internal/shade"
	"github.com/andresmejia3/shadescope/internal/types"
	"github.com/andresmejia3/shadescope/internal/worker"
)

var b1Teeth = [3]uint8{235, 228, 205}

func fallbackA2(t *testing.T) shade.Entry {
	t.Helper()
	e, ok := shade.Default().Lookup("A2")
	if !ok {
		t.Fatal("A2 missing from default table")
	}
	return e
}

func TestScanEndToEnd(t *testing.T) {
	cam := newFakeCamera(b1Teeth, 0)
	det := &fakeProvider{landmarks: mouthLandmarks(0.1), found: true}

	var reasons []StartReason
	var progress []int
	s := NewScanner(testDeps(cam, det), ScanOptions{
		Duration:           150 * time.Millisecond,
		Fallback:           fallbackA2(t),
		MouthOpenThreshold: 0.02,
		OnStart:            func(r StartReason) { reasons = append(reasons, r) },
		OnProgress:         func(p int) { progress = append(progress, p) },
	})

	final, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if final.Name != "B1" || final.Color != (types.RGB{235, 228, 205}) {
		t.Errorf("expected B1 [235,228,205], got %s %v", final.Name, final.Color)
	}
	if final.Fallback || final.Samples == 0 {
		t.Errorf("expected real samples, got %+v", final)
	}
	if final.SessionID == "" {
		t.Error("expected a session id")
	}

	if len(reasons) != 1 || reasons[0] != StartMouthOpen {
		t.Errorf("expected one mouth-open start, got %v", reasons)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("expected progress to end at 100, got %v", progress)
	}

	if !cam.isClosed() || !det.closed.Load() {
		t.Error("camera and detector must be released")
	}
}

func TestScanNoFaceFallsBack(t *testing.T) {
	cam := newFakeCamera(b1Teeth, 0)
	det := &fakeProvider{found: false}

	s := NewScanner(testDeps(cam, det), ScanOptions{
		Duration: 80 * time.Millisecond,
		Fallback: fallbackA2(t),
		Manual:   true,
	})

	final, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if final.Name != "A2" || final.Color != (types.RGB{233, 220, 190}) || !final.Fallback {
		t.Errorf("expected fallback A2 [233,220,190], got %+v", final)
	}
	if final.Samples != 0 || final.Skipped == 0 {
		t.Errorf("expected only skipped frames, got %+v", final)
	}
}

func TestScanStartTriggers(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		cam := newFakeCamera(b1Teeth, 0)
		det := &fakeProvider{landmarks: mouthLandmarks(0.005), found: true}

		var reason StartReason
		s := NewScanner(testDeps(cam, det), ScanOptions{
			Duration:           50 * time.Millisecond,
			Fallback:           fallbackA2(t),
			MouthOpenThreshold: 0.02,
			StartTimeout:       30 * time.Millisecond,
			OnStart:            func(r StartReason) { reason = r },
		})
		if _, err := s.Run(context.Background()); err != nil {
			t.Fatalf("Run() failed: %v", err)
		}
		if reason != StartTimeout {
			t.Errorf("expected timeout start, got %q", reason)
		}
	})

	t.Run("manual", func(t *testing.T) {
		cam := newFakeCamera(b1Teeth, 0)
		det := &fakeProvider{landmarks: mouthLandmarks(0.005), found: true}

		var reason StartReason
		s := NewScanner(testDeps(cam, det), ScanOptions{
			Duration: 50 * time.Millisecond,
			Fallback: fallbackA2(t),
			Manual:   true,
			OnStart:  func(r StartReason) { reason = r },
		})
		if _, err := s.Run(context.Background()); err != nil {
			t.Fatalf("Run() failed: %v", err)
		}
		if reason != StartManual {
			t.Errorf("expected manual start, got %q", reason)
		}
	})

	t.Run("closed mouth never starts", func(t *testing.T) {
		cam := newFakeCamera(b1Teeth, 10)
		det := &fakeProvider{landmarks: mouthLandmarks(0.005), found: true}

		s := NewScanner(testDeps(cam, det), ScanOptions{
			Duration:           50 * time.Millisecond,
			Fallback:           fallbackA2(t),
			MouthOpenThreshold: 0.02,
		})
		if _, err := s.Run(context.Background()); !errors.Is(err, ErrStreamEnded) {
			t.Errorf("expected ErrStreamEnded, got %v", err)
		}
	})
}

func TestScanSkipsEngineErrors(t *testing.T) {
	engineErr := fmt.Errorf("%w: bad frame", worker.ErrEngine)
	cam := newFakeCamera(b1Teeth, 0)
	det := &fakeProvider{
		landmarks: mouthLandmarks(0.1),
		found:     true,
		errs:      []error{engineErr, engineErr, engineErr},
	}

	s := NewScanner(testDeps(cam, det), ScanOptions{
		Duration: 150 * time.Millisecond,
		Fallback: fallbackA2(t),
		Manual:   true,
	})
	final, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if final.Skipped < 3 {
		t.Errorf("expected at least 3 skipped frames, got %d", final.Skipped)
	}
	if final.Name != "B1" {
		t.Errorf("expected B1 after skipped frames, got %s", final.Name)
	}
}

func TestScanDetectorDies(t *testing.T) {
	cam := newFakeCamera(b1Teeth, 0)
	det := &fakeProvider{errs: []error{io.ErrUnexpectedEOF}}

	s := NewScanner(testDeps(cam, det), ScanOptions{Duration: time.Second, Manual: true})
	_, err := s.Run(context.Background())
	if !errors.Is(err, ErrDetectorLost) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrDetectorLost wrapping the cause, got %v", err)
	}
	if !cam.isClosed() || !det.closed.Load() {
		t.Error("camera and detector must be released after a detector failure")
	}
}

func TestScanInitErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("camera", func(t *testing.T) {
		s := NewScanner(Deps{
			OpenCamera: func(context.Context) (camera.Source, error) { return nil, errBoom },
			Logger:     logger,
		}, ScanOptions{})
		_, err := s.Run(context.Background())
		if !errors.Is(err, ErrInitFailed) || !errors.Is(err, ErrCameraUnavailable) || !errors.Is(err, errBoom) {
			t.Errorf("unexpected error %v", err)
		}
	})

	t.Run("detector", func(t *testing.T) {
		cam := newFakeCamera(b1Teeth, 0)
		s := NewScanner(Deps{
			OpenCamera: func(context.Context) (camera.Source, error) { return cam, nil },
			OpenDetector: func(context.Context, int, int) (LandmarkProvider, error) {
				return nil, errBoom
			},
			Logger: logger,
		}, ScanOptions{})
		_, err := s.Run(context.Background())
		if !errors.Is(err, ErrInitFailed) || !errors.Is(err, ErrDetectorInit) {
			t.Errorf("unexpected error %v", err)
		}
		if !cam.isClosed() {
			t.Error("camera must be released when the detector fails to start")
		}
	})

	t.Run("no frames", func(t *testing.T) {
		cam := newFakeCamera(b1Teeth, 0)
		cam.empty = true
		s := NewScanner(testDeps(cam, &fakeProvider{}), ScanOptions{Manual: true})
		_, err := s.Run(context.Background())
		if !errors.Is(err, ErrInitFailed) || !errors.Is(err, ErrCameraUnavailable) {
			t.Errorf("unexpected error %v", err)
		}
	})
}

func TestScanStreamEndsMidScan(t *testing.T) {
	cam := newFakeCamera(b1Teeth, 5)
	// The first detection outlasts the whole stream, so the frame still in
	// flight when the camera ends is the only sample.
	det := &fakeProvider{landmarks: mouthLandmarks(0.1), found: true, delay: 40 * time.Millisecond}

	s := NewScanner(testDeps(cam, det), ScanOptions{
		Duration: 10 * time.Second,
		Fallback: fallbackA2(t),
		Manual:   true,
	})
	final, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if final.Name != "B1" || final.Fallback || final.Samples == 0 {
		t.Errorf("expected B1 from the in-flight frame, got %+v", final)
	}
}

func TestScanSlowDetector(t *testing.T) {
	cam := newFakeCamera(b1Teeth, 0)
	det := &fakeProvider{landmarks: mouthLandmarks(0.1), found: true, delay: 50 * time.Millisecond}

	s := NewScanner(testDeps(cam, det), ScanOptions{
		Duration: 200 * time.Millisecond,
		Fallback: fallbackA2(t),
		Manual:   true,
	})
	start := time.Now()
	final, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("scan took %v, the timer must not wait on detection", elapsed)
	}

	if got := det.maxInflight.Load(); got != 1 {
		t.Errorf("maxInflight = %d, want 1", got)
	}
	served := cam.servedFrames()
	if detections := final.Samples + final.Skipped; detections == 0 || detections >= served {
		t.Errorf("expected fewer detections than frames, got %d of %d", detections, served)
	}
	if final.Name != "B1" {
		t.Errorf("expected B1, got %+v", final)
	}
}

func TestScanCancelled(t *testing.T) {
	cam := newFakeCamera(b1Teeth, 0)
	det := &fakeProvider{landmarks: mouthLandmarks(0.005), found: true}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	s := NewScanner(testDeps(cam, det), ScanOptions{MouthOpenThreshold: 0.02})
	if _, err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if !cam.isClosed() || !det.closed.Load() {
		t.Error("camera and detector must be released on cancellation")
	}
}
