package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/shadescope/internal/types"
	"github.com/andresmejia3/shadescope/internal/utils" // Using the SafeCommand wrapper
)

// ErrEngine marks a failure the engine reported for one frame. The engine is
// still alive and the next frame may be sent.
var ErrEngine = errors.New("landmark engine error")

const (
	statusOK    = 0
	statusError = 1

	// Upper bounds on what a sane engine returns for one frame.
	maxFaces  = 16
	maxPoints = 1024
)

// Config describes how to launch the landmark engine.
type Config struct {
	Command []string // argv; Command[0] is the executable
	Width   int
	Height  int
	// ReadTimeout bounds the wait for one response. Zero waits forever.
	ReadTimeout time.Duration
}

// LandmarkWorker is a long-lived landmark engine process. Frames go in on
// stdin and results come back on a side-channel pipe (fd 3) so engine log
// output on stdout never corrupts the protocol.
type LandmarkWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	timeout  time.Duration
	buf      []byte
}

func NewLandmarkWorker(ctx context.Context, id int, cfg Config) (*LandmarkWorker, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("worker %d: empty engine command", id)
	}

	// 1. Initialize the SafeCommand
	proc := utils.NewSafeCommand(ctx, cfg.Command[0], cfg.Command[1:]...)
	proc.Env = append(os.Environ(),
		"SHADESCOPE_FRAME_WIDTH="+strconv.Itoa(cfg.Width),
		"SHADESCOPE_FRAME_HEIGHT="+strconv.Itoa(cfg.Height),
	)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &LandmarkWorker{
		ID:       id,
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}, nil
}

// Communicate sends one request and reads one raw response payload.
// Any error here means the protocol stream is broken.
func (w *LandmarkWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.timeout > 0 {
		d.SetReadDeadline(time.Now().Add(w.timeout))
		defer d.SetReadDeadline(time.Time{})
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch an engine that crashed on import
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends one packed RGBA frame and returns every face found.
// Engine-reported failures wrap ErrEngine; any other error means the engine is gone.
func (w *LandmarkWorker) ProcessFrame(frame []byte) ([]types.FaceLandmarks, error) {
	payload, err := w.Communicate(frame)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", w.ID, err)
	}
	return decodeResponse(payload)
}

// Detect returns the landmarks of the first face in frame.
func (w *LandmarkWorker) Detect(ctx context.Context, frame *image.RGBA) (types.FaceLandmarks, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	faces, err := w.ProcessFrame(w.pack(frame))
	if err != nil {
		return nil, false, err
	}
	if len(faces) == 0 {
		return nil, false, nil
	}
	return faces[0], true, nil
}

// pack returns the frame's pixels without row padding.
func (w *LandmarkWorker) pack(frame *image.RGBA) []byte {
	b := frame.Bounds()
	rowLen := b.Dx() * 4
	if frame.Stride == rowLen && b.Min == (image.Point{}) {
		return frame.Pix[:rowLen*b.Dy()]
	}
	if cap(w.buf) < rowLen*b.Dy() {
		w.buf = make([]byte, rowLen*b.Dy())
	}
	w.buf = w.buf[:rowLen*b.Dy()]
	for y := 0; y < b.Dy(); y++ {
		off := frame.PixOffset(b.Min.X, b.Min.Y+y)
		copy(w.buf[y*rowLen:], frame.Pix[off:off+rowLen])
	}
	return w.buf
}

func decodeResponse(payload []byte) ([]types.FaceLandmarks, error) {
	r := bytes.NewReader(payload)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: empty response", ErrEngine)
	}

	switch status {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("%w: truncated error message", ErrEngine)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("%w: truncated error message", ErrEngine)
		}
		return nil, fmt.Errorf("%w: %s", ErrEngine, msg)
	default:
		return nil, fmt.Errorf("%w: unknown status %d", ErrEngine, status)
	}

	var numFaces uint32
	if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("%w: missing face count", ErrEngine)
	}
	if numFaces > maxFaces {
		return nil, fmt.Errorf("%w: %d faces exceeds limit", ErrEngine, numFaces)
	}

	faces := make([]types.FaceLandmarks, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var numPoints uint32
		if err := binary.Read(r, binary.BigEndian, &numPoints); err != nil {
			return nil, fmt.Errorf("%w: face %d: missing point count", ErrEngine, i)
		}
		if numPoints > maxPoints {
			return nil, fmt.Errorf("%w: face %d: %d points exceeds limit", ErrEngine, i, numPoints)
		}
		raw := make([]float32, numPoints*2)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("%w: face %d: truncated points", ErrEngine, i)
		}
		face := make(types.FaceLandmarks, numPoints)
		for j := range face {
			x, y := float64(raw[2*j]), float64(raw[2*j+1])
			if math.IsNaN(x) || math.IsNaN(y) {
				return nil, fmt.Errorf("%w: face %d: NaN landmark", ErrEngine, i)
			}
			face[j] = types.LandmarkPoint{X: x, Y: y}
		}
		faces = append(faces, face)
	}
	return faces, nil
}

// Close shuts the engine down and reaps the process.
func (w *LandmarkWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
