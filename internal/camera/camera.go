// Package camera turns a capture device, a video file or an MJPEG stream into
// a sequence of fixed-size RGBA frames.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/shadescope/internal/utils"
	"golang.org/x/image/draw"
)

const megabyte = 1024 * 1024

// StdinInput selects an MJPEG stream on standard input.
const StdinInput = "-"

// Source yields frames until io.EOF. Frames returned by Next belong to the
// caller until handed back with Release.
type Source interface {
	Next() (*image.RGBA, error)
	Release(frame *image.RGBA)
	Size() (width, height int)
	Close() error
}

// Options selects the input and the frame size every frame is scaled to.
type Options struct {
	Input    string
	Format   string
	Width    int
	Height   int
	FPS      int
	Realtime bool
}

// Open starts the source described by opts.
func Open(ctx context.Context, opts Options) (Source, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}
	if opts.Input == StdinInput {
		return NewMJPEGSource(os.Stdin, opts.Width, opts.Height), nil
	}
	return startFFmpeg(ctx, opts)
}

// framePool recycles pixel buffers of one frame size.
type framePool struct {
	width, height int
	pool          sync.Pool
}

func newFramePool(width, height int) *framePool {
	p := &framePool{width: width, height: height}
	p.pool.New = func() interface{} { return make([]byte, width*height*4) }
	return p
}

func (p *framePool) get() *image.RGBA {
	return &image.RGBA{
		Pix:    p.pool.Get().([]byte),
		Stride: p.width * 4,
		Rect:   image.Rect(0, 0, p.width, p.height),
	}
}

func (p *framePool) put(frame *image.RGBA) {
	if frame == nil || len(frame.Pix) != p.width*p.height*4 {
		return
	}
	p.pool.Put(frame.Pix)
}

// RawSource reads packed RGBA frames of a known size.
type RawSource struct {
	r      io.Reader
	frames *framePool
	proc   *utils.SafeCommand

	// mu is held for the whole of a frame read.
	mu     sync.Mutex
	closed bool
	once   sync.Once
	err    error

	kill func() error
	wait func() error
}

// NewRawSource reads frames from r, typically an ffmpeg rawvideo pipe.
func NewRawSource(r io.Reader, width, height int) *RawSource {
	return &RawSource{r: r, frames: newFramePool(width, height)}
}

func startFFmpeg(ctx context.Context, opts Options) (*RawSource, error) {
	dec := utils.NewFFmpegRawDecoder(ctx, utils.DecoderOptions{
		Input:    opts.Input,
		Format:   opts.Format,
		Width:    opts.Width,
		Height:   opts.Height,
		FPS:      opts.FPS,
		Realtime: opts.Realtime,
	})
	proc := &utils.SafeCommand{Cmd: dec, Stderr: &bytes.Buffer{}}
	dec.Stderr = proc.Stderr

	out, err := dec.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := dec.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}

	src := NewRawSource(out, opts.Width, opts.Height)
	src.proc = proc
	src.kill = func() error {
		if dec.ProcessState != nil {
			return nil
		}
		return dec.Process.Kill()
	}
	src.wait = func() error {
		err := dec.Wait()
		// Killing the decoder is expected on early exit.
		if dec.ProcessState != nil && !dec.ProcessState.Exited() {
			return nil
		}
		return err
	}
	return src, nil
}

func (s *RawSource) Next() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}

	frame := s.frames.get()
	if _, err := io.ReadFull(s.r, frame.Pix); err != nil {
		s.frames.put(frame)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// A partial trailing frame is dropped.
			return nil, io.EOF
		}
		return nil, err
	}
	return frame, nil
}

func (s *RawSource) Release(frame *image.RGBA) { s.frames.put(frame) }

func (s *RawSource) Size() (int, int) { return s.frames.width, s.frames.height }

// Process exposes the decoder so its logs can be reported. Nil for plain readers.
func (s *RawSource) Process() *utils.SafeCommand { return s.proc }

// Close stops the decoder. The process is killed first so a pending Next sees
// the pipe close, and it is only reaped once that read has returned.
func (s *RawSource) Close() error {
	s.once.Do(func() {
		if s.kill != nil {
			s.kill()
		}
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.wait != nil {
			s.err = s.wait()
		}
	})
	return s.err
}

// MJPEGSource splits a concatenated JPEG stream (such as ffmpeg -f mjpeg or an
// IP camera) into frames scaled to a fixed size.
type MJPEGSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	frames  *framePool
}

func NewMJPEGSource(r io.Reader, width, height int) *MJPEGSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	src := &MJPEGSource{scanner: scanner, frames: newFramePool(width, height)}
	if c, ok := r.(io.Closer); ok && r != io.Reader(os.Stdin) {
		src.closer = c
	}
	return src
}

func (s *MJPEGSource) Next() (*image.RGBA, error) {
	for s.scanner.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(s.scanner.Bytes()))
		if err != nil {
			// Corrupt frames happen on lossy links; wait for the next SOI.
			continue
		}
		frame := s.frames.get()
		if img.Bounds().Size() == frame.Rect.Size() {
			draw.Draw(frame, frame.Rect, img, img.Bounds().Min, draw.Src)
		} else {
			draw.ApproxBiLinear.Scale(frame, frame.Rect, img, img.Bounds(), draw.Src, nil)
		}
		return frame, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("mjpeg stream: %w", err)
	}
	return nil, io.EOF
}

func (s *MJPEGSource) Release(frame *image.RGBA) { s.frames.put(frame) }

func (s *MJPEGSource) Size() (int, int) { return s.frames.width, s.frames.height }

func (s *MJPEGSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
