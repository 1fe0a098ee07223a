package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/shadescope/internal/camera"
	"github.com/andresmejia3/shadescope/internal/region"
	"github.com/andresmejia3/shadescope/internal/types"
)

const frameW, frameH = 64, 48

// fakeCamera serves uniform frames. limit 0 means unlimited.
type fakeCamera struct {
	color [3]uint8
	limit int
	empty bool
	delay time.Duration

	mu     sync.Mutex
	served int
	closed chan struct{}
	once   sync.Once
}

func newFakeCamera(color [3]uint8, limit int) *fakeCamera {
	return &fakeCamera{color: color, limit: limit, delay: 2 * time.Millisecond, closed: make(chan struct{})}
}

func (c *fakeCamera) Next() (*image.RGBA, error) {
	if c.empty {
		return nil, io.EOF
	}
	select {
	case <-c.closed:
		return nil, io.EOF
	case <-time.After(c.delay):
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && c.served >= c.limit {
		return nil, io.EOF
	}
	c.served++

	img := image.NewRGBA(image.Rect(0, 0, frameW, frameH))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.color[0], c.color[1], c.color[2], 255
	}
	return img, nil
}

func (c *fakeCamera) servedFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.served
}

func (c *fakeCamera) Release(*image.RGBA) {}

func (c *fakeCamera) Size() (int, int) { return frameW, frameH }

func (c *fakeCamera) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeCamera) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeProvider returns errs[i] for call i while they last, then the landmarks.
// Each call takes delay and the highest number of overlapping calls is kept.
type fakeProvider struct {
	landmarks types.FaceLandmarks
	found     bool
	errs      []error
	delay     time.Duration

	calls       atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
	closed      atomic.Bool
}

func (p *fakeProvider) Detect(ctx context.Context, _ *image.RGBA) (types.FaceLandmarks, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	cur := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		m := p.maxInflight.Load()
		if cur <= m || p.maxInflight.CompareAndSwap(m, cur) {
			break
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	n := int(p.calls.Add(1))
	if n <= len(p.errs) && p.errs[n-1] != nil {
		return nil, false, p.errs[n-1]
	}
	return p.landmarks, p.found, nil
}

func (p *fakeProvider) Close() error {
	p.closed.Store(true)
	return nil
}

func testDeps(cam *fakeCamera, det *fakeProvider) Deps {
	return Deps{
		OpenCamera: func(context.Context) (camera.Source, error) { return cam, nil },
		OpenDetector: func(context.Context, int, int) (LandmarkProvider, error) {
			return det, nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

var errBoom = errors.New("boom")

// mouthLandmarks builds a 468-point face whose inner lips trace an ellipse
// centered in the frame. gap is the vertical half-height in normalized units.
func mouthLandmarks(gap float64) types.FaceLandmarks {
	lm := make(types.FaceLandmarks, 468)
	for i := range lm {
		lm[i] = types.LandmarkPoint{X: 0.5, Y: 0.5}
	}
	n := float64(len(region.UpperInnerLip) - 1)
	for i, idx := range region.UpperInnerLip {
		theta := math.Pi * (1 - float64(i)/n)
		lm[idx] = types.LandmarkPoint{X: 0.5 + 0.2*math.Cos(theta), Y: 0.5 - gap*math.Sin(theta)}
	}
	for i, idx := range region.LowerInnerLip {
		theta := math.Pi * float64(i) / n
		lm[idx] = types.LandmarkPoint{X: 0.5 + 0.2*math.Cos(theta), Y: 0.5 + gap*math.Sin(theta)}
	}
	return lm
}
