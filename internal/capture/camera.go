package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("camera closed")

const (
	reopenAttempts  = 5
	reopenBaseDelay = 500 * time.Millisecond
	reopenMaxDelay  = 8 * time.Second
)

// Camera reads BGR24 frames from a device index, video file or stream URL.
type Camera struct {
	source string

	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	seq     uint64
	closed  bool
}

// OpenCamera opens source. A source that parses as an integer is treated as
// a device index.
func OpenCamera(source string) (*Camera, error) {
	if source == "" {
		return nil, errors.New("camera source is empty")
	}
	c := &Camera{source: source, mat: gocv.NewMat()}
	if err := c.open(); err != nil {
		c.mat.Close()
		return nil, err
	}
	return c, nil
}

func (c *Camera) open() error {
	var device interface{} = c.source
	if idx, err := strconv.Atoi(c.source); err == nil {
		device = idx
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("open video capture %q: %w", c.source, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("video capture %q is not opened", c.source)
	}
	// Keep latency low on live sources.
	capture.Set(gocv.VideoCaptureBufferSize, 1)
	c.capture = capture
	return nil
}

// Source returns the configured device, file or URL.
func (c *Camera) Source() string {
	return c.source
}

// Read returns the next frame. On a failed read it reopens the source with
// exponential backoff, which also restarts a video file at its end.
func (c *Camera) Read(ctx context.Context) (types.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.Frame{}, ErrClosed
	}

	if c.capture == nil || !c.capture.Read(&c.mat) || c.mat.Empty() {
		if err := c.reopen(ctx); err != nil {
			return types.Frame{}, err
		}
		if !c.capture.Read(&c.mat) || c.mat.Empty() {
			return types.Frame{}, fmt.Errorf("read from %q failed after reopen", c.source)
		}
	}

	frame, err := MatToFrame(c.mat)
	if err != nil {
		return types.Frame{}, err
	}
	c.seq++
	frame.FrameNum = c.seq
	frame.Timestamp = time.Now()
	return frame, nil
}

func (c *Camera) reopen(ctx context.Context) error {
	if c.capture != nil {
		c.capture.Close()
		c.capture = nil
	}

	var lastErr error
	delay := reopenBaseDelay
	for attempt := 1; attempt <= reopenAttempts; attempt++ {
		if lastErr = c.open(); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reopenMaxDelay {
			delay = reopenMaxDelay
		}
	}
	return fmt.Errorf("reopen %q after %d attempts: %w", c.source, reopenAttempts, lastErr)
}

// Close releases the capture device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.capture != nil {
		c.capture.Close()
		c.capture = nil
	}
	return c.mat.Close()
}
