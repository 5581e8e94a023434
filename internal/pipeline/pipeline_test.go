package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/annotate"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/metrics"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

// dogEveryOther detects one dog on even frames and fails on frame 3.
type dogEveryOther struct{}

func (dogEveryOther) Detect(frame types.Frame, threshold float64) (types.DetectionSet, error) {
	if frame.FrameNum == 3 {
		return nil, errors.New("transient")
	}
	if frame.FrameNum%2 == 1 {
		return nil, nil
	}
	return types.DetectionSet{{ClassName: "dog", Confidence: 0.8, BBox: types.BoundingBox{X: 2, Y: 2, W: 8, H: 8}}}, nil
}

type countingSource struct {
	n atomic.Uint64
}

func (s *countingSource) Read(ctx context.Context) (types.Frame, error) {
	f := types.NewFrame(16, 16)
	f.FrameNum = s.n.Add(1)
	return f, nil
}

type recordingSink struct {
	mu      sync.Mutex
	results []annotate.Result
	camera  string
}

func (s *recordingSink) Publish(camera string, jpeg []byte, res annotate.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = camera
	s.results = append(s.results, res)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func newTestStage(t *testing.T, d annotate.Detector, m *metrics.Metrics) *Stage {
	t.Helper()
	s := NewStage(annotate.NewProcessor(d), m, 80)
	s.encode = func(f types.Frame, q int) ([]byte, error) {
		return []byte{0xFF, 0xD8, byte(f.FrameNum)}, nil
	}
	s.decode = func(data []byte) (types.Frame, error) {
		if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
			return types.Frame{}, errors.New("not a jpeg")
		}
		f := types.NewFrame(16, 16)
		f.FrameNum = uint64(data[2])
		return f, nil
	}
	return s
}

func TestStageAnnotateJPEG(t *testing.T) {
	m := metrics.New()
	s := newTestStage(t, dogEveryOther{}, m)

	// Odd frame: nothing detected, original bytes come back.
	in := []byte{0xFF, 0xD8, 1, 42}
	out, res, err := s.AnnotateJPEG("Test", in)
	if err != nil || res.Annotated || !bytes.Equal(out, in) {
		t.Fatalf("pass-through: out=%v annotated=%v err=%v", out, res.Annotated, err)
	}

	// Even frame: annotated and re-encoded.
	out, res, err = s.AnnotateJPEG("Test", []byte{0xFF, 0xD8, 2})
	if err != nil || !res.Annotated || len(res.Detections) != 1 {
		t.Fatalf("annotate: res=%+v err=%v", res, err)
	}
	if len(out) != 3 {
		t.Fatalf("expected re-encoded output, got %v", out)
	}

	// Frame 3 fails inference; still returned unchanged.
	in = []byte{0xFF, 0xD8, 3}
	out, res, err = s.AnnotateJPEG("Test", in)
	if err != nil || res.Err == nil || !bytes.Equal(out, in) {
		t.Fatalf("failure: out=%v res=%+v err=%v", out, res, err)
	}

	// Undecodable input is an error and counted, but the bytes still come back.
	junk := []byte("junk")
	if out, _, err := s.AnnotateJPEG("Test", junk); err == nil || !bytes.Equal(out, junk) {
		t.Fatalf("decode failure: out=%v err=%v", out, err)
	}

	if got := m.DecodeErrors.Load(); got != 1 {
		t.Errorf("DecodeErrors = %d", got)
	}
	if got := m.InferenceErrors.Load(); got != 1 {
		t.Errorf("InferenceErrors = %d", got)
	}
	if got := m.FramesReceived.Load(); got != 3 {
		t.Errorf("FramesReceived = %d", got)
	}
}

func TestStageAnnotateJPEGEncodeFailureReturnsInput(t *testing.T) {
	s := newTestStage(t, dogEveryOther{}, nil)
	s.encode = func(types.Frame, int) ([]byte, error) {
		return nil, errors.New("encoder unavailable")
	}

	in := []byte{0xFF, 0xD8, 4}
	out, res, err := s.AnnotateJPEG("Test", in)
	if err == nil {
		t.Fatalf("expected encode error")
	}
	if !res.Annotated {
		t.Fatalf("frame should have been annotated before encoding")
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("out = %v, want the input bytes", out)
	}
}

func TestStageWarningsAreThrottled(t *testing.T) {
	s := newTestStage(t, dogEveryOther{}, nil)
	for i := 0; i < 10; i++ {
		f := types.NewFrame(16, 16)
		f.FrameNum = 3
		s.Annotate("Test", f)
	}
	if got := s.suppressed.Load(); got != 9 {
		t.Fatalf("suppressed = %d, want 9", got)
	}
}

func TestPipelineDeliversInOrder(t *testing.T) {
	m := metrics.New()
	stage := newTestStage(t, dogEveryOther{}, m)
	sink := &recordingSink{}
	p := New(&countingSource{}, stage, "Jalan SK 6/1", 200, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for sink.count() < 6 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.results) < 6 {
		t.Fatalf("got %d results", len(sink.results))
	}
	if sink.camera != "Jalan SK 6/1" {
		t.Errorf("camera = %q", sink.camera)
	}
	var last uint64
	for _, r := range sink.results {
		if r.Frame.FrameNum <= last {
			t.Fatalf("frame %d delivered after %d", r.Frame.FrameNum, last)
		}
		last = r.Frame.FrameNum
		if r.Annotated != (r.Frame.FrameNum%2 == 0) {
			t.Errorf("frame %d annotated=%v", r.Frame.FrameNum, r.Annotated)
		}
		if !r.Frame.SameGeometry(types.NewFrame(16, 16)) {
			t.Errorf("frame %d geometry changed", r.Frame.FrameNum)
		}
	}
}
