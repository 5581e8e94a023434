package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/annotate"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/capture"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/logger"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/metrics"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

// Sink receives every processed frame. Implementations must not block.
type Sink interface {
	Publish(camera string, jpeg []byte, res annotate.Result)
}

// Stage wraps the annotation callback with the transport concerns around it:
// metrics, JPEG conversion and throttled warnings. It is safe for concurrent use.
type Stage struct {
	processor *annotate.Processor
	metrics   *metrics.Metrics
	quality   int

	encode func(types.Frame, int) ([]byte, error)
	decode func([]byte) (types.Frame, error)

	warn       *rate.Limiter
	suppressed atomic.Uint64
}

// NewStage creates a stage around p. m may be nil.
func NewStage(p *annotate.Processor, m *metrics.Metrics, jpegQuality int) *Stage {
	if m == nil {
		m = metrics.New()
	}
	return &Stage{
		processor: p,
		metrics:   m,
		quality:   jpegQuality,
		encode:    capture.EncodeJPEG,
		decode:    capture.DecodeJPEG,
		warn:      rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Processor returns the wrapped callback.
func (s *Stage) Processor() *annotate.Processor {
	return s.processor
}

// Annotate runs the callback on one frame and accounts for the outcome.
func (s *Stage) Annotate(module string, frame types.Frame) annotate.Result {
	res := s.processor.Annotate(frame)
	s.metrics.RecordResult(res)

	if res.Err != nil {
		s.warnf(module, "Frame %d passed through: %v", frame.FrameNum, res.Err)
	} else if res.OverBudget {
		s.warnf(module, "Frame %d took %v", frame.FrameNum, res.Elapsed)
	}
	return res
}

// AnnotateJPEG decodes data, annotates it and re-encodes the result. Frames
// that come back unannotated are returned as the original bytes. The returned
// bytes are always displayable: on a decode or encode error they are data
// itself, alongside the error.
func (s *Stage) AnnotateJPEG(module string, data []byte) ([]byte, annotate.Result, error) {
	frame, err := s.decode(data)
	if err != nil {
		s.metrics.DecodeErrors.Add(1)
		return data, annotate.Result{}, fmt.Errorf("decode frame: %w", err)
	}

	res := s.Annotate(module, frame)
	if !res.Annotated {
		return data, res, nil
	}

	out, err := s.encode(res.Frame, s.quality)
	if err != nil {
		s.warnf(module, "Frame %d sent without overlays: %v", frame.FrameNum, err)
		return data, res, fmt.Errorf("encode frame: %w", err)
	}
	return out, res, nil
}

// Encode compresses a frame at the stage's quality.
func (s *Stage) Encode(frame types.Frame) ([]byte, error) {
	return s.encode(frame, s.quality)
}

func (s *Stage) warnf(module, format string, args ...interface{}) {
	if !s.warn.Allow() {
		s.suppressed.Add(1)
		return
	}
	if n := s.suppressed.Swap(0); n > 0 {
		format += fmt.Sprintf(" (%d similar messages suppressed)", n)
	}
	logger.Warn(module, format, args...)
}
