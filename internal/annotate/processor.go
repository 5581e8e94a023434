// Package annotate turns raw video frames into frames with detection overlays.
//
// Processor is the per-frame callback handed to the video transport. It owns
// no goroutines, timers or I/O; the only shared state is the injected
// Detector, which must be safe for concurrent use.
package annotate

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

const (
	// DefaultInferenceThreshold is the fixed confidence cut applied at inference time.
	DefaultInferenceThreshold = 0.3

	// DefaultBudget is the per-frame time budget for a 10fps-class feed.
	DefaultBudget = 100 * time.Millisecond
)

// ErrPanic wraps a panic recovered while annotating a frame.
var ErrPanic = errors.New("annotation panicked")

// Detector runs object detection on one frame.
type Detector interface {
	Detect(frame types.Frame, threshold float64) (types.DetectionSet, error)
}

// State is the processor's detection state, fixed at construction.
type State int

const (
	// StateDisabled passes every frame through unmodified.
	StateDisabled State = iota
	// StateActive runs detection and draws overlays.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Result describes what happened to one frame.
type Result struct {
	Frame      types.Frame        // Frame to hand back to the transport
	Detections types.DetectionSet // Detections drawn onto Frame
	Annotated  bool               // True when Frame is an annotated copy
	Err        error              // Set when the frame fell back to pass-through
	Elapsed    time.Duration
	OverBudget bool
}

// Processor is the frame annotation callback.
type Processor struct {
	detector  Detector
	threshold float64
	budget    time.Duration
	style     Style
}

// Option configures a Processor.
type Option func(*Processor)

// WithInferenceThreshold overrides the inference-time confidence threshold.
func WithInferenceThreshold(threshold float64) Option {
	return func(p *Processor) {
		p.threshold = threshold
	}
}

// WithBudget sets the duration above which a Result is flagged OverBudget.
// Zero disables the flag.
func WithBudget(budget time.Duration) Option {
	return func(p *Processor) {
		p.budget = budget
	}
}

// WithStyle overrides the overlay style.
func WithStyle(style Style) Option {
	return func(p *Processor) {
		p.style = style
	}
}

// NewProcessor creates a Processor. A nil detector yields a processor in
// StateDisabled that returns every frame unchanged.
func NewProcessor(detector Detector, opts ...Option) *Processor {
	p := &Processor{
		detector:  detector,
		threshold: DefaultInferenceThreshold,
		budget:    DefaultBudget,
		style:     DefaultStyle(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports whether detection is active.
func (p *Processor) State() State {
	if p.detector == nil {
		return StateDisabled
	}
	return StateActive
}

// InferenceThreshold returns the confidence threshold passed to the detector.
func (p *Processor) InferenceThreshold() float64 {
	return p.threshold
}

// Process returns the annotated frame, or the input frame if detection is
// disabled or fails. It never panics.
func (p *Processor) Process(frame types.Frame) types.Frame {
	return p.Annotate(frame).Frame
}

// Annotate is Process with the per-frame outcome attached.
func (p *Processor) Annotate(frame types.Frame) (res Result) {
	res.Frame = frame
	if p.detector == nil {
		return res
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Frame: frame, Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
		res.Elapsed = time.Since(start)
		res.OverBudget = p.budget > 0 && res.Elapsed > p.budget
	}()

	if err := frame.Validate(); err != nil {
		res.Err = err
		return res
	}

	detections, err := p.detector.Detect(frame, p.threshold)
	if err != nil {
		res.Err = fmt.Errorf("inference: %w", err)
		return res
	}

	detections = detections.AboveThreshold(p.threshold)
	res.Detections = detections
	if len(detections) == 0 {
		return res
	}

	out := frame.Clone()
	p.style.Draw(out, detections)

	res.Frame = out
	res.Annotated = true
	return res
}
