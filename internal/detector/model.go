// Package detector loads a pre-trained object-detection network with the
// OpenCV DNN module and runs it on BGR24 frames.
package detector

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

const (
	// DefaultInputSize is the square network input used by YOLOv8 exports.
	DefaultInputSize = 640
	// DefaultNMSThreshold is the IoU above which overlapping boxes are merged.
	DefaultNMSThreshold = 0.45
)

// DefaultLabels is used when no labels file is configured.
var DefaultLabels = []string{"dog"}

var (
	ErrModelNotFound    = errors.New("model artifact not found")
	ErrModelUnsupported = errors.New("unsupported model format")
	ErrModelCorrupt     = errors.New("model artifact could not be loaded")
	ErrHandleClosed     = errors.New("model handle closed")
)

// Extensions the OpenCV DNN importer understands.
var supportedExtensions = map[string]bool{
	".onnx":       true,
	".pb":         true,
	".caffemodel": true,
	".weights":    true,
	".tflite":     true,
	".t7":         true,
	".net":        true,
}

// LoadError reports why a model could not be loaded.
type LoadError struct {
	Path string
	Kind error // One of ErrModelNotFound, ErrModelUnsupported, ErrModelCorrupt
	Err  error // Underlying cause, may be nil
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load model %s: %v: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("load model %s: %v", e.Path, e.Kind)
}

func (e *LoadError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Notice is the one-line message shown to operators.
func (e *LoadError) Notice() string {
	if errors.Is(e.Kind, ErrModelNotFound) {
		return fmt.Sprintf("Model not found at %s. Please check file path.", e.Path)
	}
	return fmt.Sprintf("Model at %s could not be loaded (%v). Detection is disabled.", e.Path, e.Kind)
}

// Options configures Load.
type Options struct {
	ConfigPath   string // Network config for formats that need one (.pbtxt, .cfg)
	LabelsPath   string // data.yaml or one-name-per-line file
	InputSize    int
	NMSThreshold float64
	Backend      gocv.NetBackendType
	Target       gocv.NetTargetType
}

// DefaultOptions returns CPU inference at 640x640.
func DefaultOptions() Options {
	return Options{
		InputSize:    DefaultInputSize,
		NMSThreshold: DefaultNMSThreshold,
		Backend:      gocv.NetBackendDefault,
		Target:       gocv.NetTargetCPU,
	}
}

// Model is a loaded detection network. Inference calls are serialized
// because an OpenCV Net is not safe for concurrent Forward calls; nothing
// else about the model changes after Load.
type Model struct {
	path         string
	labels       []string
	inputSize    int
	nmsThreshold float32

	mu     sync.Mutex
	net    gocv.Net
	closed bool
}

// Load reads the model artifact at path. The returned error is always a
// *LoadError.
func Load(path string, opts Options) (*Model, error) {
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultInputSize
	}
	if opts.NMSThreshold <= 0 {
		opts.NMSThreshold = DefaultNMSThreshold
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Path: path, Kind: ErrModelNotFound}
		}
		return nil, &LoadError{Path: path, Kind: ErrModelNotFound, Err: err}
	}
	if info.IsDir() {
		return nil, &LoadError{Path: path, Kind: ErrModelNotFound, Err: errors.New("path is a directory")}
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return nil, &LoadError{Path: path, Kind: ErrModelUnsupported, Err: fmt.Errorf("extension %q", ext)}
	}
	if info.Size() == 0 {
		return nil, &LoadError{Path: path, Kind: ErrModelCorrupt, Err: errors.New("empty file")}
	}

	labels := DefaultLabels
	if opts.LabelsPath != "" {
		labels, err = LoadLabels(opts.LabelsPath)
		if err != nil {
			return nil, &LoadError{Path: path, Kind: ErrModelCorrupt, Err: err}
		}
	}

	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err != nil {
			return nil, &LoadError{Path: path, Kind: ErrModelNotFound, Err: fmt.Errorf("config file: %w", err)}
		}
	}

	// A parse failure leaves a nil network behind; it must not be touched.
	gocv.ClearLastException()
	net := gocv.ReadNet(path, opts.ConfigPath)
	if err := gocv.LastExceptionError(); err != nil {
		gocv.ClearLastException()
		return nil, &LoadError{Path: path, Kind: ErrModelCorrupt, Err: err}
	}
	if net.Empty() {
		net.Close()
		return nil, &LoadError{Path: path, Kind: ErrModelCorrupt, Err: errors.New("network is empty")}
	}

	if err := net.SetPreferableBackend(opts.Backend); err != nil {
		net.Close()
		return nil, &LoadError{Path: path, Kind: ErrModelUnsupported, Err: fmt.Errorf("set backend: %w", err)}
	}
	if err := net.SetPreferableTarget(opts.Target); err != nil {
		net.Close()
		return nil, &LoadError{Path: path, Kind: ErrModelUnsupported, Err: fmt.Errorf("set target: %w", err)}
	}

	return &Model{
		path:         path,
		labels:       labels,
		inputSize:    opts.InputSize,
		nmsThreshold: float32(opts.NMSThreshold),
		net:          net,
	}, nil
}

// Path returns the artifact path the model was loaded from.
func (m *Model) Path() string {
	return m.path
}

// Labels returns a copy of the class names.
func (m *Model) Labels() []string {
	return append([]string(nil), m.labels...)
}

// Detect runs the network on frame and returns detections with confidence
// at least threshold, after non-maximum suppression, in frame pixels.
func (m *Model) Detect(frame types.Frame, threshold float64) (types.DetectionSet, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("wrap frame: %w", err)
	}
	defer mat.Close()

	size := image.Pt(m.inputSize, m.inputSize)
	blob := gocv.BlobFromImage(mat, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("model is closed")
	}
	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	m.mu.Unlock()
	defer output.Close()

	if output.Empty() {
		return nil, errors.New("network returned no output")
	}

	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	layout := newOutputLayout(dims[1], dims[2])
	xScale := float32(frame.Width) / float32(m.inputSize)
	yScale := float32(frame.Height) / float32(m.inputSize)
	candidates := decodeYOLO(data, layout, xScale, yScale, float32(threshold))

	bounds := image.Rect(0, 0, frame.Width, frame.Height)
	return m.suppress(candidates, bounds, float32(threshold)), nil
}

func (m *Model) suppress(candidates []candidate, bounds image.Rectangle, threshold float32) types.DetectionSet {
	if len(candidates) == 0 {
		return types.DetectionSet{}
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.box
		scores[i] = c.score
	}

	keep := gocv.NMSBoxes(boxes, scores, threshold, m.nmsThreshold)

	out := make(types.DetectionSet, 0, len(keep))
	for _, idx := range keep {
		c := candidates[idx]
		box := c.box.Intersect(bounds)
		if box.Empty() {
			continue
		}
		out = append(out, types.Detection{
			ClassID:    c.classID,
			ClassName:  className(m.labels, c.classID),
			Confidence: float64(c.score),
			BBox:       types.BoxFromRect(box),
		})
	}
	return out
}

// Close releases the network. Detect fails after Close.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.net.Close()
}

func className(labels []string, classID int) string {
	if classID >= 0 && classID < len(labels) {
		return labels[classID]
	}
	return fmt.Sprintf("class%d", classID)
}
