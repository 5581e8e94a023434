package webmonitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/annotate"
)

// Monitor holds the dashboard state: model status, the display threshold
// setting, and recent detections.
type Monitor struct {
	startTime   time.Time
	targetFPS   int
	historySize int

	mu               sync.Mutex
	model            ModelStatus
	displayThreshold float64
	framesProcessed  uint64
	framesAnnotated  uint64
	detectionVersion int
	latestDetection  *DetectionResult
	detectionHistory []DetectionResult

	fpsWindowStart time.Time
	fpsWindowCount int
	currentFPS     float64
}

// NewMonitor creates a Monitor from cfg.
func NewMonitor(cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	now := time.Now()
	return &Monitor{
		startTime:        now,
		targetFPS:        cfg.TargetFPS,
		historySize:      cfg.HistorySize,
		displayThreshold: cfg.DisplayThreshold,
		model: ModelStatus{
			State:              annotate.StateDisabled.String(),
			InferenceThreshold: cfg.InferenceThreshold,
		},
		fpsWindowStart: now,
	}
}

// SetModelStatus records the processor state and, if loading failed, the notice
// shown on the dashboard.
func (m *Monitor) SetModelStatus(state annotate.State, loadErr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model.State = state.String()
	m.model.Error = loadErr
}

// DisplayThreshold returns the slider value.
func (m *Monitor) DisplayThreshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayThreshold
}

// SetDisplayThreshold stores the slider value. It does not affect inference.
func (m *Monitor) SetDisplayThreshold(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("display_threshold %v outside [0,1]", v)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.displayThreshold = v
	return nil
}

// Record accounts for one processed frame and returns the detection result
// to broadcast, or nil when nothing was detected.
func (m *Monitor) Record(camera string, res annotate.Result) *DetectionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.framesProcessed++
	m.tickFPSLocked()
	if !res.Annotated {
		return nil
	}
	m.framesAnnotated++

	ts := res.Frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	m.detectionVersion++
	result := DetectionResult{
		Camera:        camera,
		FrameNumber:   res.Frame.FrameNum,
		Timestamp:     float64(ts.UnixNano()) / 1e9,
		NumDetections: len(res.Detections),
		Version:       m.detectionVersion,
		InferenceMs:   float64(res.Elapsed.Microseconds()) / 1000,
		Detections:    append(res.Detections[:0:0], res.Detections...),
	}
	m.latestDetection = &result

	m.detectionHistory = append([]DetectionResult{result}, m.detectionHistory...)
	if len(m.detectionHistory) > m.historySize {
		m.detectionHistory = m.detectionHistory[:m.historySize]
	}
	return &result
}

func (m *Monitor) tickFPSLocked() {
	m.fpsWindowCount++
	if elapsed := time.Since(m.fpsWindowStart); elapsed >= time.Second {
		m.currentFPS = float64(m.fpsWindowCount) / elapsed.Seconds()
		m.fpsWindowCount = 0
		m.fpsWindowStart = time.Now()
	}
}

// Snapshot returns the current status.
func (m *Monitor) Snapshot() StatusResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesProcessed: m.framesProcessed,
		FramesAnnotated: m.framesAnnotated,
		CurrentFPS:      m.currentFPS,
		TargetFPS:       m.targetFPS,
	}

	var latest *DetectionResult
	if m.latestDetection != nil {
		copied := *m.latestDetection
		latest = &copied
		stats.DetectionCount = copied.NumDetections
	}

	historyCopy := make([]DetectionResult, len(m.detectionHistory))
	copy(historyCopy, m.detectionHistory)

	return StatusResponse{
		Model:            m.model,
		Settings:         Settings{DisplayThreshold: m.displayThreshold},
		Monitor:          stats,
		LatestDetection:  latest,
		DetectionHistory: historyCopy,
		Timestamp:        float64(time.Now().Unix()),
	}
}
