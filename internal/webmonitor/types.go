package webmonitor

import (
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

// DetectionResult is one processed frame as reported by the status and SSE APIs.
type DetectionResult struct {
	Camera        string            `json:"camera"`
	FrameNumber   uint64            `json:"frame_number"`
	Timestamp     float64           `json:"timestamp"`
	NumDetections int               `json:"num_detections"`
	Version       int               `json:"version"`
	InferenceMs   float64           `json:"inference_ms"`
	Detections    []types.Detection `json:"detections"`
}

// ModelStatus reports whether overlays are being drawn.
type ModelStatus struct {
	State              string  `json:"state"`
	Error              string  `json:"error,omitempty"`
	InferenceThreshold float64 `json:"inference_threshold"`
}

// MonitorStats summarises frame traffic.
type MonitorStats struct {
	FramesProcessed uint64  `json:"frames_processed"`
	FramesAnnotated uint64  `json:"frames_annotated"`
	CurrentFPS      float64 `json:"current_fps"`
	DetectionCount  int     `json:"detection_count"`
	TargetFPS       int     `json:"target_fps"`
	ActiveSessions  int     `json:"active_sessions"`
	Viewers         int     `json:"viewers"`
}

// Settings is the payload of /api/settings.
type Settings struct {
	DisplayThreshold float64 `json:"display_threshold"`
}

// StatusResponse is the payload of /api/status.
type StatusResponse struct {
	Camera           string            `json:"camera"`
	Model            ModelStatus       `json:"model"`
	Settings         Settings          `json:"settings"`
	Monitor          MonitorStats      `json:"monitor"`
	LatestDetection  *DetectionResult  `json:"latest_detection"`
	DetectionHistory []DetectionResult `json:"detection_history"`
	Timestamp        float64           `json:"timestamp"`
}
