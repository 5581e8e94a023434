package webmonitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/annotate"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/logger"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

const (
	statusInterval = 2 * time.Second
	maxOfferBytes  = 1 << 20
)

// OfferHandler answers WebRTC offers for browser-camera sessions.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	SessionCount() int
}

// Server serves the dashboard and its streaming endpoints. It is also the
// sink every annotated frame is published to.
type Server struct {
	cfg                  Config
	monitor              *Monitor
	broadcaster          *FrameBroadcaster
	detectionBroadcaster *DetectionBroadcaster
	hub                  *Hub
	offers               OfferHandler
}

// NewServer returns a configured monitor server. offers may be nil, in which
// case browser-camera sessions are unavailable.
func NewServer(cfg Config, offers OfferHandler) *Server {
	cfg = cfg.withDefaults()
	hub := NewHub()
	go hub.Run()

	return &Server{
		cfg:                  cfg,
		monitor:              NewMonitor(cfg),
		broadcaster:          NewFrameBroadcaster(),
		detectionBroadcaster: NewDetectionBroadcaster(),
		hub:                  hub,
		offers:               offers,
	}
}

// Monitor exposes the dashboard state.
func (s *Server) Monitor() *Monitor {
	return s.monitor
}

// SetOfferHandler attaches the WebRTC server once it exists.
func (s *Server) SetOfferHandler(offers OfferHandler) {
	s.offers = offers
}

// Publish records a processed frame and fans it out to MJPEG, websocket and
// SSE clients.
func (s *Server) Publish(camera string, jpeg []byte, res annotate.Result) {
	det := s.monitor.Record(camera, res)
	if len(jpeg) > 0 {
		s.broadcaster.Broadcast(jpeg)
		s.hub.Broadcast(camera, jpeg)
	}
	s.detectionBroadcaster.Publish(det)
}

// Close disconnects all streaming clients.
func (s *Server) Close() {
	s.broadcaster.Close()
	s.detectionBroadcaster.Close()
	s.hub.Close()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.pageData()); err != nil {
		logger.Error("HTTP", "Render index: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.monitor.Snapshot()
	writeJSON(w, map[string]any{
		"status": "ok",
		"model":  status.Model.State,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.cfg.MJPEGKeepalive)
}

func (s *Server) status() StatusResponse {
	status := s.monitor.Snapshot()
	status.Camera = s.cfg.CameraName
	status.Monitor.Viewers = s.hub.ViewerCount() + s.broadcaster.ClientCount()
	if s.offers != nil {
		status.Monitor.ActiveSessions = s.offers.SessionCount()
	}
	return status
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.status()); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.detectionBroadcaster.Subscribe()
	defer s.detectionBroadcaster.Unsubscribe(id)

	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamDetectionEventsFromChannel(w, r, eventCh, useProtobuf, s.cfg.SSEKeepalive)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, Settings{DisplayThreshold: s.monitor.DisplayThreshold()})

	case http.MethodPost:
		var payload struct {
			DisplayThreshold *float64 `json:"display_threshold"`
		}
		body := http.MaxBytesReader(w, r.Body, 4096)
		if err := json.NewDecoder(body).Decode(&payload); err != nil || payload.DisplayThreshold == nil {
			writeJSONWithStatus(w, map[string]any{"error": "display_threshold is required"}, http.StatusBadRequest)
			return
		}
		if err := s.monitor.SetDisplayThreshold(*payload.DisplayThreshold); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
		logger.Debug("HTTP", "Display threshold set to %.2f", *payload.DisplayThreshold)
		writeJSON(w, Settings{DisplayThreshold: s.monitor.DisplayThreshold()})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.offers == nil {
		writeJSONWithStatus(w, map[string]any{"error": "live feed sessions are not available"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOfferBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.offers.HandleOffer(body)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(answer)
	case errors.Is(err, types.ErrInvalidOffer):
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
	case errors.Is(err, types.ErrSessionLimit):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
	default:
		logger.Warn("HTTP", "WebRTC offer error: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("Failed to handle offer: %v", err)}, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
