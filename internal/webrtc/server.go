// Package webrtc serves browser-camera live feed sessions. The browser sends
// JPEG frames over an ordered data channel named "frames"; each frame is
// annotated and sent back on the same channel.
package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/logger"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/metrics"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/pipeline"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

const (
	// FramesLabel is the data channel carrying frames in both directions.
	FramesLabel = "frames"

	// DefaultSTUN matches the dashboard's RTC configuration.
	DefaultSTUN = "stun:stun.l.google.com:19302"

	sessionBuffer = 2
)

// Signaling errors, matched by the HTTP layer with errors.Is.
var (
	ErrInvalidOffer = types.ErrInvalidOffer
	ErrSessionLimit = types.ErrSessionLimit
)

// Server manages WebRTC live feed sessions
type Server struct {
	sessions   map[string]*Session
	sessionsMu sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API

	stage   *pipeline.Stage
	metrics *metrics.Metrics
	sink    pipeline.Sink
	camera  string
}

// NewServer creates a new WebRTC server. m and sink may be nil.
func NewServer(stunServers []string, maxClients int, stage *pipeline.Stage, m *metrics.Metrics, sink pipeline.Sink) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{DefaultSTUN}}}
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	// Video stays in the data channel, so no media codecs are registered.
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	if m == nil {
		m = metrics.New()
	}

	return &Server{
		sessions: make(map[string]*Session),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		stage:      stage,
		metrics:    m,
		sink:       sink,
		camera:     "browser",
	}
}

// SetCameraName names published frames, e.g. after the dashboard feed.
func (s *Server) SetCameraName(name string) {
	s.camera = name
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("%w: expected a non-empty offer, got type %q", ErrInvalidOffer, offer.Type)
	}

	if s.SessionCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrSessionLimit, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	session := newSession(uuid.NewString(), s.stage, s.metrics, s.sink, s.camera)
	session.peerConn = peerConn

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != FramesLabel {
			logger.Debug("WebRTC", "Session %s ignoring data channel %q", session.id, dc.Label())
			return
		}
		session.attach(dc)
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Session %s connection state: %s", session.id, state.String())

		if connectionEnded(state) {
			logger.Info("WebRTC", "Session %s connection lost (%s), removing...", session.id, state.String())
			s.RemoveSession(session.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("%w: set remote description: %v", ErrInvalidOffer, err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	// Non-trickle: the answer carries every candidate.
	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for session %s", session.id)

	if err := s.register(session); err != nil {
		return nil, err
	}

	logger.Info("WebRTC", "Session %s started", session.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveSession(session.id)
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveSession(session.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// register adds session under the session limit and starts its worker. A
// peer connection that ended before it was registered is removed again, since
// its state callback found nothing to remove.
func (s *Server) register(session *Session) error {
	s.sessionsMu.Lock()
	if len(s.sessions) >= s.maxClients {
		s.sessionsMu.Unlock()
		session.close()
		return fmt.Errorf("%w (%d)", ErrSessionLimit, s.maxClients)
	}
	s.sessions[session.id] = session
	s.sessionsMu.Unlock()

	s.metrics.SessionStarted()
	go session.run()

	if state := session.peerConn.ConnectionState(); connectionEnded(state) {
		s.RemoveSession(session.id)
		return fmt.Errorf("peer connection %s before the answer was sent", state)
	}
	return nil
}

func connectionEnded(state webrtc.PeerConnectionState) bool {
	return state == webrtc.PeerConnectionStateDisconnected ||
		state == webrtc.PeerConnectionStateFailed ||
		state == webrtc.PeerConnectionStateClosed
}

// RemoveSession removes a session by ID
func (s *Server) RemoveSession(id string) {
	s.sessionsMu.Lock()
	session, exists := s.sessions[id]
	if exists {
		delete(s.sessions, id)
	}
	s.sessionsMu.Unlock()

	if !exists {
		return
	}

	session.close()
	s.metrics.SessionEnded()

	stats := session.Stats()
	logger.Info("WebRTC", "Session %s ended (received: %d, sent: %d, dropped: %d)",
		id, stats.Received, stats.Sent, stats.Dropped)
}

// SessionCount returns the number of active sessions
func (s *Server) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// SessionStats returns stats for all sessions
func (s *Server) SessionStats() map[string]SessionStats {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	stats := make(map[string]SessionStats, len(s.sessions))
	for id, session := range s.sessions {
		stats[id] = session.Stats()
	}
	return stats
}

// Close closes all sessions
func (s *Server) Close() error {
	s.sessionsMu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.sessionsMu.RUnlock()

	for _, id := range ids {
		s.RemoveSession(id)
	}
	return nil
}
