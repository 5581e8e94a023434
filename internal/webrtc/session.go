package webrtc

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/logger"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/metrics"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/pipeline"
)

// SessionStats are per-session frame counters.
type SessionStats struct {
	Received uint64 `json:"frames_received"`
	Sent     uint64 `json:"frames_sent"`
	Dropped  uint64 `json:"frames_dropped"`
	Errors   uint64 `json:"errors"`
}

// Session is one browser-camera connection with its own worker goroutine.
// Frames are processed one at a time and returned in arrival order.
type Session struct {
	id       string
	peerConn *webrtc.PeerConnection

	stage   *pipeline.Stage
	metrics *metrics.Metrics
	sink    pipeline.Sink
	camera  string

	sendMu    sync.Mutex
	send      func([]byte) error
	frameChan chan []byte
	closeChan chan struct{}
	closeOnce sync.Once

	received atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64
	errors   atomic.Uint64
}

func newSession(id string, stage *pipeline.Stage, m *metrics.Metrics, sink pipeline.Sink, camera string) *Session {
	return &Session{
		id:        id,
		stage:     stage,
		metrics:   m,
		sink:      sink,
		camera:    camera,
		frameChan: make(chan []byte, sessionBuffer),
		closeChan: make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) attach(dc *webrtc.DataChannel) {
	s.setSender(dc.Send)
	dc.OnOpen(func() {
		logger.Info("WebRTC", "Session %s frames channel open", s.id)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			return
		}
		s.enqueue(msg.Data)
	})
}

func (s *Session) setSender(send func([]byte) error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.send = send
}

func (s *Session) sender() func([]byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.send
}

// enqueue hands a frame to the worker, dropping it if the worker is behind.
func (s *Session) enqueue(data []byte) {
	s.received.Add(1)
	select {
	case <-s.closeChan:
		return
	default:
	}
	select {
	case s.frameChan <- data:
	default:
		s.dropped.Add(1)
		s.metrics.FramesDropped.Add(1)
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.closeChan:
			return
		case data := <-s.frameChan:
			s.handle(data)
		}
	}
}

// handle always answers a frame, with the input bytes if it could not be
// annotated, so the browser's in-flight frame is released.
func (s *Session) handle(data []byte) {
	out, res, err := s.stage.AnnotateJPEG("WebRTC", data)
	if err != nil {
		s.errors.Add(1)
		logger.Debug("WebRTC", "Session %s frame echoed unannotated: %v", s.id, err)
	}

	if send := s.sender(); send != nil {
		if sendErr := send(out); sendErr != nil {
			s.errors.Add(1)
			logger.Debug("WebRTC", "Session %s send failed: %v", s.id, sendErr)
			return
		}
		s.sent.Add(1)
	}

	if err == nil && s.sink != nil {
		s.sink.Publish(s.camera, out, res)
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closeChan)
		if s.peerConn != nil {
			s.peerConn.Close()
		}
	})
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Received: s.received.Load(),
		Sent:     s.sent.Load(),
		Dropped:  s.dropped.Load(),
		Errors:   s.errors.Load(),
	}
}
