package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/logger"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

// FrameBroadcaster manages fanout of JPEG frames to multiple clients.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	dropped uint64
}

// NewFrameBroadcaster creates an empty broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// ClientCount returns the number of subscribers.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Broadcast hands data to every client; slow clients skip the frame.
func (fb *FrameBroadcaster) Broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			fb.dropped++
		}
	}
}

// Close disconnects every client.
func (fb *FrameBroadcaster) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
}

// SerializedEvent holds pre-serialized data in both formats so each event is
// encoded once regardless of the number of clients.
type SerializedEvent struct {
	JSONData     []byte // JSON object
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

// DetectionBroadcaster manages fanout of detection events to SSE clients.
type DetectionBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
}

// NewDetectionBroadcaster creates an empty broadcaster.
func NewDetectionBroadcaster() *DetectionBroadcaster {
	return &DetectionBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
	}
}

// Subscribe adds a new client and returns a channel for receiving detection events.
func (db *DetectionBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := db.nextID
	db.nextID++
	ch := make(chan *SerializedEvent, 4)
	db.clients[id] = ch

	logger.Debug("DetectionBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(db.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (db *DetectionBroadcaster) Unsubscribe(id int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if ch, ok := db.clients[id]; ok {
		close(ch)
		delete(db.clients, id)
		logger.Debug("DetectionBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(db.clients))
	}
}

// ClientCount returns the number of subscribers.
func (db *DetectionBroadcaster) ClientCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.clients)
}

// Publish serializes det and fans it out. Results without detections are skipped.
func (db *DetectionBroadcaster) Publish(det *DetectionResult) {
	if det == nil || len(det.Detections) == 0 {
		return
	}
	if db.ClientCount() == 0 {
		return
	}

	event, err := serializeDetection(det)
	if err != nil {
		logger.Error("DetectionBroadcaster", "Serialize error: %v", err)
		return
	}
	db.broadcast(event)
}

func (db *DetectionBroadcaster) broadcast(event *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, ch := range db.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}

// Close disconnects every client.
func (db *DetectionBroadcaster) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for id, ch := range db.clients {
		close(ch)
		delete(db.clients, id)
	}
}

func serializeDetection(det *DetectionResult) (*SerializedEvent, error) {
	event := detectionEventMap(det)

	jsonData, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	st, err := structpb.NewStruct(event)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// detectionEventMap builds the event with only structpb-compatible values.
func detectionEventMap(det *DetectionResult) map[string]interface{} {
	return map[string]interface{}{
		"camera":       det.Camera,
		"frame_number": det.FrameNumber,
		"timestamp":    det.Timestamp,
		"inference_ms": det.InferenceMs,
		"detections":   convertDetections(det.Detections),
	}
}

func convertDetections(detections []types.Detection) []interface{} {
	result := make([]interface{}, len(detections))
	for i, d := range detections {
		result[i] = map[string]interface{}{
			"bbox": map[string]interface{}{
				"x": d.BBox.X,
				"y": d.BBox.Y,
				"w": d.BBox.W,
				"h": d.BBox.H,
			},
			"confidence": d.Confidence,
			"class_id":   d.ClassID,
			"class_name": d.ClassName,
		}
	}
	return result
}
