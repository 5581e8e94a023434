package webrtc

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/annotate"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/capture"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/metrics"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/pipeline"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

type collectSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *collectSink) Publish(camera string, jpeg []byte, res annotate.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, jpeg)
}

func (c *collectSink) waitFor(n int) int {
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.frames)
		c.mu.Unlock()
		if got >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func disabledStage() *pipeline.Stage {
	return pipeline.NewStage(annotate.NewProcessor(nil), nil, 80)
}

func browserOffer(t *testing.T) []byte {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	ordered := true
	if _, err := pc.CreateDataChannel(FramesLabel, &webrtc.DataChannelInit{Ordered: &ordered}); err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	data, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestHandleOfferRejectsMalformed(t *testing.T) {
	s := NewServer(nil, 2, disabledStage(), nil, nil)
	defer s.Close()

	tests := []struct {
		name string
		body string
	}{
		{"not json", "v=0 hello"},
		{"answer instead of offer", `{"type":"answer","sdp":"v=0"}`},
		{"empty sdp", `{"type":"offer","sdp":""}`},
		{"garbage sdp", `{"type":"offer","sdp":"not sdp at all"}`},
	}
	for _, tt := range tests {
		if _, err := s.HandleOffer([]byte(tt.body)); !errors.Is(err, ErrInvalidOffer) {
			t.Errorf("%s: err = %v, want ErrInvalidOffer", tt.name, err)
		}
	}
	if n := s.SessionCount(); n != 0 {
		t.Fatalf("SessionCount = %d after rejected offers", n)
	}
}

func TestHandleOfferSessionLimit(t *testing.T) {
	m := metrics.New()
	s := NewServer([]string{DefaultSTUN}, 1, disabledStage(), m, nil)
	defer s.Close()

	answer, err := s.HandleOffer(browserOffer(t))
	if err != nil {
		t.Fatalf("first offer: %v", err)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil || desc.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer = %s (%v)", answer, err)
	}

	if _, err := s.HandleOffer(browserOffer(t)); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("second offer: err = %v, want ErrSessionLimit", err)
	}
	if got := m.TotalSessions.Load(); got != 1 {
		t.Fatalf("TotalSessions = %d", got)
	}

	s.Close()
	if n := s.SessionCount(); n != 0 {
		t.Fatalf("SessionCount = %d after Close", n)
	}
	if got := m.ActiveSessions.Load(); got != 0 {
		t.Fatalf("ActiveSessions = %d after Close", got)
	}
}

func TestSessionReturnsFramesInOrder(t *testing.T) {
	sink := &collectSink{}
	sess := newSession("test", disabledStage(), metrics.New(), sink, "browser")

	var mu sync.Mutex
	var sent [][]byte
	sess.setSender(func(b []byte) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, b)
		return nil
	})

	var inputs [][]byte
	for i := 0; i < 3; i++ {
		f := types.NewFrame(32, 24)
		f.Data[0] = byte(i * 60)
		jpeg, err := capture.EncodeJPEG(f, 90)
		if err != nil {
			t.Fatalf("EncodeJPEG: %v", err)
		}
		inputs = append(inputs, jpeg)
	}

	go sess.run()
	defer sess.close()

	for i, in := range inputs {
		sess.enqueue(in)
		// One at a time so nothing is dropped.
		deadline := time.Now().Add(2 * time.Second)
		for sess.Stats().Sent < uint64(i+1) && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != len(inputs) {
		t.Fatalf("sent %d frames, want %d", len(sent), len(inputs))
	}
	for i := range inputs {
		// Disabled processor: the exact input bytes come back.
		if !bytes.Equal(sent[i], inputs[i]) {
			t.Errorf("frame %d changed or out of order", i)
		}
	}
	if n := sink.waitFor(len(inputs)); n != len(inputs) {
		t.Errorf("sink got %d frames", n)
	}
}

func TestSessionDropsWhenBehind(t *testing.T) {
	m := metrics.New()
	sess := newSession("test", disabledStage(), m, nil, "browser")
	defer sess.close()

	// No worker running: the buffer fills and the rest are dropped.
	for i := 0; i < sessionBuffer+3; i++ {
		sess.enqueue([]byte{byte(i)})
	}
	stats := sess.Stats()
	if stats.Received != sessionBuffer+3 || stats.Dropped != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	if got := m.FramesDropped.Load(); got != 3 {
		t.Fatalf("FramesDropped = %d", got)
	}
}

func TestSessionEchoesUndecodableFrames(t *testing.T) {
	sink := &collectSink{}
	sess := newSession("test", disabledStage(), metrics.New(), sink, "browser")
	var sent [][]byte
	sess.setSender(func(b []byte) error { sent = append(sent, b); return nil })

	junk := []byte("not a jpeg")
	sess.handle(junk)
	if len(sent) != 1 || !bytes.Equal(sent[0], junk) {
		t.Fatalf("sent = %q, want the input echoed once", sent)
	}
	stats := sess.Stats()
	if stats.Errors != 1 || stats.Sent != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if n := sink.waitFor(0); n != 0 {
		t.Fatalf("undecodable frame published to %d viewers", n)
	}
}

func TestRegisterDropsEndedConnection(t *testing.T) {
	m := metrics.New()
	s := NewServer(nil, 1, disabledStage(), m, nil)
	defer s.Close()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	if err := pc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sess := newSession("ended", disabledStage(), m, nil, "browser")
	sess.peerConn = pc
	if err := s.register(sess); err == nil {
		t.Fatalf("register accepted a closed connection")
	}
	if n := s.SessionCount(); n != 0 {
		t.Fatalf("SessionCount = %d, slot still held", n)
	}
	if got := m.ActiveSessions.Load(); got != 0 {
		t.Fatalf("ActiveSessions = %d", got)
	}
}
