package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/annotate"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

func TestRecordResult(t *testing.T) {
	m := New()

	m.RecordResult(annotate.Result{
		Annotated:  true,
		Detections: types.DetectionSet{{}, {}},
		Elapsed:    42 * time.Millisecond,
	})
	m.RecordResult(annotate.Result{Err: errors.New("boom"), OverBudget: true, Elapsed: 150 * time.Millisecond})
	m.RecordResult(annotate.Result{})

	checks := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"received", m.FramesReceived.Load(), 3},
		{"annotated", m.FramesAnnotated.Load(), 1},
		{"passthrough", m.FramesPassthrough.Load(), 2},
		{"detections", m.Detections.Load(), 2},
		{"errors", m.InferenceErrors.Load(), 1},
		{"overruns", m.InferenceBudgetOverruns.Load(), 1},
		{"latency", m.InferenceLatencyMs.Load(), 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestSessionsNeverUnderflow(t *testing.T) {
	m := New()
	m.SessionStarted()
	m.SessionEnded()
	m.SessionEnded()
	if got := m.ActiveSessions.Load(); got != 0 {
		t.Fatalf("ActiveSessions = %d", got)
	}
	if got := m.TotalSessions.Load(); got != 1 {
		t.Fatalf("TotalSessions = %d", got)
	}
}

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.SetModelLoaded(true)
	m.FramesDropped.Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{"sdds_model_loaded 1", "sdds_frames_dropped_total 3", "sdds_active_sessions 0"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
