package web

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"pwmservo/internal/servo"
)

type fakeServo struct {
	snap   servo.Snapshot
	closed atomic.Bool
}

func (f *fakeServo) Snapshot() servo.Snapshot { return f.snap }
func (f *fakeServo) Close()                   { f.closed.Store(true) }

func TestAPIStatus(t *testing.T) {
	st := NewStatus()
	st.SetTelemetryDest("127.0.0.1:4010")
	st.MarkTelemetrySent()
	ctl := &fakeServo{snap: servo.Snapshot{Backend: "dryrun", Pin: 22, Level: 976, Phase: servo.PhaseSweepUp}}

	ts := httptest.NewServer(Handler(st, nil, ctl))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "pwmservo" {
		t.Fatalf("service=%q", snap.Service)
	}
	if snap.TelemetryDest != "127.0.0.1:4010" || snap.TelemetrySent != 1 {
		t.Fatalf("telemetry=%q/%d", snap.TelemetryDest, snap.TelemetrySent)
	}
	if snap.Servo == nil || snap.Servo.Level != 976 || snap.Servo.Phase != servo.PhaseSweepUp {
		t.Fatalf("servo=%+v", snap.Servo)
	}
}

func TestAPIStatus_MethodNotAllowed(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus(), nil, nil))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestAPIServoStop(t *testing.T) {
	ctl := &fakeServo{}
	ts := httptest.NewServer(Handler(NewStatus(), nil, ctl))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/servo/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("post stop: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if !ctl.closed.Load() {
		t.Fatalf("servo not stopped")
	}
}

func TestAPIServoStop_NoServo(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus(), nil, nil))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/servo/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("post stop: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestAPILogs(t *testing.T) {
	logs := NewLogBuffer(10)
	l := log.New(logs, "", 0)
	l.Printf("servo: moving to 180 degrees (2400 us)")
	l.Printf("servo: sweeping smoothly to 0 degrees")

	ts := httptest.NewServer(Handler(NewStatus(), logs, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?tail=1")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()
	var out LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(out.Lines) != 1 || out.Lines[0] != "servo: sweeping smoothly to 0 degrees" {
		t.Fatalf("lines=%v", out.Lines)
	}

	resp2, err := http.Get(ts.URL + "/api/logs?tail=0")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d want 400", resp2.StatusCode)
	}
}
