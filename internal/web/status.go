package web

import (
	"sync/atomic"
	"time"

	"pwmservo/internal/servo"
)

// ServoController is the part of servo.Service the API needs.
// Implementations must be safe to call concurrently.
type ServoController interface {
	Snapshot() servo.Snapshot
	Close()
}

type Status struct {
	startUnixNano int64
	telemetrySent uint64
	telemetryDest atomic.Value // string
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.telemetryDest.Store("")
	return s
}

func (s *Status) SetTelemetryDest(dest string) {
	s.telemetryDest.Store(dest)
}

func (s *Status) MarkTelemetrySent() {
	atomic.AddUint64(&s.telemetrySent, 1)
}

type StatusSnapshot struct {
	Service       string          `json:"service"`
	NowUTC        string          `json:"now_utc"`
	UptimeSec     int64           `json:"uptime_sec"`
	TelemetryDest string          `json:"telemetry_dest,omitempty"`
	TelemetrySent uint64          `json:"telemetry_sent_total"`
	Servo         *servo.Snapshot `json:"servo,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time, ctl ServoController) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	snap := StatusSnapshot{
		Service:       "pwmservo",
		NowUTC:        nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:     int64(nowUTC.Sub(start).Seconds()),
		TelemetryDest: s.telemetryDest.Load().(string),
		TelemetrySent: atomic.LoadUint64(&s.telemetrySent),
	}
	if ctl != nil {
		sv := ctl.Snapshot()
		snap.Servo = &sv
	}
	return snap
}
