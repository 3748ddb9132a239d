package udp

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pwmservo/internal/servo"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Telemetry sends one JSON datagram per servo write so a monitor on the
// network can plot motion. Sweeps write every few milliseconds, so datagrams
// beyond MaxRate are dropped rather than queued.
type Telemetry struct {
	dest string

	mu      sync.Mutex
	conn    udpConn
	limiter *rate.Limiter
	dropped uint64
}

type Datagram struct {
	Type     string      `json:"type"`
	Pin      int         `json:"pin"`
	Level    servo.Level `json:"level"`
	AngleDeg float64     `json:"angle_deg"`
	Phase    servo.Phase `json:"phase"`
	TimeUTC  string      `json:"time_utc"`
}

// NewTelemetry dials dest. maxRateHz <= 0 disables rate limiting.
func NewTelemetry(dest string, maxRateHz float64) (*Telemetry, error) {
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	}
	return newTelemetry(dest, maxRateHz, net.ResolveUDPAddr, dial)
}

func newTelemetry(dest string, maxRateHz float64, resolve resolveFunc, dial dialFunc) (*Telemetry, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if maxRateHz > 0 {
		lim = rate.NewLimiter(rate.Limit(maxRateHz), 1)
	}
	return &Telemetry{dest: dest, conn: conn, limiter: lim}, nil
}

func (t *Telemetry) Dest() string { return t.dest }

// Dropped returns how many events were skipped by the rate limit.
func (t *Telemetry) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// SendEvent encodes ev and writes it. It reports whether a datagram was sent.
func (t *Telemetry) SendEvent(ev servo.Event) (bool, error) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return false, fmt.Errorf("telemetry closed")
	}
	if !t.limiter.AllowN(at, 1) {
		t.dropped++
		return false, nil
	}
	b, err := json.Marshal(Datagram{
		Type:     "servo",
		Pin:      ev.Pin,
		Level:    ev.Level,
		AngleDeg: ev.AngleDeg,
		Phase:    ev.Phase,
		TimeUTC:  at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return false, err
	}
	if _, err := t.conn.Write(append(b, '\n')); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Telemetry) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
