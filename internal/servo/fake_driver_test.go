package servo

import (
	"errors"
	"sync"
	"time"
)

type fakeDriver struct {
	mu         sync.Mutex
	configured map[int]PWMConfig
	writes     []Level
	closed     bool
	failAfter  int // fail writes once len(writes) reaches this; 0 disables
	onWrite    func(n int)
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{configured: make(map[int]PWMConfig)}
}

func (d *fakeDriver) Configure(pin int, cfg PWMConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configured[pin] = cfg
	return nil
}

func (d *fakeDriver) WriteLevel(pin int, level Level) error {
	d.mu.Lock()
	if d.failAfter > 0 && len(d.writes) >= d.failAfter {
		d.mu.Unlock()
		return errors.New("bus fault")
	}
	d.writes = append(d.writes, level)
	n := len(d.writes)
	cb := d.onWrite
	d.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) Writes() []Level {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Level(nil), d.writes...)
}

func (d *fakeDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// instantSleep replaces afterFn so sweeps run without real delays and records
// the requested durations.
type instantSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *instantSleep) after(d time.Duration) <-chan time.Time {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (s *instantSleep) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}
