package servo

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Driver is the minimal capability the servo code needs from a PWM backend.
//
// Configure binds pin to a PWM channel, applies timing and enables output. It
// is called once at startup. WriteLevel has no acknowledgement from the
// hardware; an error means the write never reached the peripheral.
//
// Close should be best-effort and leave the output disabled.
type Driver interface {
	Configure(pin int, cfg PWMConfig) error
	WriteLevel(pin int, level Level) error
	Close() error
}

// Backend names accepted by OpenDriver.
const (
	BackendSysfs   = "sysfs"
	BackendGPIOD   = "gpiod"
	BackendPeriph  = "periph"
	BackendMachine = "machine"
	BackendDryRun  = "dryrun"
)

var ErrUnsupportedBackend = errors.New("servo: backend unsupported on this platform")

// DriverOptions selects and parameterizes a backend.
type DriverOptions struct {
	Backend string
	// SysfsChip optionally pins the sysfs pwmchip (e.g. "pwmchip0").
	SysfsChip string
	// PinName is the periph.io pin name; defaults to "GPIO<pin>".
	PinName string
}

var (
	openSysfsFn   = openSysfs
	openGPIOFn    = openGPIO
	openPeriphFn  = openPeriph
	openMachineFn = openMachine
)

// OpenDriver returns the backend named by opts.Backend. The driver is not yet
// configured.
func OpenDriver(opts DriverOptions) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendSysfs, "":
		return openSysfsFn(opts)
	case BackendGPIOD:
		return openGPIOFn(opts)
	case BackendPeriph:
		return openPeriphFn(opts)
	case BackendMachine:
		return openMachineFn(opts)
	case BackendDryRun:
		return NewDryRun(), nil
	default:
		return nil, configErr("backend", "unknown backend %q", opts.Backend)
	}
}

// DryRun logs writes instead of touching hardware. It is used on development
// machines and by the status API tests.
type DryRun struct {
	mu     sync.Mutex
	cfg    map[int]PWMConfig
	levels map[int]Level
	writes int
}

func NewDryRun() *DryRun {
	return &DryRun{cfg: make(map[int]PWMConfig), levels: make(map[int]Level)}
}

func (d *DryRun) Configure(pin int, cfg PWMConfig) error {
	if pin < 0 {
		return configErr("pin", "negative pin %d", pin)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg[pin] = cfg
	log.Printf("servo dryrun: pin=%d configured %.2f Hz (div=%v wrap=%d)", pin, cfg.FrequencyHz(), cfg.Divisor, cfg.Wrap)
	return nil
}

func (d *DryRun) WriteLevel(pin int, level Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg, ok := d.cfg[pin]
	if !ok {
		return fmt.Errorf("servo dryrun: pin %d not configured", pin)
	}
	if level > Level(cfg.Wrap) {
		level = Level(cfg.Wrap)
	}
	d.levels[pin] = level
	d.writes++
	return nil
}

// Level returns the last level written to pin.
func (d *DryRun) Level(pin int) (Level, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.levels[pin]
	return l, ok
}

// Writes returns the number of successful writes.
func (d *DryRun) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

func (d *DryRun) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for pin := range d.levels {
		d.levels[pin] = 0
	}
	return nil
}
