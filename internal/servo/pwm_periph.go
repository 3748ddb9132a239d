//go:build !tinygo

package servo

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// periphPWM drives pins through periph.io, which picks the right host
// driver (bcm283x, allwinner, sysfs) at runtime.
type periphPWM struct {
	pinName string

	mu   sync.Mutex
	pins map[int]*periphChannel
}

type periphChannel struct {
	pin  gpio.PinIO
	freq physic.Frequency
	wrap uint32
}

var (
	hostInitFn  = func() error { _, err := host.Init(); return err }
	pinByNameFn = gpioreg.ByName
)

func openPeriph(opts DriverOptions) (Driver, error) {
	if err := hostInitFn(); err != nil {
		return nil, fmt.Errorf("servo: periph host init: %w", err)
	}
	return &periphPWM{pinName: opts.PinName, pins: make(map[int]*periphChannel)}, nil
}

func (d *periphPWM) Configure(pin int, cfg PWMConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	name := d.pinName
	if name == "" {
		name = fmt.Sprintf("GPIO%d", pin)
	}
	p := pinByNameFn(name)
	if p == nil {
		return configErr("pin", "periph has no pin named %q", name)
	}
	freq := physic.Frequency(cfg.FrequencyHz() * float64(physic.Hertz))
	if freq <= 0 {
		return configErr("frequency", "%.3f Hz is not representable", cfg.FrequencyHz())
	}
	// Start with the output idle; the first WriteLevel emits pulses.
	if err := p.PWM(0, freq); err != nil {
		return configErr("pin", "%s cannot generate pwm: %v", name, err)
	}

	d.mu.Lock()
	d.pins[pin] = &periphChannel{pin: p, freq: freq, wrap: cfg.Wrap}
	d.mu.Unlock()
	return nil
}

func (d *periphPWM) WriteLevel(pin int, level Level) error {
	d.mu.Lock()
	ch := d.pins[pin]
	d.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("servo: periph pin %d not configured", pin)
	}
	if err := ch.pin.PWM(periphDuty(level, ch.wrap), ch.freq); err != nil {
		return fmt.Errorf("servo: periph pwm %s: %w", ch.pin.Name(), err)
	}
	return nil
}

func (d *periphPWM) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for pin, ch := range d.pins {
		errs = append(errs, ch.pin.Halt(), ch.pin.Out(gpio.Low))
		delete(d.pins, pin)
	}
	return errors.Join(errs...)
}

// periphDuty rescales a counter level to periph's fixed-point duty.
func periphDuty(level Level, wrap uint32) gpio.Duty {
	if wrap == 0 {
		return 0
	}
	if level > Level(wrap) {
		level = Level(wrap)
	}
	return gpio.Duty(uint64(level) * uint64(gpio.DutyMax) / uint64(wrap))
}
