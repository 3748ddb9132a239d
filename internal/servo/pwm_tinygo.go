//go:build tinygo && (rp2040 || rp2350)

package servo

import (
	"fmt"
	"machine"
)

// pwmSlice abstracts TinyGo's unexported *pwmGroup.
type pwmSlice interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// machinePWM drives the RP2040/RP2350 PWM slices directly. TinyGo derives
// its own divisor and top from the requested period, so levels are rescaled
// from Wrap to Top() on every write.
type machinePWM struct {
	channels map[int]machineChannel
}

type machineChannel struct {
	slice   pwmSlice
	channel uint8
	wrap    uint32
}

func openMachine(opts DriverOptions) (Driver, error) {
	return &machinePWM{channels: make(map[int]machineChannel)}, nil
}

func (d *machinePWM) Configure(pin int, cfg PWMConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if pin < 0 || pin > 29 {
		return configErr("pin", "gpio %d is not a pwm-capable pin", pin)
	}
	slice := sliceForPin(pin)
	period := uint64(cfg.PeriodUS() * 1000)
	if err := slice.Configure(machine.PWMConfig{Period: period}); err != nil {
		return configErr("frequency", "slice rejected period %dns: %v", period, err)
	}
	ch, err := slice.Channel(machine.Pin(pin))
	if err != nil {
		return configErr("pin", "gpio %d: %v", pin, err)
	}
	d.channels[pin] = machineChannel{slice: slice, channel: ch, wrap: cfg.Wrap}
	return nil
}

func (d *machinePWM) WriteLevel(pin int, level Level) error {
	ch, ok := d.channels[pin]
	if !ok {
		return fmt.Errorf("servo: gpio %d not configured", pin)
	}
	if level > Level(ch.wrap) {
		level = Level(ch.wrap)
	}
	top := uint64(ch.slice.Top())
	ch.slice.Set(ch.channel, uint32(uint64(level)*top/uint64(ch.wrap)))
	return nil
}

func (d *machinePWM) Close() error {
	for pin, ch := range d.channels {
		ch.slice.Set(ch.channel, 0)
		delete(d.channels, pin)
	}
	return nil
}

// sliceForPin maps GPIO N to slice (N>>1)&7; even pins are channel A.
func sliceForPin(pin int) pwmSlice {
	switch (pin >> 1) & 0x7 {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}
