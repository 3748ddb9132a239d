//go:build linux && (arm || arm64) && !baremetal

package servo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// gpiodPWM generates servo pulses in software on plain GPIO lines through the
// Linux GPIO character device. Any header pin works, at the cost of pulse
// jitter from scheduling; hobby servos tolerate a few microseconds.
type gpiodPWM struct {
	mu       sync.Mutex
	channels map[int]*softChannel
}

type softChannel struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line

	period time.Duration
	wrap   uint32
	level  atomic.Uint32

	stop chan struct{}
	done chan struct{}
}

var requestLineFn = requestLine

func openGPIO(opts DriverOptions) (Driver, error) {
	return &gpiodPWM{channels: make(map[int]*softChannel)}, nil
}

// requestLine finds GPIO<pin> on the first chip that exposes it and claims it
// as an output driven low.
func requestLine(pin int) (*gpiocdev.Chip, *gpiocdev.Line, error) {
	lineName := fmt.Sprintf("GPIO%d", pin)

	// Pi 5 kernels can expose header GPIOs on gpiochip0 or gpiochip4.
	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", e.Name()))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("pwmservo"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return chip, line, nil
	}
	return nil, nil, configErr("pin", "gpio line %q not found (or busy)", lineName)
}

func (d *gpiodPWM) Configure(pin int, cfg PWMConfig) error {
	if pin < 0 {
		return configErr("pin", "invalid gpio pin %d", pin)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	period := time.Duration(cfg.PeriodUS() * float64(time.Microsecond))
	if period < time.Millisecond {
		return configErr("frequency", "%.1f Hz is too fast for software pwm", cfg.FrequencyHz())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[pin]; ok {
		return configErr("pin", "gpio %d already configured", pin)
	}
	chip, line, err := requestLineFn(pin)
	if err != nil {
		return err
	}
	ch := &softChannel{
		chip:   chip,
		line:   line,
		period: period,
		wrap:   cfg.Wrap,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.channels[pin] = ch
	go ch.run()
	return nil
}

func (d *gpiodPWM) WriteLevel(pin int, level Level) error {
	d.mu.Lock()
	ch := d.channels[pin]
	d.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("servo: gpio %d not configured", pin)
	}
	if level > Level(ch.wrap) {
		level = Level(ch.wrap)
	}
	ch.level.Store(uint32(level))
	return nil
}

func (d *gpiodPWM) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for pin, ch := range d.channels {
		close(ch.stop)
		<-ch.done
		_ = ch.line.SetValue(0)
		errs = append(errs, ch.line.Close(), ch.chip.Close())
		delete(d.channels, pin)
	}
	return errors.Join(errs...)
}

func (c *softChannel) run() {
	defer close(c.done)
	t := time.NewTicker(c.period)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			high := softPulse(Level(c.level.Load()), c.wrap, c.period)
			if high <= 0 {
				continue
			}
			_ = c.line.SetValue(1)
			time.Sleep(high)
			_ = c.line.SetValue(0)
		}
	}
}

// softPulse returns how long the line stays high for level within one period.
func softPulse(level Level, wrap uint32, period time.Duration) time.Duration {
	if wrap == 0 {
		return 0
	}
	if level > Level(wrap) {
		level = Level(wrap)
	}
	return time.Duration(float64(period) * float64(level) / float64(wrap))
}
