//go:build linux && (arm || arm64) && !baremetal

package servo

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// sysfsPWM drives hardware PWM channels via /sys/class/pwm.
//
// On Raspberry Pi this needs `dtoverlay=pwm-2chan` (or equivalent) so the
// header pins show up as channels under a pwmchip.
//
// The kernel works in nanoseconds, so the counter model is translated:
// period = 1e9 / FrequencyHz, duty = level / Wrap * period.
type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pinMap   map[int]int

	mu       sync.Mutex
	channels map[int]*sysfsChannel // keyed by BCM pin
}

type sysfsChannel struct {
	index    int
	path     string // /sys/class/pwm/pwmchipN/pwmM
	wrap     uint32
	periodNS uint64
}

var pwmSysfsBase = "/sys/class/pwm"

func openSysfs(opts DriverOptions) (Driver, error) {
	chipPath, err := findPWMChip(opts.SysfsChip)
	if err != nil {
		return nil, err
	}
	model := boardModelFn()
	if model != "" {
		log.Printf("servo: sysfs pwm on %s (%s)", chipPath, model)
	}
	return &sysfsPWM{
		chipPath: chipPath,
		pinMap:   pinChannelsForModel(model),
		channels: make(map[int]*sysfsChannel),
	}, nil
}

func findPWMChip(preferredChip string) (string, error) {
	base := pwmSysfsBase
	if preferredChip != "" {
		chip := filepath.Join(base, preferredChip)
		if _, err := readInt(filepath.Join(chip, "npwm")); err != nil {
			return "", fmt.Errorf("servo: sysfs chip %s: %w", chip, err)
		}
		return chip, nil
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("servo: read %s: %w", base, err)
	}

	preferred := []string{"pwmchip0", "pwmchip1", "pwmchip2"}
	// pwmchipN entries are commonly symlinks, not directories.
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			seen[e.Name()] = true
		}
	}
	candidates := make([]string, 0, len(seen))
	for _, name := range preferred {
		if seen[name] {
			candidates = append(candidates, name)
			delete(seen, name)
		}
	}
	for _, e := range entries {
		if seen[e.Name()] {
			candidates = append(candidates, e.Name())
		}
	}

	for _, name := range candidates {
		chip := filepath.Join(base, name)
		n, rerr := readInt(filepath.Join(chip, "npwm"))
		if rerr != nil || n <= 0 {
			continue
		}
		return chip, nil
	}
	return "", fmt.Errorf("servo: no sysfs pwmchip found (is pwm overlay enabled?)")
}

func (d *sysfsPWM) Configure(pin int, cfg PWMConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	idx, ok := d.pinMap[pin]
	if !ok {
		return configErr("pin", "gpio %d has no hardware pwm channel", pin)
	}
	d.mu.Lock()
	for other, ch := range d.channels {
		if other != pin && ch.index == idx {
			d.mu.Unlock()
			return configErr("pin", "gpio %d shares pwm channel %d with gpio %d", pin, idx, other)
		}
	}
	d.mu.Unlock()
	f := cfg.FrequencyHz()
	periodNS := uint64(math.Round(1e9 / f))
	if periodNS == 0 {
		return configErr("frequency", "%.3f Hz is too high for sysfs pwm", f)
	}

	ch := &sysfsChannel{
		index:    idx,
		path:     filepath.Join(d.chipPath, fmt.Sprintf("pwm%d", idx)),
		wrap:     cfg.Wrap,
		periodNS: periodNS,
	}
	if err := d.ensureExported(ch); err != nil {
		return err
	}

	// Disable and zero duty before changing period; the kernel rejects a
	// period shorter than the current duty.
	_ = ch.writeBool("enable", false)
	_ = ch.writeUint("duty_cycle", 0)
	if err := ch.writeUint("period", periodNS); err != nil {
		return fmt.Errorf("servo: set sysfs period: %w", err)
	}
	if err := ch.writeBool("enable", true); err != nil {
		return fmt.Errorf("servo: enable sysfs pwm: %w", err)
	}

	d.mu.Lock()
	d.channels[pin] = ch
	d.mu.Unlock()
	return nil
}

func (d *sysfsPWM) WriteLevel(pin int, level Level) error {
	d.mu.Lock()
	ch := d.channels[pin]
	d.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("servo: sysfs pin %d not configured", pin)
	}
	return ch.writeUint("duty_cycle", ch.dutyNS(level))
}

func (c *sysfsChannel) dutyNS(level Level) uint64 {
	if level > Level(c.wrap) {
		level = Level(c.wrap)
	}
	ns := uint64(math.Round(float64(level) / float64(c.wrap) * float64(c.periodNS)))
	if ns > c.periodNS {
		ns = c.periodNS
	}
	return ns
}

func (d *sysfsPWM) ensureExported(ch *sysfsChannel) error {
	if _, err := os.Stat(ch.path); err == nil {
		return nil
	}
	exportPath := filepath.Join(d.chipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(ch.index)); err != nil {
		// Already exported by someone else.
		if _, statErr := os.Stat(ch.path); statErr == nil {
			return nil
		}
		return fmt.Errorf("servo: export pwm: %w", err)
	}

	// Wait briefly for the sysfs node to appear.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(ch.path); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(ch.path); err != nil {
		return fmt.Errorf("servo: pwm path not created after export: %w", err)
	}
	return nil
}

func (d *sysfsPWM) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for pin, ch := range d.channels {
		// A servo with no pulses goes limp instead of holding position.
		_ = ch.writeUint("duty_cycle", 0)
		if err := ch.writeBool("enable", false); err != nil {
			errs = append(errs, err)
		}
		delete(d.channels, pin)
	}
	return errors.Join(errs...)
}

func (c *sysfsChannel) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(c.path, name), strconv.FormatUint(v, 10))
}

func (c *sysfsChannel) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(c.path, name), val)
}

var sysfsRetryWindow = 2 * time.Second

func writeSysfs(path string, value string) error {
	// O_WRONLY without O_TRUNC/O_CREATE: some sysfs attributes reject
	// truncation. Right after export udev may still be fixing permissions,
	// so EACCES/ENOENT are retried for a short window.
	deadline := time.Now().Add(sysfsRetryWindow)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
				time.Sleep(25 * time.Millisecond)
				continue
			}
			return err
		}
		_, werr := f.WriteString(value)
		cerr := f.Close()
		if werr == nil && cerr == nil {
			return nil
		}
		lastErr := werr
		if lastErr == nil {
			lastErr = cerr
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(lastErr) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return errors.Join(werr, cerr)
	}
}

func isRetryableSysfsErr(err error) bool {
	return errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBUSY)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}
