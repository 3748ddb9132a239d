package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Servo     ServoConfig     `yaml:"servo"`
	Web       WebConfig       `yaml:"web"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServoConfig struct {
	// Backend is one of sysfs, gpiod, periph, machine, dryrun.
	Backend string `yaml:"backend"`
	// Pin is BCM/GPIO numbering. nil means GPIO22; 0 is a valid line.
	Pin *int `yaml:"pin"`
	// SysfsChip pins a specific /sys/class/pwm chip (e.g. pwmchip0).
	SysfsChip string `yaml:"sysfs_chip"`
	// PinName overrides the periph.io pin name (default GPIO<pin>).
	PinName string `yaml:"pin_name"`

	PWM         PWMConfig         `yaml:"pwm"`
	Calibration CalibrationConfig `yaml:"calibration"`

	// Step is the duty-level increment per sweep write.
	Step      uint32        `yaml:"step"`
	StepDelay time.Duration `yaml:"step_delay"`
	Hold      time.Duration `yaml:"hold"`
	Pause     time.Duration `yaml:"pause"`
	// Cycles bounds sweep round trips; 0 runs until stopped.
	Cycles int `yaml:"cycles"`
}

type PWMConfig struct {
	ClockHz     float64 `yaml:"clock_hz"`
	Divisor     float64 `yaml:"divisor"`
	Wrap        uint32  `yaml:"wrap"`
	CounterBits uint    `yaml:"counter_bits"`
}

type CalibrationConfig struct {
	Pulse0US   float64 `yaml:"pulse_0_us"`
	Pulse90US  float64 `yaml:"pulse_90_us"`
	Pulse180US float64 `yaml:"pulse_180_us"`
}

type WebConfig struct {
	// Listen enables the status API when set, e.g. ":8080".
	Listen   string `yaml:"listen"`
	LogLines int    `yaml:"log_lines"`
}

type TelemetryConfig struct {
	// Dest enables UDP position datagrams when set, e.g. "192.168.10.255:4010".
	Dest string `yaml:"dest"`
	// MaxRateHz caps datagrams per second; sweeps write every few ms.
	MaxRateHz float64 `yaml:"max_rate_hz"`
}

var validBackends = []string{"sysfs", "gpiod", "periph", "machine", "dryrun"}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields with the 50 Hz / SG90 defaults and
// rejects values the hardware cannot use.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	s := &cfg.Servo

	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = "sysfs"
	}
	if !contains(validBackends, s.Backend) {
		return fmt.Errorf("servo.backend must be one of %s", strings.Join(validBackends, ", "))
	}
	if s.Pin == nil {
		pin := 22
		s.Pin = &pin
	}
	if *s.Pin < 0 {
		return fmt.Errorf("servo.pin must be >= 0")
	}

	if s.PWM.ClockHz == 0 {
		s.PWM.ClockHz = 125_000_000
	}
	if s.PWM.Divisor == 0 {
		s.PWM.Divisor = 64
	}
	if s.PWM.Wrap == 0 {
		s.PWM.Wrap = 39062
	}
	if s.PWM.CounterBits == 0 && s.Backend == "machine" {
		s.PWM.CounterBits = 16
	}
	if s.PWM.ClockHz < 0 {
		return fmt.Errorf("servo.pwm.clock_hz must be > 0")
	}
	if s.PWM.Divisor < 0 {
		return fmt.Errorf("servo.pwm.divisor must be > 0")
	}
	if s.PWM.CounterBits > 32 {
		return fmt.Errorf("servo.pwm.counter_bits must be <= 32")
	}
	if s.PWM.CounterBits > 0 && s.PWM.CounterBits < 32 && uint64(s.PWM.Wrap) >= uint64(1)<<s.PWM.CounterBits {
		return fmt.Errorf("servo.pwm.wrap does not fit in %d bits", s.PWM.CounterBits)
	}

	if s.Calibration.Pulse0US == 0 {
		s.Calibration.Pulse0US = 500
	}
	if s.Calibration.Pulse90US == 0 {
		s.Calibration.Pulse90US = 1470
	}
	if s.Calibration.Pulse180US == 0 {
		s.Calibration.Pulse180US = 2400
	}
	periodUS := 1e6 * s.PWM.Divisor * (float64(s.PWM.Wrap) + 1) / s.PWM.ClockHz
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"pulse_0_us", s.Calibration.Pulse0US},
		{"pulse_90_us", s.Calibration.Pulse90US},
		{"pulse_180_us", s.Calibration.Pulse180US},
	} {
		if p.v < 0 || p.v > periodUS {
			return fmt.Errorf("servo.calibration.%s must be within the pwm period (0..%.0f us)", p.name, periodUS)
		}
	}

	if s.Step == 0 {
		s.Step = 5
	}
	if s.StepDelay <= 0 {
		s.StepDelay = 10 * time.Millisecond
	}
	if s.Hold <= 0 {
		s.Hold = 5 * time.Second
	}
	if s.Pause <= 0 {
		s.Pause = 100 * time.Millisecond
	}
	if s.Cycles < 0 {
		return fmt.Errorf("servo.cycles must be >= 0")
	}

	if cfg.Web.LogLines <= 0 {
		cfg.Web.LogLines = 2000
	}
	if l := strings.TrimSpace(cfg.Web.Listen); l != "" {
		if _, _, err := net.SplitHostPort(l); err != nil {
			return fmt.Errorf("web.listen must be host:port")
		}
	}
	if d := strings.TrimSpace(cfg.Telemetry.Dest); d != "" {
		if _, _, err := net.SplitHostPort(d); err != nil {
			return fmt.Errorf("telemetry.dest must be host:port")
		}
	}
	if cfg.Telemetry.MaxRateHz < 0 {
		return fmt.Errorf("telemetry.max_rate_hz must be >= 0")
	}
	if cfg.Telemetry.MaxRateHz == 0 {
		cfg.Telemetry.MaxRateHz = 20
	}
	return nil
}

// PinNumber returns the configured GPIO, or 22 before defaults are applied.
func (s ServoConfig) PinNumber() int {
	if s.Pin == nil {
		return 22
	}
	return *s.Pin
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
