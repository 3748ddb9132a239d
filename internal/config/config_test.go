package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "servo: {}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	s := cfg.Servo
	if s.Backend != "sysfs" || s.Pin == nil || *s.Pin != 22 {
		t.Fatalf("backend=%q pin=%d", s.Backend, s.PinNumber())
	}
	if s.PWM.ClockHz != 125_000_000 || s.PWM.Divisor != 64 || s.PWM.Wrap != 39062 {
		t.Fatalf("pwm=%+v", s.PWM)
	}
	if s.Calibration.Pulse0US != 500 || s.Calibration.Pulse90US != 1470 || s.Calibration.Pulse180US != 2400 {
		t.Fatalf("calibration=%+v", s.Calibration)
	}
	if s.Step != 5 || s.StepDelay != 10*time.Millisecond {
		t.Fatalf("step=%d delay=%s", s.Step, s.StepDelay)
	}
	if s.Hold != 5*time.Second || s.Pause != 100*time.Millisecond {
		t.Fatalf("hold=%s pause=%s", s.Hold, s.Pause)
	}
	if s.Cycles != 0 {
		t.Fatalf("cycles=%d want 0", s.Cycles)
	}
	if cfg.Web.LogLines != 2000 {
		t.Fatalf("log_lines=%d", cfg.Web.LogLines)
	}
	if cfg.Telemetry.MaxRateHz != 20 {
		t.Fatalf("max_rate_hz=%v want 20", cfg.Telemetry.MaxRateHz)
	}
}

func TestLoad_ParsesValues(t *testing.T) {
	body := `servo:
  backend: DryRun
  pin: 18
  pwm:
    clock_hz: 19200000
    divisor: 192
    wrap: 1999
  calibration:
    pulse_0_us: 600
    pulse_90_us: 1500
    pulse_180_us: 2400
  step: 2
  step_delay: 20ms
  hold: 1s
  pause: 250ms
  cycles: 4
web:
  listen: ":8080"
telemetry:
  dest: "127.0.0.1:4010"
`
	cfg, err := Load(writeTempConfig(t, body))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	s := cfg.Servo
	if s.Backend != "dryrun" || s.PinNumber() != 18 || s.PWM.Wrap != 1999 {
		t.Fatalf("servo=%+v", s)
	}
	if s.StepDelay != 20*time.Millisecond || s.Hold != time.Second || s.Pause != 250*time.Millisecond {
		t.Fatalf("durations=%s/%s/%s", s.StepDelay, s.Hold, s.Pause)
	}
	if s.Cycles != 4 || s.Step != 2 {
		t.Fatalf("cycles=%d step=%d", s.Cycles, s.Step)
	}
	if cfg.Web.Listen != ":8080" || cfg.Telemetry.Dest != "127.0.0.1:4010" {
		t.Fatalf("web=%+v telemetry=%+v", cfg.Web, cfg.Telemetry)
	}
}

func TestLoad_PinZeroIsKept(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "servo:\n  backend: machine\n  pin: 0\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Servo.Pin == nil || *cfg.Servo.Pin != 0 {
		t.Fatalf("pin=%v want 0", cfg.Servo.Pin)
	}
	if got := cfg.Servo.PinNumber(); got != 0 {
		t.Fatalf("PinNumber()=%d want 0", got)
	}
}

func TestLoad_MachineBackendDefaultsTo16BitCounter(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "servo:\n  backend: machine\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Servo.PWM.CounterBits != 16 {
		t.Fatalf("counter_bits=%d want 16", cfg.Servo.PWM.CounterBits)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "UnknownBackend",
			body: "servo:\n  backend: pigpio\n",
			want: "servo.backend must be one of sysfs, gpiod, periph, machine, dryrun",
		},
		{
			name: "NegativePin",
			body: "servo:\n  pin: -1\n",
			want: "servo.pin must be >= 0",
		},
		{
			name: "NegativeDivisor",
			body: "servo:\n  pwm:\n    divisor: -2\n",
			want: "servo.pwm.divisor must be > 0",
		},
		{
			name: "WrapTooWide",
			body: "servo:\n  pwm:\n    wrap: 70000\n    counter_bits: 16\n",
			want: "servo.pwm.wrap does not fit in 16 bits",
		},
		{
			name: "PulseBeyondPeriod",
			body: "servo:\n  calibration:\n    pulse_180_us: 30000\n",
			want: "servo.calibration.pulse_180_us must be within the pwm period (0..20000 us)",
		},
		{
			name: "NegativeCycles",
			body: "servo:\n  cycles: -1\n",
			want: "servo.cycles must be >= 0",
		},
		{
			name: "BadListen",
			body: "web:\n  listen: \"8080\"\n",
			want: "web.listen must be host:port",
		},
		{
			name: "BadTelemetryDest",
			body: "telemetry:\n  dest: localhost\n",
			want: "telemetry.dest must be host:port",
		},
		{
			name: "NegativeTelemetryRate",
			body: "telemetry:\n  max_rate_hz: -1\n",
			want: "telemetry.max_rate_hz must be >= 0",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}
