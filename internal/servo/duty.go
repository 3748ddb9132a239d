package servo

import (
	"fmt"
	"math"
)

// Level is a PWM counter compare value in [0, Wrap]. The output is high while
// the counter is below Level.
type Level uint32

// PWMConfig describes the timing of one PWM channel.
//
// The output frequency is ClockHz / (Divisor * (Wrap + 1)).
type PWMConfig struct {
	// ClockHz is the peripheral input clock before division.
	ClockHz float64
	// Divisor scales ClockHz down before counting.
	Divisor float64
	// Wrap is the counter top value; the counter resets after reaching it.
	Wrap uint32
	// CounterBits limits Wrap when non-zero (16 on RP2040/RP2350).
	CounterBits uint
}

// DefaultPWMConfig is the 50 Hz setup for a 125 MHz RP2040 system clock.
var DefaultPWMConfig = PWMConfig{
	ClockHz:     125_000_000,
	Divisor:     64,
	Wrap:        39062,
	CounterBits: 16,
}

// ConfigurationError reports invalid peripheral setup. It is only produced at
// startup; nothing at runtime recovers from it.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("servo: invalid %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (c PWMConfig) Validate() error {
	if !(c.ClockHz > 0) {
		return configErr("clock_hz", "must be > 0, have %v", c.ClockHz)
	}
	if !(c.Divisor > 0) {
		return configErr("divisor", "must be > 0, have %v", c.Divisor)
	}
	if c.Wrap == 0 {
		return configErr("wrap", "must be > 0")
	}
	if c.CounterBits > 0 && c.CounterBits < 32 {
		if max := uint32(1)<<c.CounterBits - 1; c.Wrap > max {
			return configErr("wrap", "%d exceeds %d-bit counter (max %d)", c.Wrap, c.CounterBits, max)
		}
	}
	return nil
}

// FrequencyHz returns the PWM output frequency.
func (c PWMConfig) FrequencyHz() float64 {
	return c.ClockHz / (c.Divisor * (float64(c.Wrap) + 1))
}

// PeriodUS returns the PWM period in microseconds.
func (c PWMConfig) PeriodUS() float64 {
	f := c.FrequencyHz()
	if f <= 0 {
		return 0
	}
	return 1e6 / f
}

// Duty converts a pulse width into a duty level for this configuration.
//
// The nominal 20000 µs servo frame is used rather than the exact counter
// period, which for the default config is 20000.256 µs; calibration values
// in the field are measured against the nominal frame.
func (c PWMConfig) Duty(pulseUS float64) Level {
	return PulseWidthToDuty(pulseUS, nominalPeriodUS(c.PeriodUS()), c.Wrap)
}

// nominalPeriodUS rounds a measured period to the nearest whole microsecond.
func nominalPeriodUS(periodUS float64) float64 {
	return math.Round(periodUS)
}

// PulseWidthToDuty maps a pulse width to a counter value:
//
//	round(pulseUS / periodUS * wrap)
//
// pulseUS is clamped to [0, periodUS] so the result always lies in [0, wrap].
func PulseWidthToDuty(pulseUS, periodUS float64, wrap uint32) Level {
	if !(periodUS > 0) || math.IsNaN(pulseUS) {
		return 0
	}
	pulseUS = clamp(pulseUS, 0, periodUS)
	d := math.Round(pulseUS / periodUS * float64(wrap))
	if d > float64(wrap) {
		d = float64(wrap)
	}
	return Level(d)
}

// Calibration holds the pulse widths that put the servo at 0, 90 and 180 degrees.
type Calibration struct {
	Pulse0US   float64
	Pulse90US  float64
	Pulse180US float64
}

// DefaultCalibration matches an SG90-class hobby servo.
var DefaultCalibration = Calibration{
	Pulse0US:   500,
	Pulse90US:  1470,
	Pulse180US: 2400,
}

func (c Calibration) Validate() error {
	if c.Pulse0US < 0 || c.Pulse90US < 0 || c.Pulse180US < 0 {
		return configErr("calibration", "pulse widths must be >= 0")
	}
	// Both orientations are allowed (reversed horns), but the points must be
	// monotonic.
	up := c.Pulse0US <= c.Pulse90US && c.Pulse90US <= c.Pulse180US
	down := c.Pulse0US >= c.Pulse90US && c.Pulse90US >= c.Pulse180US
	if !up && !down {
		return configErr("calibration", "pulse widths %v/%v/%v are not monotonic", c.Pulse0US, c.Pulse90US, c.Pulse180US)
	}
	return nil
}

// PulseUS interpolates the pulse width for angleDeg between the calibration
// points. The angle is clamped to [0, 180].
func (c Calibration) PulseUS(angleDeg float64) float64 {
	angleDeg = clamp(angleDeg, 0, 180)
	if angleDeg <= 90 {
		return remap(angleDeg, 0, 90, c.Pulse0US, c.Pulse90US)
	}
	return remap(angleDeg, 90, 180, c.Pulse90US, c.Pulse180US)
}

// Duty returns the duty level for angleDeg under cfg.
func (c Calibration) Duty(cfg PWMConfig, angleDeg float64) Level {
	return cfg.Duty(c.PulseUS(angleDeg))
}

// Angle inverts Duty, returning the approximate angle for a level.
func (c Calibration) Angle(cfg PWMConfig, level Level) float64 {
	if cfg.Wrap == 0 {
		return 0
	}
	pulse := float64(level) / float64(cfg.Wrap) * nominalPeriodUS(cfg.PeriodUS())
	lo, mid, hi := c.Pulse0US, c.Pulse90US, c.Pulse180US
	if lo > hi {
		// Reversed horn: mirror so the interpolation below stays ascending.
		lo, hi = hi, lo
		return 180 - angleBetween(pulse, lo, mid, hi)
	}
	return angleBetween(pulse, lo, mid, hi)
}

func angleBetween(pulse, lo, mid, hi float64) float64 {
	pulse = clamp(pulse, lo, hi)
	if pulse <= mid {
		if mid == lo {
			return 90
		}
		return remap(pulse, lo, mid, 0, 90)
	}
	if hi == mid {
		return 90
	}
	return remap(pulse, mid, hi, 90, 180)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func remap(value, min, max, toMin, toMax float64) float64 {
	if max == min {
		return toMin
	}
	return (value-min)/(max-min)*(toMax-toMin) + toMin
}
