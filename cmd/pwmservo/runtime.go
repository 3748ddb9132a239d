package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"pwmservo/internal/config"
	"pwmservo/internal/servo"
	"pwmservo/internal/udp"
	"pwmservo/internal/web"
)

type servoRuntime struct {
	cfg    config.Config
	status *web.Status
	svc    *servo.Service
	tel    *udp.Telemetry
}

func servoConfig(c config.ServoConfig) servo.Config {
	return servo.Config{
		Driver: servo.DriverOptions{
			Backend:   c.Backend,
			SysfsChip: c.SysfsChip,
			PinName:   c.PinName,
		},
		Pin: c.PinNumber(),
		PWM: servo.PWMConfig{
			ClockHz:     c.PWM.ClockHz,
			Divisor:     c.PWM.Divisor,
			Wrap:        c.PWM.Wrap,
			CounterBits: c.PWM.CounterBits,
		},
		Calibration: servo.Calibration{
			Pulse0US:   c.Calibration.Pulse0US,
			Pulse90US:  c.Calibration.Pulse90US,
			Pulse180US: c.Calibration.Pulse180US,
		},
		Step:      servo.Level(c.Step),
		StepDelay: c.StepDelay,
		Hold:      c.Hold,
		Pause:     c.Pause,
		Cycles:    c.Cycles,
	}
}

func newServoRuntime(ctx context.Context, cfg config.Config, status *web.Status) (*servoRuntime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}
	if status == nil {
		return nil, fmt.Errorf("status is nil")
	}
	r := &servoRuntime{cfg: c, status: status}

	// Telemetry is optional; the servo runs without it.
	if dest := strings.TrimSpace(c.Telemetry.Dest); dest != "" {
		tel, err := udp.NewTelemetry(dest, c.Telemetry.MaxRateHz)
		if err != nil {
			log.Printf("telemetry init failed: %v", err)
		} else {
			r.tel = tel
			status.SetTelemetryDest(dest)
		}
	}

	sc := servoConfig(c.Servo)
	sc.OnWrite = r.onWrite
	r.svc = servo.New(sc)
	if err := r.svc.Start(ctx); err != nil {
		r.closeTelemetry()
		return nil, err
	}
	return r, nil
}

func (r *servoRuntime) onWrite(ev servo.Event) {
	if r.tel == nil {
		return
	}
	sent, err := r.tel.SendEvent(ev)
	if err != nil {
		log.Printf("telemetry send failed: %v", err)
		return
	}
	if sent {
		r.status.MarkTelemetrySent()
	}
}

func (r *servoRuntime) Service() *servo.Service { return r.svc }

func (r *servoRuntime) Done() <-chan struct{} { return r.svc.Done() }

func (r *servoRuntime) closeTelemetry() {
	if r.tel == nil {
		return
	}
	if err := r.tel.Close(); err != nil {
		log.Printf("telemetry close: %v", err)
	}
}

// Close stops the program, disables the output and then closes telemetry.
func (r *servoRuntime) Close() {
	r.svc.Close()
	r.closeTelemetry()
}

// waitForShutdown returns when ctx ends. If the program finishes or is stopped
// over the API first, it returns right away unless keepServing is set, in
// which case the status API stays up until ctx ends.
func waitForShutdown(ctx context.Context, done <-chan struct{}, keepServing bool) {
	select {
	case <-ctx.Done():
		return
	case <-done:
	}
	if !keepServing {
		return
	}
	log.Printf("servo program ended; status api still serving")
	<-ctx.Done()
}
