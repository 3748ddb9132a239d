//go:build tinygo && (rp2040 || rp2350)

// Command pwmservo-pico runs the servo program directly on an RP2040/RP2350
// board: hold 180, 90 and 0 degrees, then sweep until power is removed.
package main

import (
	"context"
	"log"
	"time"

	"pwmservo/internal/servo"
)

const servoPin = 22

func main() {
	// Give the USB serial console a moment to attach before logging.
	time.Sleep(2 * time.Second)

	svc := servo.New(servo.Config{
		Driver:    servo.DriverOptions{Backend: servo.BackendMachine},
		Pin:       servoPin,
		PWM:       servo.DefaultPWMConfig,
		StepDelay: 10 * time.Millisecond,
		Hold:      5 * time.Second,
		Pause:     100 * time.Millisecond,
	})
	if err := svc.Start(context.Background()); err != nil {
		for {
			log.Printf("servo init failed: %v", err)
			time.Sleep(5 * time.Second)
		}
	}
	<-svc.Done()
	svc.Close()
	log.Printf("servo: program finished")
}
