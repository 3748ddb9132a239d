package servo

import (
	"context"
	"log"
	"time"
)

// Phase names what the program is doing right now.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseHold      Phase = "hold"
	PhaseSweepUp   Phase = "sweep_up"
	PhaseSweepDown Phase = "sweep_down"
	PhasePause     Phase = "pause"
	PhaseDone      Phase = "done"
)

// Program is the demo routine: hold 180, 90 and 0 degrees, then sweep
// between 0 and 180 degrees until cancelled or Cycles sweeps round trips
// complete.
type Program struct {
	PWM         PWMConfig
	Calibration Calibration

	// Step is the duty increment per sweep write, in counter units.
	Step Level
	// StepDelay is the wait between sweep writes.
	StepDelay time.Duration
	// Hold is how long each startup position is held.
	Hold time.Duration
	// Pause is the wait after each sweep.
	Pause time.Duration
	// Cycles bounds the number of 0->180->0 round trips; 0 repeats forever.
	Cycles int
	// HoldAngles overrides the startup positions (default 180, 90, 0).
	HoldAngles []float64

	// OnPhase, when set, is called on every phase change.
	OnPhase func(phase Phase, targetDeg float64)
	// OnCycle, when set, is called after each completed round trip.
	OnCycle func(n int)
}

var defaultHoldAngles = []float64{180, 90, 0}

func (p *Program) phase(ph Phase, deg float64) {
	if p.OnPhase != nil {
		p.OnPhase(ph, deg)
	}
}

// Run executes the program on seq. It returns nil when Cycles complete and
// ctx.Err() when cancelled.
func (p *Program) Run(ctx context.Context, seq *Sequencer) error {
	holds := p.HoldAngles
	if holds == nil {
		holds = defaultHoldAngles
	}
	for _, deg := range holds {
		pulse := p.Calibration.PulseUS(deg)
		log.Printf("servo: moving to %.0f degrees (%.0f us)", deg, pulse)
		p.phase(PhaseHold, deg)
		if err := seq.SetPosition(p.PWM.Duty(pulse)); err != nil {
			return err
		}
		if err := sleepCtx(ctx, p.Hold); err != nil {
			return err
		}
	}

	lo := p.Calibration.Duty(p.PWM, 0)
	hi := p.Calibration.Duty(p.PWM, 180)
	for n := 1; p.Cycles <= 0 || n <= p.Cycles; n++ {
		log.Printf("servo: sweeping smoothly to 180 degrees")
		p.phase(PhaseSweepUp, 180)
		if err := seq.Sweep(ctx, lo, hi, p.Step, p.StepDelay); err != nil {
			return err
		}
		p.phase(PhasePause, 180)
		if err := sleepCtx(ctx, p.Pause); err != nil {
			return err
		}

		log.Printf("servo: sweeping smoothly to 0 degrees")
		p.phase(PhaseSweepDown, 0)
		if err := seq.Sweep(ctx, hi, lo, p.Step, p.StepDelay); err != nil {
			return err
		}
		p.phase(PhasePause, 0)
		if err := sleepCtx(ctx, p.Pause); err != nil {
			return err
		}
		if p.OnCycle != nil {
			p.OnCycle(n)
		}
	}
	p.phase(PhaseDone, 0)
	return nil
}
