package servo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var afterFn = time.After

var ErrInvalidStep = errors.New("servo: sweep step must be > 0")

// Sequencer writes duty levels to one configured channel. It is the only
// writer for that channel; concurrent calls are serialized.
type Sequencer struct {
	drv Driver
	pin int
	cfg PWMConfig

	mu sync.Mutex
	// last is the most recent level that reached the driver.
	last     Level
	haveLast bool

	// onWrite, when set, observes every successful write. Called with mu held.
	onWrite func(Level)
}

// NewSequencer wraps an already configured driver channel.
func NewSequencer(drv Driver, pin int, cfg PWMConfig) *Sequencer {
	return &Sequencer{drv: drv, pin: pin, cfg: cfg}
}

// Position returns the last level written, if any.
func (s *Sequencer) Position() (Level, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.haveLast
}

// SetPosition writes level to the channel. Levels above Wrap are clamped.
func (s *Sequencer) SetPosition(level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(level)
}

func (s *Sequencer) writeLocked(level Level) error {
	if level > Level(s.cfg.Wrap) {
		level = Level(s.cfg.Wrap)
	}
	if err := s.drv.WriteLevel(s.pin, level); err != nil {
		return fmt.Errorf("servo: write level %d to pin %d: %w", level, s.pin, err)
	}
	s.last = level
	s.haveLast = true
	if s.onWrite != nil {
		s.onWrite(level)
	}
	return nil
}

// Sweep ramps linearly from start to end, writing every step and waiting
// delay between writes. The last write is always exactly end. It returns
// ctx.Err() if cancelled between steps.
func (s *Sequencer) Sweep(ctx context.Context, start, end, step Level, delay time.Duration) error {
	if step == 0 {
		return ErrInvalidStep
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(ctx, start, end, step, delay)
}

// SweepTo ramps from the last written level to end. With nothing written yet
// it jumps straight to end.
func (s *Sequencer) SweepTo(ctx context.Context, end, step Level, delay time.Duration) error {
	if step == 0 {
		return ErrInvalidStep
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveLast {
		return s.writeLocked(end)
	}
	return s.sweepLocked(ctx, s.last, end, step, delay)
}

func (s *Sequencer) sweepLocked(ctx context.Context, start, end, step Level, delay time.Duration) error {
	wrap := Level(s.cfg.Wrap)
	if start > wrap {
		start = wrap
	}
	if end > wrap {
		end = wrap
	}

	cur := start
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeLocked(cur); err != nil {
			return err
		}
		if cur == end {
			return nil
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
		cur = nextLevel(cur, end, step)
	}
}

// Steps returns the levels Sweep writes for the given endpoints.
func Steps(start, end, step Level) []Level {
	if step == 0 {
		return nil
	}
	n := distance(start, end)/step + 2
	out := make([]Level, 0, n)
	cur := start
	for {
		out = append(out, cur)
		if cur == end {
			return out
		}
		cur = nextLevel(cur, end, step)
	}
}

// nextLevel moves cur one step toward end without passing it.
func nextLevel(cur, end, step Level) Level {
	if distance(cur, end) <= step {
		return end
	}
	if cur < end {
		return cur + step
	}
	return cur - step
}

func distance(a, b Level) Level {
	if a > b {
		return a - b
	}
	return b - a
}

// SweepDuration estimates how long Sweep blocks.
func SweepDuration(start, end, step Level, delay time.Duration) time.Duration {
	if step == 0 {
		return 0
	}
	return time.Duration(len(Steps(start, end, step))-1) * delay
}

// sleepCtx blocks for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-afterFn(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
