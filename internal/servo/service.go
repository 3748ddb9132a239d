package servo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

var openDriverFn = OpenDriver

var ErrAlreadyStarted = errors.New("servo: service already started")

type Config struct {
	Driver DriverOptions

	// Pin is the GPIO number driving the servo signal line.
	Pin int
	PWM PWMConfig

	Calibration Calibration

	Step      Level
	StepDelay time.Duration
	Hold      time.Duration
	Pause     time.Duration
	Cycles    int

	// OnWrite, when set, observes every level written to the channel.
	OnWrite func(Event)
}

// Event describes one write to the servo channel.
type Event struct {
	Pin      int       `json:"pin"`
	Level    Level     `json:"level"`
	AngleDeg float64   `json:"angle_deg"`
	Phase    Phase     `json:"phase"`
	At       time.Time `json:"at_utc"`
}

type Snapshot struct {
	Backend     string  `json:"backend"`
	Pin         int     `json:"pin"`
	FrequencyHz float64 `json:"frequency_hz"`
	Wrap        uint32  `json:"wrap"`

	Running bool    `json:"running"`
	Phase   Phase   `json:"phase"`
	Target  float64 `json:"target_deg"`

	HaveLevel bool    `json:"have_level"`
	Level     Level   `json:"level"`
	AngleDeg  float64 `json:"angle_deg"`
	Writes    uint64  `json:"writes"`
	Cycles    int     `json:"cycles_completed"`

	LastUpdateAt time.Time `json:"last_update_utc,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Service owns one servo channel: it opens and configures the driver, runs
// the Program on its own goroutine and releases the hardware on Close.
type Service struct {
	cfg Config

	mu      sync.RWMutex
	snap    Snapshot
	started bool

	drvMu sync.Mutex
	drv   Driver

	wg   sync.WaitGroup
	done chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) *Service {
	if cfg.Driver.Backend == "" {
		cfg.Driver.Backend = BackendSysfs
	}
	if cfg.PWM == (PWMConfig{}) {
		cfg.PWM = DefaultPWMConfig
	}
	if cfg.Calibration == (Calibration{}) {
		cfg.Calibration = DefaultCalibration
	}
	if cfg.Step == 0 {
		cfg.Step = 5
	}
	if cfg.StepDelay < 0 {
		cfg.StepDelay = 0
	}

	s := &Service{cfg: cfg, stopCh: make(chan struct{}), done: make(chan struct{})}
	s.snap = Snapshot{
		Backend:     cfg.Driver.Backend,
		Pin:         cfg.Pin,
		FrequencyHz: cfg.PWM.FrequencyHz(),
		Wrap:        cfg.PWM.Wrap,
		Phase:       PhaseIdle,
	}
	return s
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Done is closed once the program goroutine exits.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) setState(update func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.snap)
	s.snap.LastUpdateAt = time.Now().UTC()
}

func (s *Service) setErr(err error) {
	s.setState(func(sn *Snapshot) { sn.LastError = err.Error() })
}

// Start validates the configuration, brings up the driver and launches the
// program. It does not block; configuration problems are returned directly.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("servo: service is nil")
	}
	// One program per channel; a failed Start may be retried.
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return fmt.Errorf("servo: service closed")
	default:
	}
	s.started = true
	s.mu.Unlock()

	drv, err := s.openAndConfigure()
	if err != nil {
		s.setErr(err)
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}
	s.drvMu.Lock()
	s.drv = drv
	s.drvMu.Unlock()

	log.Printf("servo: %s backend on gpio %d at %.2f Hz (div=%v wrap=%d)",
		s.cfg.Driver.Backend, s.cfg.Pin, s.cfg.PWM.FrequencyHz(), s.cfg.PWM.Divisor, s.cfg.PWM.Wrap)

	seq := NewSequencer(drv, s.cfg.Pin, s.cfg.PWM)
	seq.onWrite = s.recordWrite

	runCtx, cancel := context.WithCancel(ctx)
	s.setState(func(sn *Snapshot) { sn.Running = true })

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		defer cancel()
		s.run(runCtx, seq)
	}()

	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()
	return nil
}

func (s *Service) openAndConfigure() (Driver, error) {
	if err := s.cfg.PWM.Validate(); err != nil {
		return nil, err
	}
	if err := s.cfg.Calibration.Validate(); err != nil {
		return nil, err
	}
	drv, err := openDriverFn(s.cfg.Driver)
	if err != nil {
		return nil, err
	}
	if err := drv.Configure(s.cfg.Pin, s.cfg.PWM); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return drv, nil
}

func (s *Service) run(ctx context.Context, seq *Sequencer) {
	p := &Program{
		PWM:         s.cfg.PWM,
		Calibration: s.cfg.Calibration,
		Step:        s.cfg.Step,
		StepDelay:   s.cfg.StepDelay,
		Hold:        s.cfg.Hold,
		Pause:       s.cfg.Pause,
		Cycles:      s.cfg.Cycles,
		OnPhase: func(ph Phase, deg float64) {
			s.setState(func(sn *Snapshot) {
				sn.Phase = ph
				sn.Target = deg
			})
		},
		OnCycle: func(n int) {
			s.setState(func(sn *Snapshot) { sn.Cycles = n })
		},
	}

	err := p.Run(ctx, seq)
	s.setState(func(sn *Snapshot) {
		sn.Running = false
		if err == nil {
			sn.Phase = PhaseDone
			return
		}
		sn.Phase = PhaseIdle
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			sn.LastError = err.Error()
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("servo: program stopped: %v", err)
	}
}

func (s *Service) recordWrite(level Level) {
	angle := s.cfg.Calibration.Angle(s.cfg.PWM, level)
	now := time.Now().UTC()
	var phase Phase
	s.mu.Lock()
	s.snap.HaveLevel = true
	s.snap.Level = level
	s.snap.AngleDeg = math.Round(angle*10) / 10
	s.snap.Writes++
	s.snap.LastUpdateAt = now
	phase = s.snap.Phase
	s.mu.Unlock()

	if s.cfg.OnWrite != nil {
		s.cfg.OnWrite(Event{Pin: s.cfg.Pin, Level: level, AngleDeg: angle, Phase: phase, At: now})
	}
}

// Close stops the program between steps and releases the driver, which
// leaves the output disabled.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	// Ensure the driver is not used concurrently with Close.
	s.wg.Wait()

	s.drvMu.Lock()
	drv := s.drv
	s.drv = nil
	s.drvMu.Unlock()
	if drv != nil {
		if err := drv.Close(); err != nil {
			log.Printf("servo: driver close: %v", err)
		}
	}
}
