package servo

import (
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

func withFakePeriph(t *testing.T, pins map[string]gpio.PinIO) {
	t.Helper()
	oldInit, oldByName := hostInitFn, pinByNameFn
	hostInitFn = func() error { return nil }
	pinByNameFn = func(name string) gpio.PinIO {
		if p, ok := pins[name]; ok {
			return p
		}
		return nil
	}
	t.Cleanup(func() {
		hostInitFn = oldInit
		pinByNameFn = oldByName
	})
}

func TestPeriphDuty(t *testing.T) {
	if got := periphDuty(0, 39062); got != 0 {
		t.Fatalf("duty(0)=%v want 0", got)
	}
	if got := periphDuty(39062, 39062); got != gpio.DutyMax {
		t.Fatalf("duty(wrap)=%v want DutyMax", got)
	}
	if got := periphDuty(99999, 39062); got != gpio.DutyMax {
		t.Fatalf("duty(over)=%v want DutyMax", got)
	}
	if got := periphDuty(19531, 39062); got != gpio.DutyHalf {
		t.Fatalf("duty(half)=%v want DutyHalf", got)
	}
}

func TestPeriphPWM_ConfigureAndWrite(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO22", Num: 22}
	withFakePeriph(t, map[string]gpio.PinIO{"GPIO22": pin})

	drv, err := OpenDriver(DriverOptions{Backend: BackendPeriph})
	if err != nil {
		t.Fatalf("OpenDriver: %v", err)
	}
	if err := drv.Configure(22, DefaultPWMConfig); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := drv.WriteLevel(22, 39062); err != nil {
		t.Fatalf("WriteLevel: %v", err)
	}
	if pin.D != gpio.DutyMax {
		t.Fatalf("duty=%v want DutyMax", pin.D)
	}
	// 49.99936 Hz, truncated to periph's micro-hertz resolution.
	if pin.F < 49*physic.Hertz || pin.F > 50*physic.Hertz {
		t.Fatalf("freq=%v want ~50Hz", pin.F)
	}
}

func TestPeriphPWM_UnknownPin(t *testing.T) {
	withFakePeriph(t, nil)

	drv, err := OpenDriver(DriverOptions{Backend: BackendPeriph})
	if err != nil {
		t.Fatalf("OpenDriver: %v", err)
	}
	err = drv.Configure(22, DefaultPWMConfig)
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("err=%v want *ConfigurationError", err)
	}
}
