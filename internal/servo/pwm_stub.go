//go:build !linux || (!arm && !arm64) || baremetal

package servo

import "fmt"

func openSysfs(opts DriverOptions) (Driver, error) {
	return nil, fmt.Errorf("%w: sysfs pwm needs linux on arm", ErrUnsupportedBackend)
}

func openGPIO(opts DriverOptions) (Driver, error) {
	return nil, fmt.Errorf("%w: gpio character device needs linux on arm", ErrUnsupportedBackend)
}
