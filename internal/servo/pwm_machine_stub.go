//go:build !tinygo || (!rp2040 && !rp2350)

package servo

import "fmt"

func openMachine(opts DriverOptions) (Driver, error) {
	return nil, fmt.Errorf("%w: machine pwm needs tinygo on rp2040/rp2350", ErrUnsupportedBackend)
}
