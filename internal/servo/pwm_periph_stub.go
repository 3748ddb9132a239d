//go:build tinygo

package servo

import "fmt"

func openPeriph(opts DriverOptions) (Driver, error) {
	return nil, fmt.Errorf("%w: periph.io is not available under tinygo", ErrUnsupportedBackend)
}
