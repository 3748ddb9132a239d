//go:build linux && (arm || arm64) && !baremetal

package servo

import (
	"os"
	"strings"
)

var modelPaths = []string{
	"/sys/firmware/devicetree/base/model",
	"/proc/device-tree/model",
}

var boardModelFn = boardModel

// boardModel returns the device-tree model string, or "" when unknown.
func boardModel() string {
	for _, p := range modelPaths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		model := strings.Trim(strings.TrimSpace(string(b)), "\x00")
		if model != "" {
			return model
		}
	}
	return ""
}

// pinChannelsForModel maps BCM pins to pwm-2chan channel indices.
// The Pi 5 routes PWM through RP1, which exposes four channels.
func pinChannelsForModel(model string) map[int]int {
	if strings.Contains(model, "Raspberry Pi 5") {
		return map[int]int{12: 0, 13: 1, 18: 2, 19: 3}
	}
	return map[int]int{12: 0, 18: 0, 13: 1, 19: 1}
}
