package battery

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SysfsSource reads an IIO ADC channel such as
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type SysfsSource struct {
	path string
}

// NewSysfsSource returns a Source reading path.
func NewSysfsSource(path string) *SysfsSource {
	return &SysfsSource{path: path}
}

func (s *SysfsSource) Read() (uint16, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read adc: %w", err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid adc value %q: %w", strings.TrimSpace(string(data)), err)
	}
	return uint16(v), nil
}

// FixedSource always returns the same value. It stands in for the ADC on
// hosts that have none.
type FixedSource uint16

func (f FixedSource) Read() (uint16, error) {
	return uint16(f), nil
}
