package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"rgblight/internal/core"
)

const sysfsPWMPath = "/sys/class/pwm"

// PWMChannel names one sysfs PWM output, e.g. chip "pwmchip0" channel 1.
type PWMChannel struct {
	Chip    string
	Channel int
}

// SysfsPWM drives three Linux sysfs PWM channels. A 12-bit intensity is
// mapped onto the configured period as a duty cycle in nanoseconds.
type SysfsPWM struct {
	root     string
	channels [3]PWMChannel
	periodNs uint64
	logger   zerolog.Logger
	last     core.Color
	wrote    bool
}

// NewSysfsPWM exports and enables the three channels. root is normally
// /sys/class/pwm; tests pass a temporary directory.
func NewSysfsPWM(root string, channels [3]PWMChannel, periodNs uint64, logger zerolog.Logger) (*SysfsPWM, error) {
	if root == "" {
		root = sysfsPWMPath
	}
	if periodNs == 0 {
		return nil, fmt.Errorf("pwm period must be positive")
	}
	s := &SysfsPWM{root: root, channels: channels, periodNs: periodNs, logger: logger}

	for _, ch := range channels {
		chipPath := filepath.Join(root, ch.Chip)
		if _, err := os.Stat(chipPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("pwm chip %q not found at %s", ch.Chip, chipPath)
		}
		pwmPath := s.channelPath(ch)
		if _, err := os.Stat(pwmPath); os.IsNotExist(err) {
			if err := os.WriteFile(filepath.Join(chipPath, "export"), []byte(strconv.Itoa(ch.Channel)), 0644); err != nil {
				return nil, fmt.Errorf("failed to export pwm %s/%d: %w", ch.Chip, ch.Channel, err)
			}
		}
		if err := writeAttr(pwmPath, "period", strconv.FormatUint(periodNs, 10)); err != nil {
			return nil, err
		}
		if err := writeAttr(pwmPath, "duty_cycle", "0"); err != nil {
			return nil, err
		}
		if err := writeAttr(pwmPath, "enable", "1"); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *SysfsPWM) channelPath(ch PWMChannel) string {
	return filepath.Join(s.root, ch.Chip, "pwm"+strconv.Itoa(ch.Channel))
}

func writeAttr(dir, name, value string) error {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(value), 0644); err != nil {
		return fmt.Errorf("failed to write pwm %s: %w", name, err)
	}
	return nil
}

// duty converts a 12-bit intensity to a duty cycle in nanoseconds.
func (s *SysfsPWM) duty(v uint16) uint64 {
	return uint64(v) * s.periodNs / core.MaxIntensity
}

// Write sets all three duty cycles. Unchanged colours are skipped; write
// failures are logged and never returned.
func (s *SysfsPWM) Write(c core.Color) {
	if s.wrote && c == s.last {
		return
	}
	for i, ch := range s.channels {
		if s.wrote && c[i] == s.last[i] {
			continue
		}
		if err := writeAttr(s.channelPath(ch), "duty_cycle", strconv.FormatUint(s.duty(c[i]), 10)); err != nil {
			s.logger.Warn().Err(err).Str("chip", ch.Chip).Int("channel", ch.Channel).Msg("PWM write failed")
		}
	}
	s.last, s.wrote = c, true
}
