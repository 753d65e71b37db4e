// Package battery turns raw ADC samples into a battery percentage.
package battery

import (
	"fmt"

	"github.com/rs/zerolog"

	"rgblight/internal/core"
	"rgblight/internal/mathx"
)

// Source returns one raw analog sample on demand.
type Source interface {
	Read() (uint16, error)
}

// Band is the raw-count range mapped onto 0..100 percent.
type Band struct {
	Low  uint16
	High uint16
}

// Calibration bands measured on the original hardware. The cell sags while
// the LEDs draw current, so the powered band sits lower.
var (
	IdleBand    = Band{Low: 3000, High: 3900}
	PoweredBand = Band{Low: 2800, High: 3700}
)

// DefaultWindow is the number of samples averaged before mapping.
const DefaultWindow = 10

// Percent maps raw onto b and clamps to [0,100].
func (b Band) Percent(raw uint16) uint8 {
	return uint8(mathx.MapRange(int64(raw), int64(b.Low), int64(b.High), 0, 100))
}

// Publisher receives the battery attribute when it changes.
type Publisher interface {
	Publish(ev core.Event)
}

// Sampler reads the source, smooths it and updates the device state.
type Sampler struct {
	state     *core.State
	source    Source
	publisher Publisher
	idle      Band
	powered   Band
	logger    zerolog.Logger
	onSample  func(raw uint16, percent uint8)

	// guarded by the state lock
	window   []uint16
	next     int
	filled   int
	reported bool
}

// Config configures a Sampler.
type Config struct {
	Idle    Band
	Powered Band
	Window  int
}

// NewSampler creates a Sampler. Zero-valued config fields take the
// package defaults.
func NewSampler(state *core.State, source Source, publisher Publisher, cfg Config, logger zerolog.Logger) *Sampler {
	if cfg.Idle == (Band{}) {
		cfg.Idle = IdleBand
	}
	if cfg.Powered == (Band{}) {
		cfg.Powered = PoweredBand
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Sampler{
		state:     state,
		source:    source,
		publisher: publisher,
		idle:      cfg.Idle,
		powered:   cfg.Powered,
		window:    make([]uint16, cfg.Window),
		logger:    logger,
	}
}

// OnSample registers an observer for every successful sample.
func (s *Sampler) OnSample(fn func(raw uint16, percent uint8)) {
	s.onSample = fn
}

// Sample takes one reading. It returns the current percentage and whether
// it changed and was published.
func (s *Sampler) Sample() (uint8, bool, error) {
	raw, err := s.source.Read()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Battery read failed")
		return 0, false, fmt.Errorf("reading battery: %w", err)
	}

	changed := false
	v := s.state.Apply(func(v *core.Values) {
		s.window[s.next] = raw
		s.next = (s.next + 1) % len(s.window)
		if s.filled < len(s.window) {
			s.filled++
		}

		var sum uint32
		for i := 0; i < s.filled; i++ {
			sum += uint32(s.window[i])
		}
		mean := uint16(sum / uint32(s.filled))

		band := s.idle
		if v.PowerOn {
			band = s.powered
		}
		percent := band.Percent(mean)

		if !s.reported || percent != v.BatteryPercent {
			v.BatteryPercent = percent
			s.reported = true
			changed = true
		}
	})

	if s.onSample != nil {
		s.onSample(raw, v.BatteryPercent)
	}
	if changed {
		s.logger.Debug().Uint8("percent", v.BatteryPercent).Uint16("raw", raw).Msg("Battery level changed")
		s.publisher.Publish(core.Event{Attribute: core.AttrBattery, Value: v.Encode(core.AttrBattery)})
	}
	return v.BatteryPercent, changed, nil
}
