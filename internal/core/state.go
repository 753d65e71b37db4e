package core

import (
	"sync"
	"time"
)

// Mode selects the animation behaviour of the light.
type Mode uint8

const (
	ModeStatic Mode = iota
	ModeRainbow
	ModeStrobe
)

func (m Mode) String() string {
	switch m {
	case ModeStatic:
		return "static"
	case ModeRainbow:
		return "rainbow"
	case ModeStrobe:
		return "strobe"
	default:
		return "unknown"
	}
}

// MaxIntensity is the full-scale value of one 12-bit colour channel.
const MaxIntensity = 4095

// Channel indices into a Color.
const (
	Red = iota
	Green
	Blue
)

// Color is an RGB triple of 12-bit intensities.
type Color [3]uint16

// RainbowStart is the colour every rainbow fade starts from.
var RainbowStart = Color{MaxIntensity, 0, 0}

// Scale returns c multiplied by level/255. The receiver is not modified.
func (c Color) Scale(level uint8) Color {
	var out Color
	for i, v := range c {
		out[i] = uint16(uint32(v) * uint32(level) / 255)
	}
	return out
}

// Cursor holds the animation engine's per-mode bookkeeping. It lives in the
// device state so that a mode change resets it in the same transaction.
type Cursor struct {
	FadingUp        uint8
	FadingDown      uint8
	StrobeSecondary bool
	LastStep        time.Time
}

// ResetCursor is the cursor every mode starts with.
func ResetCursor() Cursor {
	return Cursor{FadingUp: Green, FadingDown: Red}
}

// Values is the device state record. It is a plain value; share it only
// through State.
type Values struct {
	Mode              Mode
	Primary           Color
	Secondary         Color
	PowerOn           bool
	Speed             uint8
	RainbowBrightness uint8
	BatteryPercent    uint8
	Provisioning      bool
	Cursor            Cursor
}

// DefaultValues returns the state used on first boot.
func DefaultValues() Values {
	return Values{
		Mode:              ModeStatic,
		Primary:           Color{0, 1023, 0},
		Secondary:         Color{0, 0, MaxIntensity},
		PowerOn:           true,
		Speed:             128,
		RainbowBrightness: 255,
		Cursor:            ResetCursor(),
	}
}

// SetMode switches mode and resets the animation cursor. Entering rainbow
// also restarts the fade from RainbowStart.
func (v *Values) SetMode(m Mode) {
	if m > ModeStrobe {
		m = ModeStrobe
	}
	v.Mode = m
	v.Cursor = ResetCursor()
	if m == ModeRainbow {
		v.Primary = RainbowStart
	}
	v.PowerOn = true
}

// Output is the colour the hardware should currently show.
func (v Values) Output() Color {
	if !v.PowerOn {
		return Color{}
	}
	switch v.Mode {
	case ModeRainbow:
		return v.Primary.Scale(v.RainbowBrightness)
	case ModeStrobe:
		if v.Cursor.StrobeSecondary {
			return v.Secondary
		}
		return v.Primary
	default:
		return v.Primary
	}
}

// State guards the single Values record with one mutex. Multi-field
// writes such as colour triples are never observable half-applied.
type State struct {
	mu sync.Mutex
	v  Values
}

// NewState creates the process-wide state from initial values.
func NewState(initial Values) *State {
	return &State{v: initial}
}

// Snapshot returns a copy of the current values.
func (s *State) Snapshot() Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

// Apply runs fn with exclusive access to the values and returns a copy
// taken after fn returned. fn must not block on storage or the radio.
func (s *State) Apply(fn func(v *Values)) Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.v)
	return s.v
}
