// Package animation computes time-varying output for the rainbow and strobe
// modes. Engine.Tick is called once per render-loop iteration and never
// blocks.
package animation

import (
	"time"

	"rgblight/internal/core"
	"rgblight/internal/mathx"
	"rgblight/internal/output"
)

const (
	// RainbowStep is the per-step change of the two fading channels.
	RainbowStep = 5

	// StrobeMaxInterval is the strobe period at speed 0.
	StrobeMaxInterval = 2000 * time.Millisecond
)

// RainbowInterval is the time between fade steps: (255 - speed) ms.
func RainbowInterval(speed uint8) time.Duration {
	return time.Duration(255-int(speed)) * time.Millisecond
}

// StrobeInterval maps speed 0..255 linearly onto 2000..0 ms.
func StrobeInterval(speed uint8) time.Duration {
	ms := mathx.MapRange(int64(speed), 0, 255, StrobeMaxInterval.Milliseconds(), 0)
	return time.Duration(ms) * time.Millisecond
}

// Engine advances the animation held in the device state.
type Engine struct {
	state  *core.State
	sink   output.Sink
	onStep func(mode core.Mode)
}

// NewEngine creates an engine writing to sink.
func NewEngine(state *core.State, sink output.Sink) *Engine {
	return &Engine{state: state, sink: sink}
}

// OnStep registers a callback invoked, outside the state lock, after every
// tick that changed the output.
func (e *Engine) OnStep(fn func(mode core.Mode)) {
	e.onStep = fn
}

// Tick advances the current animation to now. It is a no-op in static mode,
// while the power is off, and when less than one interval has passed since
// the last step.
func (e *Engine) Tick(now time.Time) {
	stepped := false
	v := e.state.Apply(func(v *core.Values) {
		if !v.PowerOn || v.Mode == core.ModeStatic {
			return
		}
		if v.Cursor.LastStep.IsZero() {
			v.Cursor.LastStep = now
			return
		}

		var interval time.Duration
		switch v.Mode {
		case core.ModeRainbow:
			interval = RainbowInterval(v.Speed)
		case core.ModeStrobe:
			interval = StrobeInterval(v.Speed)
		default:
			return
		}
		elapsed := now.Sub(v.Cursor.LastStep)
		if elapsed <= 0 || elapsed < interval {
			return
		}

		switch v.Mode {
		case core.ModeRainbow:
			stepRainbow(v)
		case core.ModeStrobe:
			v.Cursor.StrobeSecondary = !v.Cursor.StrobeSecondary
		}
		v.Cursor.LastStep = now
		e.sink.Write(v.Output())
		stepped = true
	})
	if stepped && e.onStep != nil {
		e.onStep(v.Mode)
	}
}

// stepRainbow raises primary[FadingUp] and lowers primary[FadingDown] by one
// step. Channels saturate at their bounds and never wrap. Both cursors move
// together when the rising channel reaches the ceiling: it becomes the next
// falling channel and its successor starts rising.
func stepRainbow(v *core.Values) {
	up, down := v.Cursor.FadingUp%3, v.Cursor.FadingDown%3

	if v.Primary[down] <= RainbowStep {
		v.Primary[down] = 0
	} else {
		v.Primary[down] -= RainbowStep
	}

	rising := uint32(v.Primary[up]) + RainbowStep
	if rising < core.MaxIntensity {
		v.Primary[up] = uint16(rising)
		return
	}
	v.Primary[up] = core.MaxIntensity
	v.Cursor.FadingDown = up
	v.Cursor.FadingUp = (up + 1) % 3
}
