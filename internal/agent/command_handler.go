package agent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"rgblight/internal/core"
	"rgblight/internal/metrics"
	"rgblight/internal/output"
)

var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Publisher fans attribute values out to the control surfaces.
type Publisher interface {
	Publish(ev core.Event)
}

// PersistScheduler arms the debounced flush.
type PersistScheduler interface {
	Schedule()
}

// Provisioner engages or disengages the firmware update session.
type Provisioner interface {
	SetActive(active bool) error
}

// effects are the side effects of one endpoint write, run after the state
// lock is released.
type effects struct {
	echo    []core.Attribute
	persist bool
	gate    *bool
}

// endpoint is one entry of the dispatch table. apply runs under the state
// lock with the already length-checked payload.
type endpoint struct {
	size  int
	apply func(h *CommandHandler, v *core.Values, data []byte) effects
}

var endpoints = map[core.Attribute]endpoint{
	core.AttrMode:              {size: 1, apply: (*CommandHandler).setMode},
	core.AttrPrimaryColor:      {size: core.ColorSize, apply: (*CommandHandler).setPrimaryColor},
	core.AttrSecondaryColor:    {size: core.ColorSize, apply: (*CommandHandler).setSecondaryColor},
	core.AttrPower:             {size: 1, apply: (*CommandHandler).setPower},
	core.AttrSpeed:             {size: 1, apply: (*CommandHandler).setSpeed},
	core.AttrRainbowBrightness: {size: 1, apply: (*CommandHandler).setRainbowBrightness},
	core.AttrProvisioning:      {size: 1, apply: (*CommandHandler).setProvisioning},
}

// CommandHandler turns control endpoint writes into state mutations plus
// hardware output, echo notifications and persistence.
type CommandHandler struct {
	state   *core.State
	sink    output.Sink
	pub     Publisher
	persist PersistScheduler
	gate    Provisioner
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// pubMu orders echoes so the last one out carries the current state.
	pubMu sync.Mutex
}

// NewCommandHandler wires a handler. gate and m may be nil.
func NewCommandHandler(state *core.State, sink output.Sink, pub Publisher, persist PersistScheduler, gate Provisioner, m *metrics.Metrics, logger zerolog.Logger) *CommandHandler {
	return &CommandHandler{
		state:   state,
		sink:    sink,
		pub:     pub,
		persist: persist,
		gate:    gate,
		metrics: m,
		logger:  logger,
	}
}

// Write applies one endpoint write. A payload of the wrong length is
// rejected with core.ErrInvalidLength and leaves the state untouched;
// out-of-range values are clamped.
func (h *CommandHandler) Write(attr core.Attribute, data []byte) error {
	err := h.write(attr, data)
	h.metrics.EndpointWrite(attr.String(), err)
	if err != nil {
		h.logger.Warn().Err(err).Str("endpoint", attr.String()).Hex("data", data).Msg("Rejected write")
	}
	return err
}

func (h *CommandHandler) write(attr core.Attribute, data []byte) error {
	ep, ok := endpoints[attr]
	if !ok {
		return fmt.Errorf("%s: %w", attr, ErrUnknownEndpoint)
	}
	if len(data) != ep.size {
		return fmt.Errorf("%s: got %d bytes, want %d: %w", attr, len(data), ep.size, core.ErrInvalidLength)
	}

	var fx effects
	v := h.state.Apply(func(v *core.Values) {
		fx = ep.apply(h, v, data)
	})

	h.logger.Debug().Str("endpoint", attr.String()).Hex("data", data).Msg("Endpoint written")

	var err error
	if fx.gate != nil && h.gate != nil {
		if err = h.gate.SetActive(*fx.gate); err != nil {
			err = fmt.Errorf("%s: %w", attr, err)
		}
		h.metrics.SetProvisioning(v.Provisioning)
	}

	h.echo(fx.echo)
	if fx.persist && h.persist != nil {
		h.persist.Schedule()
	}
	return err
}

// echo publishes attrs from a snapshot taken under pubMu, so concurrent
// writers cannot leave an older value published after a newer one.
func (h *CommandHandler) echo(attrs []core.Attribute) {
	if len(attrs) == 0 {
		return
	}
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	cur := h.state.Snapshot()
	for _, a := range attrs {
		h.pub.Publish(core.Event{Attribute: a, Value: cur.Encode(a)})
	}
}

func (h *CommandHandler) setMode(v *core.Values, data []byte) effects {
	v.SetMode(core.Mode(data[0]))
	h.sink.Write(v.Output())
	return effects{
		echo:    []core.Attribute{core.AttrMode, core.AttrPrimaryColor, core.AttrPower},
		persist: true,
	}
}

func (h *CommandHandler) setPrimaryColor(v *core.Values, data []byte) effects {
	c, _ := core.DecodeColor(data)
	v.Primary = c
	v.PowerOn = true
	h.sink.Write(v.Output())
	return effects{
		echo:    []core.Attribute{core.AttrPrimaryColor, core.AttrPower},
		persist: true,
	}
}

func (h *CommandHandler) setSecondaryColor(v *core.Values, data []byte) effects {
	c, _ := core.DecodeColor(data)
	wasOn := v.PowerOn
	v.Secondary = c
	v.PowerOn = true
	if !wasOn || (v.Mode == core.ModeStrobe && v.Cursor.StrobeSecondary) {
		h.sink.Write(v.Output())
	}
	return effects{
		echo:    []core.Attribute{core.AttrSecondaryColor, core.AttrPower},
		persist: true,
	}
}

func (h *CommandHandler) setPower(v *core.Values, data []byte) effects {
	v.PowerOn = data[0] != 0
	h.sink.Write(v.Output())
	return effects{echo: []core.Attribute{core.AttrPower}}
}

func (h *CommandHandler) setSpeed(v *core.Values, data []byte) effects {
	wasOn := v.PowerOn
	v.Speed = data[0]
	v.PowerOn = true
	if !wasOn {
		h.sink.Write(v.Output())
	}
	return effects{
		echo:    []core.Attribute{core.AttrSpeed, core.AttrPower},
		persist: true,
	}
}

func (h *CommandHandler) setRainbowBrightness(v *core.Values, data []byte) effects {
	wasOn := v.PowerOn
	v.RainbowBrightness = data[0]
	v.PowerOn = true
	if !wasOn || v.Mode == core.ModeRainbow {
		h.sink.Write(v.Output())
	}
	return effects{
		echo:    []core.Attribute{core.AttrRainbowBrightness, core.AttrPower},
		persist: true,
	}
}

func (h *CommandHandler) setProvisioning(v *core.Values, data []byte) effects {
	active := data[0] != 0
	v.Provisioning = active
	return effects{
		echo: []core.Attribute{core.AttrProvisioning},
		gate: &active,
	}
}
