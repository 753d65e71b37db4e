// Package ota hands the device over to a firmware update session and back.
package ota

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Radio switches the wireless role between normal control and provisioning.
type Radio interface {
	EnterProvisioning() error
	ExitProvisioning() error
}

// Result is the outcome of an update transfer.
type Result struct {
	Err     error
	Applied bool
}

// Transport is the external update transport. Poll must not block; it
// reports a finished transfer at most once.
type Transport interface {
	Begin() error
	End() error
	Poll() (Result, bool)
}

// Gate owns the switch between normal operation and provisioning.
type Gate struct {
	radio     Radio
	transport Transport
	logger    zerolog.Logger
	onApplied func()

	mu     sync.Mutex
	active bool
}

// NewGate creates an inactive gate. onApplied runs from Poll after a
// successful update, typically to restart into the new image.
func NewGate(radio Radio, transport Transport, onApplied func(), logger zerolog.Logger) *Gate {
	return &Gate{
		radio:     radio,
		transport: transport,
		onApplied: onApplied,
		logger:    logger,
	}
}

// Active reports whether provisioning is engaged.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// SetActive engages or disengages provisioning. Disengaging stops the
// transport unconditionally, even mid-transfer.
func (g *Gate) SetActive(active bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if active == g.active {
		return nil
	}
	if active {
		return g.enable()
	}
	return g.disable()
}

func (g *Gate) enable() error {
	if err := g.radio.EnterProvisioning(); err != nil {
		return fmt.Errorf("entering provisioning: %w", err)
	}
	if err := g.transport.Begin(); err != nil {
		if rerr := g.radio.ExitProvisioning(); rerr != nil {
			g.logger.Warn().Err(rerr).Msg("Restoring radio role failed")
		}
		return fmt.Errorf("starting update transport: %w", err)
	}
	g.active = true
	g.logger.Info().Msg("Provisioning enabled")
	return nil
}

func (g *Gate) disable() error {
	g.active = false
	var errs []error
	if err := g.transport.End(); err != nil {
		errs = append(errs, fmt.Errorf("stopping update transport: %w", err))
	}
	if err := g.radio.ExitProvisioning(); err != nil {
		errs = append(errs, fmt.Errorf("leaving provisioning: %w", err))
	}
	g.logger.Info().Msg("Provisioning disabled")
	return errors.Join(errs...)
}

// Poll services the transport. It is called on every render-loop iteration
// and returns immediately when provisioning is off or nothing happened.
func (g *Gate) Poll() {
	g.mu.Lock()
	active := g.active
	g.mu.Unlock()
	if !active {
		return
	}

	res, ok := g.transport.Poll()
	if !ok {
		return
	}
	if res.Err != nil {
		g.logger.Error().Err(res.Err).Msg("Firmware update failed")
		return
	}
	if res.Applied {
		g.logger.Info().Msg("Firmware update applied")
		if g.onApplied != nil {
			g.onApplied()
		}
	}
}

// NopRadio is used when there is no radio to switch.
type NopRadio struct{}

func (NopRadio) EnterProvisioning() error { return nil }
func (NopRadio) ExitProvisioning() error  { return nil }
