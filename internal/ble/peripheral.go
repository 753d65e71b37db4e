// Package ble exposes the light as a GATT peripheral: one characteristic per
// control endpoint plus the standard battery service.
package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	"rgblight/internal/core"
)

// Handler receives endpoint writes from connected centrals.
type Handler interface {
	Write(attr core.Attribute, data []byte) error
}

// Peripheral owns the adapter, the GATT characteristics and advertising.
// It is also the update gate's radio: provisioning re-advertises the OTA
// service alone under a distinct name.
type Peripheral struct {
	adapter    *bluetooth.Adapter
	name       string
	retryDelay time.Duration
	logger     zerolog.Logger

	mu           sync.Mutex
	handler      Handler
	chars        map[core.Attribute]*bluetooth.Characteristic
	adv          *bluetooth.Advertisement
	advertised   *bool // radio mode the advertisement is configured for
	connected    int
	provisioning bool
}

// NewPeripheral creates a peripheral on the default adapter. Nothing touches
// the radio until Start.
func NewPeripheral(name string, logger zerolog.Logger) *Peripheral {
	return &Peripheral{
		adapter:    bluetooth.DefaultAdapter,
		name:       name,
		retryDelay: 5 * time.Second,
		logger:     logger,
		chars:      make(map[core.Attribute]*bluetooth.Characteristic),
	}
}

// SetHandler sets the endpoint write handler.
func (p *Peripheral) SetHandler(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Start enables the adapter, registering the services with initial as the
// readable values, and begins advertising. Enabling is retried until ctx is
// cancelled.
func (p *Peripheral) Start(ctx context.Context, initial core.Values) error {
	for {
		err := p.adapter.Enable()
		if err == nil {
			break
		}
		p.logger.Warn().Err(err).Dur("retry_in", p.retryDelay).Msg("Failed to enable adapter")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retryDelay):
		}
	}

	p.adapter.SetConnectHandler(p.onConnect)

	for _, svc := range layout {
		if err := p.addService(svc, initial); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.adv = p.adapter.DefaultAdvertisement()
	err := p.advertiseLocked()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.logger.Info().Str("name", p.name).Msg("Advertising")
	return nil
}

func (p *Peripheral) addService(svc serviceLayout, initial core.Values) error {
	configs := make([]bluetooth.CharacteristicConfig, 0, len(svc.attrs))
	handles := make(map[core.Attribute]*bluetooth.Characteristic, len(svc.attrs))

	for _, attr := range svc.attrs {
		attr := attr
		handle := &bluetooth.Characteristic{}
		handles[attr] = handle
		cfg := bluetooth.CharacteristicConfig{
			Handle: handle,
			UUID:   characteristicUUIDs[attr],
			Value:  initial.Encode(attr),
			Flags:  permissions(attr),
		}
		if attr.Writable() {
			cfg.WriteEvent = func(client bluetooth.Connection, offset int, value []byte) {
				p.onWrite(attr, offset, value)
			}
		}
		configs = append(configs, cfg)
	}

	if err := p.adapter.AddService(&bluetooth.Service{UUID: svc.uuid, Characteristics: configs}); err != nil {
		return fmt.Errorf("failed to add service %s: %w", svc.uuid, err)
	}

	p.mu.Lock()
	for attr, h := range handles {
		p.chars[attr] = h
	}
	p.mu.Unlock()
	return nil
}

// onWrite forwards a central's write. Partial (offset) writes are not part
// of any endpoint's format and are dropped.
func (p *Peripheral) onWrite(attr core.Attribute, offset int, value []byte) {
	if offset != 0 {
		p.logger.Warn().Str("endpoint", attr.String()).Int("offset", offset).Msg("Ignoring offset write")
		return
	}
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		return
	}
	data := append([]byte(nil), value...)
	// Errors are logged by the handler; the central gets no response payload.
	_ = h.Write(attr, data)
}

// Notify updates the characteristic value and notifies subscribed centrals.
// It implements core.Sink.
func (p *Peripheral) Notify(attr core.Attribute, value []byte) {
	p.mu.Lock()
	ch := p.chars[attr]
	p.mu.Unlock()
	if ch == nil {
		return
	}
	if _, err := ch.Write(value); err != nil {
		p.logger.Debug().Err(err).Str("attribute", attr.String()).Msg("Notify failed")
	}
}

// onConnect keeps advertising after every connection change so further
// centrals can attach.
func (p *Peripheral) onConnect(device bluetooth.Device, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if connected {
		p.connected++
	} else if p.connected > 0 {
		p.connected--
	}
	p.logger.Info().Bool("connected", connected).Int("clients", p.connected).Msg("Connection changed")

	if err := p.advertiseLocked(); err != nil {
		p.logger.Error().Err(err).Msg("Failed to restart advertising")
	}
}

// Connected returns the number of connected centrals.
func (p *Peripheral) Connected() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// EnterProvisioning advertises only the OTA service.
func (p *Peripheral) EnterProvisioning() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provisioning = true
	return p.advertiseLocked()
}

// ExitProvisioning restores normal advertising.
func (p *Peripheral) ExitProvisioning() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provisioning = false
	return p.advertiseLocked()
}

func (p *Peripheral) advertisement() bluetooth.AdvertisementOptions {
	if p.provisioning {
		return bluetooth.AdvertisementOptions{
			LocalName:    p.name + " OTA",
			ServiceUUIDs: []bluetooth.UUID{OTAServiceUUID},
		}
	}
	return bluetooth.AdvertisementOptions{
		LocalName:    p.name,
		ServiceUUIDs: []bluetooth.UUID{ModeServiceUUID, BatteryServiceUUID},
	}
}

// advertiseLocked (re)starts advertising for the current radio mode,
// reconfiguring only when the mode changed. Before Start it only records
// the mode.
func (p *Peripheral) advertiseLocked() error {
	if p.adv == nil {
		return nil
	}
	_ = p.adv.Stop()
	if p.advertised == nil || *p.advertised != p.provisioning {
		if err := p.adv.Configure(p.advertisement()); err != nil {
			return fmt.Errorf("failed to configure advertisement: %w", err)
		}
		mode := p.provisioning
		p.advertised = &mode
	}
	if err := p.adv.Start(); err != nil {
		return fmt.Errorf("failed to start advertising: %w", err)
	}
	return nil
}

// Stop stops advertising.
func (p *Peripheral) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.adv == nil {
		return nil
	}
	return p.adv.Stop()
}
