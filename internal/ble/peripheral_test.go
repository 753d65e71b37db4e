package ble

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	"rgblight/internal/core"
)

type recordingHandler struct {
	attrs []core.Attribute
	data  [][]byte
}

func (r *recordingHandler) Write(attr core.Attribute, data []byte) error {
	r.attrs = append(r.attrs, attr)
	r.data = append(r.data, data)
	return nil
}

func TestLayoutCoversEveryAttributeOnce(t *testing.T) {
	seen := make(map[core.Attribute]int)
	uuids := make(map[bluetooth.UUID]core.Attribute)
	for _, svc := range layout {
		for _, attr := range svc.attrs {
			seen[attr]++
			u, ok := CharacteristicUUID(attr)
			if !ok {
				t.Fatalf("%s has no characteristic UUID", attr)
			}
			if prev, dup := uuids[u]; dup {
				t.Errorf("%s and %s share UUID %s", prev, attr, u)
			}
			uuids[u] = attr
		}
	}
	for _, attr := range core.Attributes {
		if seen[attr] != 1 {
			t.Errorf("%s appears %d times", attr, seen[attr])
		}
	}
}

func TestPermissions(t *testing.T) {
	if permissions(core.AttrBattery)&bluetooth.CharacteristicWritePermission != 0 {
		t.Error("battery level must not be writable")
	}
	if permissions(core.AttrBattery)&bluetooth.CharacteristicNotifyPermission == 0 {
		t.Error("battery level must notify")
	}
	for _, attr := range core.Attributes {
		if !attr.Writable() {
			continue
		}
		if permissions(attr) != writable {
			t.Errorf("%s permissions = %v", attr, permissions(attr))
		}
	}
}

func TestOnWriteForwardsCopy(t *testing.T) {
	p := NewPeripheral("test", zerolog.Nop())
	h := &recordingHandler{}
	p.SetHandler(h)

	buf := []byte{1}
	p.onWrite(core.AttrMode, 0, buf)
	buf[0] = 2

	if len(h.attrs) != 1 || h.attrs[0] != core.AttrMode {
		t.Fatalf("handler got %v", h.attrs)
	}
	if !bytes.Equal(h.data[0], []byte{1}) {
		t.Errorf("handler saw a buffer aliased to the stack: %v", h.data[0])
	}

	p.onWrite(core.AttrMode, 3, []byte{1})
	if len(h.attrs) != 1 {
		t.Error("offset write was forwarded")
	}
}

func TestRadioBeforeStart(t *testing.T) {
	p := NewPeripheral("Desk", zerolog.Nop())
	p.Notify(core.AttrPower, []byte{1})

	if err := p.EnterProvisioning(); err != nil {
		t.Fatal(err)
	}
	if got := p.advertisement().LocalName; got != "Desk OTA" {
		t.Errorf("provisioning name = %q", got)
	}
	if err := p.ExitProvisioning(); err != nil {
		t.Fatal(err)
	}
	opts := p.advertisement()
	if opts.LocalName != "Desk" || len(opts.ServiceUUIDs) != 2 {
		t.Errorf("normal advertisement = %+v", opts)
	}
}

func TestAppCharacteristicUUIDs(t *testing.T) {
	tests := []struct {
		attr core.Attribute
		want string
	}{
		{core.AttrMode, "20103538-ff6b-4c7f-9aba-36a32be2c7c2"},
		{core.AttrPrimaryColor, "5903b942-0ce7-42c2-a29f-ff434521fbe2"},
		{core.AttrSecondaryColor, "f42275ed-b762-4e9d-b0c4-2e01d37ae2fd"},
		{core.AttrPower, "c9af1949-4275-46ec-9d63-f01fe45e9477"},
		{core.AttrSpeed, "74d51f60-ed42-4f82-b189-0fab7ffa7cd9"},
		{core.AttrProvisioning, "1e2b6f32-a786-441c-acc9-6e2e5637cfb3"},
	}
	for _, tt := range tests {
		t.Run(tt.attr.String(), func(t *testing.T) {
			got, ok := CharacteristicUUID(tt.attr)
			if !ok || got != mustParse(tt.want) {
				t.Errorf("CharacteristicUUID(%s) = %v, want %s", tt.attr, got, tt.want)
			}
		})
	}

	brightness, _ := CharacteristicUUID(core.AttrRainbowBrightness)
	for _, tt := range tests {
		if brightness == mustParse(tt.want) {
			t.Errorf("brightness reuses the %s UUID", tt.attr)
		}
	}
}
