package core

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Attribute identifies one readable/notifiable value of the control surface.
// Every attribute except Battery is also a writable endpoint.
type Attribute uint8

const (
	AttrMode Attribute = iota
	AttrPrimaryColor
	AttrSecondaryColor
	AttrPower
	AttrSpeed
	AttrRainbowBrightness
	AttrProvisioning
	AttrBattery
)

// Attributes lists every attribute in wire order.
var Attributes = []Attribute{
	AttrMode,
	AttrPrimaryColor,
	AttrSecondaryColor,
	AttrPower,
	AttrSpeed,
	AttrRainbowBrightness,
	AttrProvisioning,
	AttrBattery,
}

var attributeNames = map[Attribute]string{
	AttrMode:              "mode",
	AttrPrimaryColor:      "color1",
	AttrSecondaryColor:    "color2",
	AttrPower:             "power",
	AttrSpeed:             "speed",
	AttrRainbowBrightness: "brightness",
	AttrProvisioning:      "ota",
	AttrBattery:           "battery",
}

func (a Attribute) String() string {
	if name, ok := attributeNames[a]; ok {
		return name
	}
	return fmt.Sprintf("attribute(%d)", uint8(a))
}

// ParseAttribute resolves an attribute by its string name.
func ParseAttribute(name string) (Attribute, error) {
	for a, n := range attributeNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown attribute %q", name)
}

// Writable reports whether a is a control endpoint.
func (a Attribute) Writable() bool {
	return a <= AttrProvisioning
}

// ColorSize is the wire length of a colour: three little-endian uint16.
const ColorSize = 6

var ErrInvalidLength = errors.New("invalid payload length")

// EncodeColor serialises c as three little-endian uint16 values.
func EncodeColor(c Color) []byte {
	buf := make([]byte, ColorSize)
	for i, v := range c {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

// DecodeColor parses a 6-byte colour, clamping each component to
// MaxIntensity.
func DecodeColor(data []byte) (Color, error) {
	if len(data) != ColorSize {
		return Color{}, fmt.Errorf("color: got %d bytes, want %d: %w", len(data), ColorSize, ErrInvalidLength)
	}
	var c Color
	for i := range c {
		v := binary.LittleEndian.Uint16(data[i*2:])
		if v > MaxIntensity {
			v = MaxIntensity
		}
		c[i] = v
	}
	return c, nil
}

// DecodeByte parses a single-byte payload.
func DecodeByte(data []byte) (uint8, error) {
	if len(data) != 1 {
		return 0, fmt.Errorf("got %d bytes, want 1: %w", len(data), ErrInvalidLength)
	}
	return data[0], nil
}

// DecodeBool parses a single-byte boolean; any non-zero value is true.
func DecodeBool(data []byte) (bool, error) {
	b, err := DecodeByte(data)
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Encode returns the current readable value of attribute a.
func (v Values) Encode(a Attribute) []byte {
	switch a {
	case AttrMode:
		return []byte{byte(v.Mode)}
	case AttrPrimaryColor:
		return EncodeColor(v.Primary)
	case AttrSecondaryColor:
		return EncodeColor(v.Secondary)
	case AttrPower:
		return []byte{boolByte(v.PowerOn)}
	case AttrSpeed:
		return []byte{v.Speed}
	case AttrRainbowBrightness:
		return []byte{v.RainbowBrightness}
	case AttrProvisioning:
		return []byte{boolByte(v.Provisioning)}
	case AttrBattery:
		return []byte{v.BatteryPercent}
	default:
		return nil
	}
}
