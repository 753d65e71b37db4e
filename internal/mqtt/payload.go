package mqtt

import (
	"fmt"
	"strconv"
	"strings"

	"rgblight/internal/core"
	"rgblight/internal/mathx"
)

// FormatState renders an attribute's wire value as the human-readable
// payload published on <prefix>/<attr>/state.
func FormatState(attr core.Attribute, value []byte) (string, error) {
	switch attr {
	case core.AttrPrimaryColor, core.AttrSecondaryColor:
		c, err := core.DecodeColor(value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d,%d,%d", c[core.Red], c[core.Green], c[core.Blue]), nil
	}

	b, err := core.DecodeByte(value)
	if err != nil {
		return "", err
	}
	switch attr {
	case core.AttrMode:
		return core.Mode(b).String(), nil
	case core.AttrPower, core.AttrProvisioning:
		if b != 0 {
			return "ON", nil
		}
		return "OFF", nil
	default:
		return strconv.Itoa(int(b)), nil
	}
}

// ParseCommand converts a payload received on <prefix>/<attr>/set into the
// endpoint's wire bytes.
//
// Colours accept "r,g,b" with 12-bit components or "#RRGGBB", which is
// scaled up from 8 bits. Modes accept a name or a number; booleans accept
// ON/OFF, true/false and 1/0.
func ParseCommand(attr core.Attribute, payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)

	switch attr {
	case core.AttrMode:
		for _, m := range []core.Mode{core.ModeStatic, core.ModeRainbow, core.ModeStrobe} {
			if strings.EqualFold(payload, m.String()) {
				return []byte{byte(m)}, nil
			}
		}
		return parseByte(payload)
	case core.AttrPrimaryColor, core.AttrSecondaryColor:
		c, err := parseColor(payload)
		if err != nil {
			return nil, err
		}
		return core.EncodeColor(c), nil
	case core.AttrPower, core.AttrProvisioning:
		switch strings.ToLower(payload) {
		case "on", "true", "1":
			return []byte{1}, nil
		case "off", "false", "0":
			return []byte{0}, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", payload)
	case core.AttrSpeed, core.AttrRainbowBrightness:
		return parseByte(payload)
	default:
		return nil, fmt.Errorf("%s is read-only", attr)
	}
}

func parseByte(s string) ([]byte, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return []byte{byte(mathx.Clamp(n, 0, 255))}, nil
}

func parseColor(s string) (core.Color, error) {
	var c core.Color
	if hex, ok := strings.CutPrefix(s, "#"); ok {
		if len(hex) != 6 {
			return c, fmt.Errorf("invalid colour %q", s)
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return c, fmt.Errorf("invalid colour %q", s)
		}
		for i := range c {
			b := (v >> (16 - 8*uint(i))) & 0xFF
			c[i] = uint16(b * core.MaxIntensity / 255)
		}
		return c, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return c, fmt.Errorf("invalid colour %q: want r,g,b", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return c, fmt.Errorf("invalid colour %q", s)
		}
		c[i] = uint16(mathx.Clamp(n, 0, core.MaxIntensity))
	}
	return c, nil
}
