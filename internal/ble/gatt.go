package ble

import (
	"tinygo.org/x/bluetooth"

	"rgblight/internal/core"
)

// GATT layout. 128-bit UUIDs match the ones the phone app ships with,
// except the rainbow brightness characteristic, which the app does not know.
var (
	ModeServiceUUID = mustParse("d6694b21-880d-4b4a-adae-256cc1f01e7b")
	OTAServiceUUID  = mustParse("e3414eb0-bfa8-41f6-a3ee-db0b722e5807")

	BatteryServiceUUID = bluetooth.New16BitUUID(0x180F)
	BatteryLevelUUID   = bluetooth.New16BitUUID(0x2A19)

	characteristicUUIDs = map[core.Attribute]bluetooth.UUID{
		core.AttrMode:              mustParse("20103538-ff6b-4c7f-9aba-36a32be2c7c2"),
		core.AttrPrimaryColor:      mustParse("5903b942-0ce7-42c2-a29f-ff434521fbe2"),
		core.AttrSecondaryColor:    mustParse("f42275ed-b762-4e9d-b0c4-2e01d37ae2fd"),
		core.AttrPower:             mustParse("c9af1949-4275-46ec-9d63-f01fe45e9477"),
		core.AttrSpeed:             mustParse("74d51f60-ed42-4f82-b189-0fab7ffa7cd9"),
		core.AttrRainbowBrightness: mustParse("8a3f5b12-6c0e-4d3b-9f27-1c5e2d4a7b90"), // assigned here, not app-compatible
		core.AttrProvisioning:      mustParse("1e2b6f32-a786-441c-acc9-6e2e5637cfb3"),
		core.AttrBattery:           BatteryLevelUUID,
	}
)

const (
	writable = bluetooth.CharacteristicReadPermission |
		bluetooth.CharacteristicWritePermission |
		bluetooth.CharacteristicWriteWithoutResponsePermission |
		bluetooth.CharacteristicNotifyPermission
	readOnly = bluetooth.CharacteristicReadPermission |
		bluetooth.CharacteristicNotifyPermission
)

func mustParse(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// serviceLayout groups attributes into their GATT services.
type serviceLayout struct {
	uuid  bluetooth.UUID
	attrs []core.Attribute
}

var layout = []serviceLayout{
	{
		uuid: ModeServiceUUID,
		attrs: []core.Attribute{
			core.AttrMode,
			core.AttrPrimaryColor,
			core.AttrSecondaryColor,
			core.AttrPower,
			core.AttrSpeed,
			core.AttrRainbowBrightness,
		},
	},
	{uuid: BatteryServiceUUID, attrs: []core.Attribute{core.AttrBattery}},
	{uuid: OTAServiceUUID, attrs: []core.Attribute{core.AttrProvisioning}},
}

// CharacteristicUUID returns the UUID carrying attr.
func CharacteristicUUID(attr core.Attribute) (bluetooth.UUID, bool) {
	u, ok := characteristicUUIDs[attr]
	return u, ok
}

func permissions(attr core.Attribute) bluetooth.CharacteristicPermissions {
	if attr.Writable() {
		return writable
	}
	return readOnly
}
