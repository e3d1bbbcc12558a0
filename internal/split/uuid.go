// Package split implements the central side of the split-keyboard BLE link:
// slot bookkeeping for peripherals, scan/connect orchestration, GATT
// discovery of the split service, notification decoding and the outbound
// command channel.
package split

import "github.com/go-ble/ble"

// The split protocol lives in a fixed 128-bit UUID block. Byte layouts and
// UUID assignments are the interoperability contract with peripherals and
// must not change.
var (
	// ServiceUUID identifies the split service in advertisements and during
	// primary service discovery.
	ServiceUUID = ble.MustParse("00000000-0096-7107-c967-c5cfb1c2482a")

	// PositionStateUUID notifies 16-byte key position bitmaps.
	PositionStateUUID = ble.MustParse("00000001-0096-7107-c967-c5cfb1c2482a")
	// RunBehaviorUUID accepts behavior invocation payloads (write only).
	RunBehaviorUUID = ble.MustParse("00000002-0096-7107-c967-c5cfb1c2482a")
	// SensorStateUUID notifies sensor event frames (optional capability).
	SensorStateUUID = ble.MustParse("00000003-0096-7107-c967-c5cfb1c2482a")
	// UpdateIndicatorsUUID accepts HID indicator bitmasks (optional).
	UpdateIndicatorsUUID = ble.MustParse("00000005-0096-7107-c967-c5cfb1c2482a")
	// SelectPhysLayoutUUID accepts the selected physical layout index.
	SelectPhysLayoutUUID = ble.MustParse("00000006-0096-7107-c967-c5cfb1c2482a")
	// UpdateLayersUUID accepts the active layer bitmask.
	UpdateLayersUUID = ble.MustParse("00000007-0096-7107-c967-c5cfb1c2482a")

	// BatteryLevelUUID is the standard Battery Service level characteristic.
	BatteryLevelUUID = ble.UUID16(0x2a19)
)
