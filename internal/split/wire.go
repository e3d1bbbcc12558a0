package split

import (
	"encoding/binary"
)

// Byte-exact payload layouts shared with peripherals. All multi-byte fields
// are little-endian.
const (
	// PositionStateLen is the fixed size of a position bitmap snapshot.
	PositionStateLen = 16

	// BehaviorDevLen is the size of the NUL-terminated behavior device label
	// in a run-behavior payload.
	BehaviorDevLen = 9

	// behaviorPayloadLen = param1(4) + param2(4) + position + source + state
	// + behavior_dev.
	behaviorPayloadLen = 4 + 4 + 1 + 1 + 1 + BehaviorDevLen

	// MaxSensorChannels caps how many channel entries a sensor frame may
	// carry; longer frames are truncated.
	MaxSensorChannels = 1

	// sensorHeaderLen = sensor index + channel count.
	sensorHeaderLen = 2
	// sensorChannelLen = val1(4) + val2(4).
	sensorChannelLen = 8
)

// BehaviorInvocation is an outbound request to run a behavior on a
// peripheral.
type BehaviorInvocation struct {
	BehaviorDev string
	Param1      uint32
	Param2      uint32
	Position    uint8
	Source      uint8
	Pressed     bool
}

// Encode renders the run-behavior wire payload. The returned flag reports
// whether the behavior device label had to be truncated to fit.
func (b *BehaviorInvocation) Encode() ([]byte, bool) {
	buf := make([]byte, behaviorPayloadLen)
	binary.LittleEndian.PutUint32(buf[0:4], b.Param1)
	binary.LittleEndian.PutUint32(buf[4:8], b.Param2)
	buf[8] = b.Position
	buf[9] = b.Source
	if b.Pressed {
		buf[10] = 1
	}

	dev := []byte(b.BehaviorDev)
	truncated := len(dev) > BehaviorDevLen-1
	if truncated {
		dev = dev[:BehaviorDevLen-1]
	}
	copy(buf[11:], dev)
	// The remaining label bytes stay zero, terminating the string.
	return buf, truncated
}

// SensorChannel is one channel entry of a sensor frame, matching the
// two-field sensor value layout on the wire.
type SensorChannel struct {
	Val1 int32
	Val2 int32
}

// encodeLayers renders the update-layers payload.
func encodeLayers(layers uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, layers)
	return buf
}
